// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package signer coordinates transaction and message signing with a hardware
// wallet through the pseudo-transaction protocol: the device is seeded with
// every input, shown the outputs, then asked for one signature per input.
// Package signer 通过伪交易协议协调与硬件钱包的交易和消息签名。
package signer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/log"
)

// signingPIN is the placeholder PIN sent along hash signing requests, the
// device authenticates the user itself.
const signingPIN = "0"

// messagePIN is the one byte placeholder PIN sent when signing a message.
const messagePIN byte = 0x00

// State is the progress of a signing session.
type State int

const (
	StateInit    State = iota // Nothing sent to the device yet
	StateOutputs              // Pseudo transaction seeded, outputs pending
	StateInputs               // Outputs accepted, collecting input signatures
	StateDone                 // All signatures collected
	StateFailed               // Aborted, the session cannot be resumed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOutputs:
		return "outputs"
	case StateInputs:
		return "inputs"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var errSessionUsed = errors.New("signing session already run")

// InputDescriptor is the device facing description of one input, built once
// when the session is created.
type InputDescriptor struct {
	PrevoutScript []byte
	Value         []byte // Outpoint hash (internal order), index (LE) and amount (LE)
	Sequence      []byte // Sequence number (LE)
	Path          hwwallet.DerivationPath
	Segwit        bool
}

// pseudoInput returns the input in the form of the start transaction call.
func (in *InputDescriptor) pseudoInput() hwwallet.PseudoInput {
	return hwwallet.PseudoInput{Value: in.Value, Sequence: in.Sequence, Segwit: in.Segwit}
}

// NewInputDescriptor validates a transaction input and builds its descriptor.
// The index is only used for error reporting.
func NewInputDescriptor(index int, in *hwwallet.TxInput) (*InputDescriptor, error) {
	if len(in.PrevoutScript) == 0 {
		return nil, &hwwallet.MissingPrevoutScriptError{Index: index}
	}
	if len(in.UserPath) == 0 {
		return nil, fmt.Errorf("%w: input %d: missing user path", hwwallet.ErrInvalidParams, index)
	}
	hash, err := chainhash.NewHashFromStr(in.TxHash)
	if err != nil || len(in.TxHash) != 2*chainhash.HashSize {
		return nil, fmt.Errorf("%w: input %d: invalid txhash %q", hwwallet.ErrInvalidParams, index, in.TxHash)
	}
	value := make([]byte, 0, chainhash.HashSize+4+8)
	value = append(value, hash[:]...)
	value = binary.LittleEndian.AppendUint32(value, in.PtIdx)
	value = binary.LittleEndian.AppendUint64(value, in.Satoshi)

	return &InputDescriptor{
		PrevoutScript: in.PrevoutScript,
		Value:         value,
		Sequence:      binary.LittleEndian.AppendUint32(nil, in.Sequence),
		Path:          in.UserPath,
		Segwit:        true,
	}, nil
}

// SerializeOutputs encodes the outputs as the device expects them: a varint
// count followed by each output in transaction serialization.
func SerializeOutputs(outputs []hwwallet.TxOutput) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(outputs))); err != nil {
		return nil, err
	}
	for _, out := range outputs {
		if out.Satoshi > uint64(btcutil.MaxSatoshi) {
			return nil, fmt.Errorf("%w: output amount %d out of range", hwwallet.ErrInvalidParams, out.Satoshi)
		}
		if err := wire.WriteTxOut(&buf, 0, 0, wire.NewTxOut(int64(out.Satoshi), out.Script)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Session is a single transaction signing run against one device. It walks
// Init, Outputs, Inputs and Done strictly in order; any failure moves it to
// Failed and no partial result is returned. The caller must hold exclusive
// access to the device for the whole run.
// Session 是针对一个设备的单次交易签名运行。
type Session struct {
	dev      hwwallet.Exchanger
	version  uint32
	locktime uint32
	inputs   []*InputDescriptor
	outputs  []byte
	state    State
	log      log.Logger
}

// NewSession validates the transaction and prepares the signing session. It
// fails before any device exchange if an input lacks its prevout script.
func NewSession(dev hwwallet.Exchanger, tx *hwwallet.Transaction) (*Session, error) {
	if len(tx.Inputs) == 0 {
		return nil, fmt.Errorf("%w: transaction has no inputs", hwwallet.ErrInvalidParams)
	}
	inputs := make([]*InputDescriptor, len(tx.Inputs))
	for i := range tx.Inputs {
		in, err := NewInputDescriptor(i, &tx.Inputs[i])
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}
	outputs, err := SerializeOutputs(tx.Outputs)
	if err != nil {
		return nil, err
	}
	return &Session{
		dev:      dev,
		version:  tx.Version,
		locktime: tx.Locktime,
		inputs:   inputs,
		outputs:  outputs,
		log:      log.New("session", uuid.NewString()[:8]),
	}, nil
}

// State returns the current progress of the session.
func (s *Session) State() State {
	return s.state
}

// Run drives the session to completion and returns one signature per input,
// hex encoded, in input order.
func (s *Session) Run(ctx context.Context) ([]string, error) {
	if s.state != StateInit {
		return nil, errSessionUsed
	}
	start := time.Now()
	s.log.Info("Signing transaction on device", "inputs", len(s.inputs), "outputsize", len(s.outputs))

	sigs, err := s.run(ctx)
	if err != nil {
		s.log.Warn("Transaction signing aborted", "state", s.state, "err", err)
		s.state = StateFailed
		return nil, err
	}
	s.state = StateDone
	s.log.Info("Transaction signed on device", "elapsed", time.Since(start))
	return sigs, nil
}

func (s *Session) run(ctx context.Context) ([]string, error) {
	// Seed the pseudo transaction with every input. The first prevout script is
	// provided instead of an empty one to initialize the P2SH confirmation logic.
	all := make([]hwwallet.PseudoInput, len(s.inputs))
	for i, in := range s.inputs {
		all[i] = in.pseudoInput()
	}
	if err := s.startUntrustedTx(ctx, true, all, s.inputs[0].PrevoutScript); err != nil {
		return nil, err
	}
	s.state = StateOutputs

	params := &hwwallet.FinalizeInputFullParams{Outputs: s.outputs}
	if _, err := s.dev.Exchange(ctx, hwwallet.MethodFinalizeInputFull, params.Value()); err != nil {
		return nil, err
	}
	s.state = StateInputs

	// Sign the inputs one by one, each replacing the pseudo transaction with
	// the single input being signed
	sigs := make([]string, len(s.inputs))
	for i, in := range s.inputs {
		if err := s.startUntrustedTx(ctx, false, []hwwallet.PseudoInput{in.pseudoInput()}, in.PrevoutScript); err != nil {
			return nil, err
		}
		params := &hwwallet.UntrustedHashSignParams{
			Path:     in.Path,
			PIN:      signingPIN,
			Locktime: s.locktime,
			Sighash:  hwwallet.SighashAll,
		}
		res, err := s.dev.Exchange(ctx, hwwallet.MethodUntrustedHashSign, params.Value())
		if err != nil {
			return nil, err
		}
		sig, err := hwwallet.ParseSignatureResult(res)
		if err != nil {
			return nil, err
		}
		s.log.Debug("Input signed on device", "index", i, "path", in.Path)
		sigs[i] = hex.EncodeToString(sig.Signature)
	}
	return sigs, nil
}

func (s *Session) startUntrustedTx(ctx context.Context, newTx bool, inputs []hwwallet.PseudoInput, script []byte) error {
	params := &hwwallet.StartUntrustedTxParams{
		Version:        s.version,
		NewTransaction: newTx,
		InputIndex:     0,
		Inputs:         inputs,
		RedeemScript:   script,
		Segwit:         true,
	}
	_, err := s.dev.Exchange(ctx, hwwallet.MethodStartUntrustedTx, params.Value())
	return err
}

// SignTransaction signs every input of the transaction on the device.
func SignTransaction(ctx context.Context, dev hwwallet.Exchanger, tx *hwwallet.Transaction) ([]string, error) {
	session, err := NewSession(dev, tx)
	if err != nil {
		return nil, err
	}
	return session.Run(ctx)
}

// SignMessage signs a text message with the key at path, returning the hex
// encoded signature.
func SignMessage(ctx context.Context, dev hwwallet.Exchanger, path hwwallet.DerivationPath, message string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("%w: missing path", hwwallet.ErrInvalidParams)
	}
	prepare := &hwwallet.SignMessagePrepareParams{Path: path, Message: []byte(message)}
	if _, err := dev.Exchange(ctx, hwwallet.MethodSignMessagePrepare, prepare.Value()); err != nil {
		return "", err
	}
	res, err := dev.Exchange(ctx, hwwallet.MethodSignMessageSign, (&hwwallet.SignMessageSignParams{PIN: []byte{messagePIN}}).Value())
	if err != nil {
		return "", err
	}
	sig, err := hwwallet.ParseSignatureResult(res)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Signature), nil
}
