// Copyright 2017 The go-ethereum Authors
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

// Package ledger implements the device RPC client of the Ledger Bitcoin
// application, translating the signing method surface into APDU commands.
//
// The protocol is documented at:
//
//	https://github.com/LedgerHQ/app-bitcoin/blob/master/doc/btc.asc
//
// Package ledger 实现 Ledger 比特币应用的设备 RPC 客户端，将签名方法转换为 APDU 命令。
package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/sunyihoo/hwsigner/common/hexutil"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/log"
)

// MethodGetFirmwareVersion retrieves the Bitcoin application version.
const MethodGetFirmwareVersion = "get_firmware_version"

// Profile is the GATT profile of Ledger BLE devices.
var Profile = transport.GATTProfile{
	Service: uuid.MustParse("13d63400-2c97-0004-0000-4c6564676572"),
	Write:   uuid.MustParse("13d63400-2c97-0004-0002-4c6564676572"),
	Notify:  uuid.MustParse("13d63400-2c97-0004-0001-4c6564676572"),
}

var errLedgerInvalidVersionReply = errors.New("ledger: invalid version reply")

// messageChannel is the part of a transport channel the client needs.
type messageChannel interface {
	Exchange(ctx context.Context, msg []byte) ([]byte, error)
}

// Client is the RPC client of one Ledger device. Each method maps to one or
// more APDU exchanges; a concurrent call fails with ErrExchangeInFlight.
type Client struct {
	ch   messageChannel
	busy atomic.Bool
	log  log.Logger
}

// NewClient creates a client exchanging APDUs over ch, which must use the
// Ledger framing of its link.
func NewClient(ch messageChannel, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Root()
	}
	return &Client{ch: ch, log: logger}
}

// Exchange implements hwwallet.Exchanger.
func (c *Client) Exchange(ctx context.Context, method string, params hwwallet.Value) (hwwallet.Value, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return hwwallet.Value{}, hwwallet.ErrExchangeInFlight
	}
	defer c.busy.Store(false)

	start := time.Now()
	res, err := c.dispatch(ctx, method, params)
	if err != nil {
		c.log.Debug("Ledger request failed", "method", method, "err", err)
		return hwwallet.Value{}, err
	}
	c.log.Debug("Ledger request completed", "method", method, "elapsed", time.Since(start))
	return res, nil
}

func (c *Client) dispatch(ctx context.Context, method string, params hwwallet.Value) (hwwallet.Value, error) {
	switch method {
	case hwwallet.MethodStartUntrustedTx:
		p, err := hwwallet.ParseStartUntrustedTxParams(params)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return hwwallet.Null(), c.startUntrustedTx(ctx, p)

	case hwwallet.MethodFinalizeInputFull:
		p, err := hwwallet.ParseFinalizeInputFullParams(params)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return hwwallet.Null(), c.finalizeInputFull(ctx, p.Outputs)

	case hwwallet.MethodUntrustedHashSign:
		p, err := hwwallet.ParseUntrustedHashSignParams(params)
		if err != nil {
			return hwwallet.Value{}, err
		}
		sig, err := c.untrustedHashSign(ctx, p)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return (&hwwallet.SignatureResult{Signature: sig}).Value(), nil

	case hwwallet.MethodGetWalletPublicKey:
		p, err := hwwallet.ParsePathParams(params)
		if err != nil {
			return hwwallet.Value{}, err
		}
		key, err := c.walletPublicKey(ctx, p.Path)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return key.Value(), nil

	case hwwallet.MethodSignMessagePrepare:
		p, err := hwwallet.ParseSignMessagePrepareParams(params)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return hwwallet.Null(), c.signMessagePrepare(ctx, p.Path, p.Message)

	case hwwallet.MethodSignMessageSign:
		p, err := hwwallet.ParseSignMessageSignParams(params)
		if err != nil {
			return hwwallet.Value{}, err
		}
		sig, err := c.signMessageSign(ctx, p.PIN)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return (&hwwallet.SignatureResult{Signature: sig}).Value(), nil

	case MethodGetFirmwareVersion:
		version, err := c.firmwareVersion(ctx)
		if err != nil {
			return hwwallet.Value{}, err
		}
		return hwwallet.String(version), nil
	}
	return hwwallet.Value{}, hwwallet.NewUnsupportedError(fmt.Sprintf("method %q not supported", method))
}

// startUntrustedTx seeds (or continues) the pseudo transaction with the given
// inputs. The redeem script is attached to the input at InputIndex, every
// other input is hashed with an empty script.
//
// The header APDU carries the version (LE) and the varint input count, then
// each input follows in its own APDU:
//
//	Description                          | Length
//	-------------------------------------------------
//	Input flag (legacy, trusted, segwit)  | 1 byte
//	Trusted input length (trusted only)   | 1 byte
//	Input value                           | variable
//	Script length                         | varint
//	Sequence (empty script only)          | 4 bytes
//
// and a non-empty script is streamed afterwards in blocks, the sequence
// appended to the last one.
func (c *Client) startUntrustedTx(ctx context.Context, p *hwwallet.StartUntrustedTxParams) error {
	p2 := ledgerP2Continue
	if p.NewTransaction {
		p2 = ledgerP2NewLegacy
		if p.Segwit {
			p2 = ledgerP2NewSegwit
		}
	}
	header := binary.LittleEndian.AppendUint32(nil, p.Version)
	header = appendVarInt(header, uint64(len(p.Inputs)))
	if _, err := c.exchange(ctx, ledgerOpStartUntrustedTx, ledgerP1First, p2, header); err != nil {
		return err
	}
	for i, in := range p.Inputs {
		var script []byte
		if i == p.InputIndex {
			script = p.RedeemScript
		}
		data := make([]byte, 0, 2+len(in.Value)+9+len(in.Sequence))
		switch {
		case in.Trusted:
			data = append(data, inputTrusted, byte(len(in.Value)))
		case in.Segwit:
			data = append(data, inputSegwit)
		default:
			data = append(data, inputLegacy)
		}
		data = append(data, in.Value...)
		data = appendVarInt(data, uint64(len(script)))
		if len(script) == 0 {
			data = append(data, in.Sequence...)
		}
		if _, err := c.exchange(ctx, ledgerOpStartUntrustedTx, ledgerP1Next, ledgerP2None, data); err != nil {
			return err
		}
		for offset := 0; offset < len(script); offset += ledgerInputScriptBlock {
			end := min(offset+ledgerInputScriptBlock, len(script))
			block := append([]byte(nil), script[offset:end]...)
			if end == len(script) {
				block = append(block, in.Sequence...)
			}
			if _, err := c.exchange(ctx, ledgerOpStartUntrustedTx, ledgerP1Next, ledgerP2None, block); err != nil {
				return err
			}
		}
	}
	return nil
}

// finalizeInputFull streams the serialized outputs for validation on screen.
// Only the last block is flagged, which is also the one awaiting the user.
func (c *Client) finalizeInputFull(ctx context.Context, outputs []byte) error {
	if len(outputs) == 0 {
		return fmt.Errorf("%w: no outputs", hwwallet.ErrInvalidParams)
	}
	for offset := 0; offset < len(outputs); offset += ledgerOutputBlock {
		end := min(offset+ledgerOutputBlock, len(outputs))
		p1 := ledgerP1First
		if end == len(outputs) {
			p1 = ledgerP1Next
		}
		if _, err := c.exchange(ctx, ledgerOpFinalizeInputFull, p1, ledgerP2None, outputs[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

// untrustedHashSign signs the current pseudo transaction with the key at the
// given path. The device sets the parity of R in the first byte, which is
// reset to the DER sequence tag.
func (c *Client) untrustedHashSign(ctx context.Context, p *hwwallet.UntrustedHashSignParams) ([]byte, error) {
	data := p.Path.Serialize()
	data = append(data, byte(len(p.PIN)))
	data = append(data, p.PIN...)
	data = binary.BigEndian.AppendUint32(data, p.Locktime)
	data = append(data, p.Sighash)

	sig, err := c.exchange(ctx, ledgerOpUntrustedHashSign, ledgerP1First, ledgerP2None, data)
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", hwwallet.ErrMalformedMessage)
	}
	sig[0] = 0x30
	return sig, nil
}

// walletPublicKey retrieves the public key of a path. The reply is encoded as:
//
//	Description              | Length
//	---------------------------------------------
//	Public key length        | 1 byte
//	Uncompressed public key  | arbitrary
//	Address length           | 1 byte
//	Address                  | arbitrary
//	Chain code               | 32 bytes
func (c *Client) walletPublicKey(ctx context.Context, path hwwallet.DerivationPath) (*hwwallet.WalletPublicKey, error) {
	reply, err := c.exchange(ctx, ledgerOpGetWalletPublicKey, ledgerP1First, ledgerP2None, path.Serialize())
	if err != nil {
		return nil, err
	}
	key := new(hwwallet.WalletPublicKey)
	if len(reply) < 1 || len(reply) < 1+int(reply[0])+1 {
		return nil, fmt.Errorf("%w: public key reply too short", hwwallet.ErrMalformedMessage)
	}
	key.PublicKey, reply = reply[1:1+int(reply[0])], reply[1+int(reply[0]):]

	if len(reply) < 1+int(reply[0])+ledgerChainCodeLength {
		return nil, fmt.Errorf("%w: address reply too short", hwwallet.ErrMalformedMessage)
	}
	key.Address, reply = string(reply[1:1+int(reply[0])]), reply[1+int(reply[0]):]
	key.ChainCode = reply[:ledgerChainCodeLength]

	c.log.Trace("Retrieved wallet public key", "path", path, "key", hexutil.Bytes(key.PublicKey), "address", key.Address)
	return key, nil
}

// signMessagePrepare streams the message to sign. The first block carries the
// path and the total message length (BE) in front of the message bytes.
func (c *Client) signMessagePrepare(ctx context.Context, path hwwallet.DerivationPath, message []byte) error {
	if len(message) > 0xffff {
		return fmt.Errorf("%w: message too long", hwwallet.ErrInvalidParams)
	}
	data := path.Serialize()
	data = binary.BigEndian.AppendUint16(data, uint16(len(message)))

	p2 := ledgerP2MessageFirst
	for {
		n := min(ledgerMaxAPDUData-len(data), len(message))
		data = append(data, message[:n]...)
		message = message[n:]

		if _, err := c.exchange(ctx, ledgerOpSignMessage, ledgerP1First, p2, data); err != nil {
			return err
		}
		if len(message) == 0 {
			return nil
		}
		data, p2 = nil, ledgerP2MessageNext
	}
}

// signMessageSign signs the prepared message, authenticating with a PIN if
// the device demands one.
func (c *Client) signMessageSign(ctx context.Context, pin []byte) ([]byte, error) {
	data := append([]byte{byte(len(pin))}, pin...)
	sig, err := c.exchange(ctx, ledgerOpSignMessage, ledgerP1Next, ledgerP2None, data)
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", hwwallet.ErrMalformedMessage)
	}
	return sig, nil
}

// firmwareVersion retrieves the version of the Bitcoin application, a 16 bit
// major version followed by minor and patch.
func (c *Client) firmwareVersion(ctx context.Context) (string, error) {
	reply, err := c.exchange(ctx, ledgerOpGetFirmwareVersion, ledgerP1First, ledgerP2None, nil)
	if err != nil {
		return "", err
	}
	if len(reply) < 5 {
		return "", errLedgerInvalidVersionReply
	}
	return fmt.Sprintf("%d.%d.%d", binary.BigEndian.Uint16(reply[1:3]), reply[3], reply[4]), nil
}

// exchange performs a single APDU round trip and checks the status word.
func (c *Client) exchange(ctx context.Context, ins ledgerOpcode, p1 ledgerParam1, p2 ledgerParam2, data []byte) ([]byte, error) {
	apdu, err := commandAPDU{Ins: ins, P1: p1, P2: p2, Data: data}.serialize()
	if err != nil {
		return nil, err
	}
	c.log.Trace("Sending APDU to the Ledger", "apdu", hexutil.Bytes(apdu))

	reply, err := c.ch.Exchange(ctx, apdu)
	if err != nil {
		return nil, err
	}
	var res responseAPDU
	if err := res.deserialize(reply); err != nil {
		return nil, err
	}
	c.log.Trace("APDU reply from the Ledger", "sw", fmt.Sprintf("%#04x", res.SW), "data", hexutil.Bytes(res.Data))
	if err := statusError(res.SW); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// appendVarInt appends a Bitcoin compact size integer.
func appendVarInt(b []byte, n uint64) []byte {
	buf := bytes.NewBuffer(b)
	wire.WriteVarInt(buf, 0, n)
	return buf.Bytes()
}
