// Copyright 2024 The go-ethereum Authors
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

package hwwallet

import (
	"context"
	"fmt"
)

// RPC methods consumed by the signing core.
const (
	MethodStartUntrustedTx   = "start_untrusted_transaction" // Seed or advance the pseudo-transaction context
	MethodFinalizeInputFull  = "finalize_input_full"         // Submit the serialized outputs
	MethodUntrustedHashSign  = "untrusted_hash_sign"         // Produce the signature of the current input
	MethodGetWalletPublicKey = "get_wallet_public_key"       // Derive public key and chain code for a path
	MethodSignMessagePrepare = "sign_message_prepare"        // Stream the message to sign
	MethodSignMessageSign    = "sign_message_sign"           // Sign the previously prepared message
)

// SighashAll is the only signature hash type requested from the device.
const SighashAll byte = 0x01

// Exchanger is the device RPC client contract shared by all hardware wallet
// families: one correlated request/response exchange at a time.
// Exchanger 是所有硬件钱包系列共享的设备 RPC 客户端契约：一次一个相关联的请求/响应交换。
type Exchanger interface {
	// Exchange sends the method with its optional parameters (Null for none)
	// and blocks until the device result arrives. Device reported failures are
	// returned as *DeviceError.
	Exchange(ctx context.Context, method string, params Value) (Value, error)
}

// PseudoInput is the device facing form of an input descriptor.
type PseudoInput struct {
	Value    []byte // Outpoint and amount as the device expects them
	Sequence []byte // Little endian sequence number
	Trusted  bool
	Segwit   bool
}

// StartUntrustedTxParams are the parameters of MethodStartUntrustedTx.
type StartUntrustedTxParams struct {
	Version        uint32
	NewTransaction bool
	InputIndex     int
	Inputs         []PseudoInput
	RedeemScript   []byte
	Segwit         bool
}

// Value converts the parameters to their RPC form.
func (p *StartUntrustedTxParams) Value() Value {
	inputs := make([]Value, len(p.Inputs))
	for i, in := range p.Inputs {
		inputs[i] = Map(map[string]Value{
			"value":    Bytes(in.Value),
			"sequence": Bytes(in.Sequence),
			"trusted":  Bool(in.Trusted),
			"segwit":   Bool(in.Segwit),
		})
	}
	return Map(map[string]Value{
		"txVersion":      Int(int64(p.Version)),
		"newTransaction": Bool(p.NewTransaction),
		"inputIndex":     Int(int64(p.InputIndex)),
		"usedInputList":  Array(inputs...),
		"redeemScript":   Bytes(p.RedeemScript),
		"segwit":         Bool(p.Segwit),
	})
}

// ParseStartUntrustedTxParams converts the RPC form back into typed params.
func ParseStartUntrustedTxParams(v Value) (*StartUntrustedTxParams, error) {
	var (
		p   StartUntrustedTxParams
		err error
	)
	f := fields{v: v}
	p.Version = f.uint32("txVersion")
	p.NewTransaction = f.bool("newTransaction")
	p.InputIndex = int(f.uint32("inputIndex"))
	p.RedeemScript = f.bytes("redeemScript")
	p.Segwit = f.bool("segwit")
	for _, item := range f.array("usedInputList") {
		in := fields{v: item}
		p.Inputs = append(p.Inputs, PseudoInput{
			Value:    in.bytes("value"),
			Sequence: in.bytes("sequence"),
			Trusted:  in.bool("trusted"),
			Segwit:   in.bool("segwit"),
		})
		if in.err != nil {
			return nil, in.err
		}
	}
	if err = f.err; err != nil {
		return nil, err
	}
	if p.InputIndex >= len(p.Inputs) {
		return nil, fmt.Errorf("%w: input index %d beyond %d inputs", ErrInvalidParams, p.InputIndex, len(p.Inputs))
	}
	return &p, nil
}

// FinalizeInputFullParams are the parameters of MethodFinalizeInputFull.
type FinalizeInputFullParams struct {
	Outputs []byte // Serialized output set: varint count followed by the outputs
}

// Value converts the parameters to their RPC form.
func (p *FinalizeInputFullParams) Value() Value {
	return Map(map[string]Value{"data": Bytes(p.Outputs)})
}

// ParseFinalizeInputFullParams converts the RPC form back into typed params.
func ParseFinalizeInputFullParams(v Value) (*FinalizeInputFullParams, error) {
	f := fields{v: v}
	p := &FinalizeInputFullParams{Outputs: f.bytes("data")}
	return p, f.err
}

// UntrustedHashSignParams are the parameters of MethodUntrustedHashSign.
type UntrustedHashSignParams struct {
	Path     DerivationPath
	PIN      string
	Locktime uint32
	Sighash  byte
}

// Value converts the parameters to their RPC form.
func (p *UntrustedHashSignParams) Value() Value {
	return Map(map[string]Value{
		"path":        pathValue(p.Path),
		"pin":         String(p.PIN),
		"lockTime":    Int(int64(p.Locktime)),
		"sigHashType": Int(int64(p.Sighash)),
	})
}

// ParseUntrustedHashSignParams converts the RPC form back into typed params.
func ParseUntrustedHashSignParams(v Value) (*UntrustedHashSignParams, error) {
	f := fields{v: v}
	p := &UntrustedHashSignParams{
		Path:     f.path("path"),
		PIN:      f.string("pin"),
		Locktime: f.uint32("lockTime"),
		Sighash:  byte(f.uint32("sigHashType")),
	}
	return p, f.err
}

// PathParams carries a single derivation path, used by MethodGetWalletPublicKey.
type PathParams struct {
	Path DerivationPath
}

// Value converts the parameters to their RPC form.
func (p *PathParams) Value() Value {
	return Map(map[string]Value{"path": pathValue(p.Path)})
}

// ParsePathParams converts the RPC form back into typed params.
func ParsePathParams(v Value) (*PathParams, error) {
	f := fields{v: v}
	p := &PathParams{Path: f.path("path")}
	return p, f.err
}

// SignMessagePrepareParams are the parameters of MethodSignMessagePrepare.
type SignMessagePrepareParams struct {
	Path    DerivationPath
	Message []byte
}

// Value converts the parameters to their RPC form.
func (p *SignMessagePrepareParams) Value() Value {
	return Map(map[string]Value{
		"path":    pathValue(p.Path),
		"message": Bytes(p.Message),
	})
}

// ParseSignMessagePrepareParams converts the RPC form back into typed params.
func ParseSignMessagePrepareParams(v Value) (*SignMessagePrepareParams, error) {
	f := fields{v: v}
	p := &SignMessagePrepareParams{Path: f.path("path"), Message: f.bytes("message")}
	return p, f.err
}

// SignMessageSignParams are the parameters of MethodSignMessageSign.
type SignMessageSignParams struct {
	PIN []byte
}

// Value converts the parameters to their RPC form.
func (p *SignMessageSignParams) Value() Value {
	return Map(map[string]Value{"pin": Bytes(p.PIN)})
}

// ParseSignMessageSignParams converts the RPC form back into typed params.
func ParseSignMessageSignParams(v Value) (*SignMessageSignParams, error) {
	f := fields{v: v}
	p := &SignMessageSignParams{PIN: f.bytes("pin")}
	return p, f.err
}

// WalletPublicKey is the result of MethodGetWalletPublicKey.
type WalletPublicKey struct {
	PublicKey []byte // Uncompressed (65 bytes) or compressed public key
	ChainCode []byte // 32 byte BIP-32 chain code
	Address   string // Address of the key as rendered by the device, may be empty
}

// Value converts the result to its RPC form.
func (r *WalletPublicKey) Value() Value {
	return Map(map[string]Value{
		"publicKey": Bytes(r.PublicKey),
		"chainCode": Bytes(r.ChainCode),
		"address":   String(r.Address),
	})
}

// ParseWalletPublicKey converts the RPC result into its typed form. The
// address is optional.
func ParseWalletPublicKey(v Value) (*WalletPublicKey, error) {
	f := fields{v: v}
	r := &WalletPublicKey{PublicKey: f.bytes("publicKey"), ChainCode: f.bytes("chainCode")}
	if addr, ok := v.Get("address"); ok {
		r.Address, _ = addr.AsString()
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(r.ChainCode) != 32 {
		return nil, fmt.Errorf("%w: chain code of %d bytes", ErrMalformedMessage, len(r.ChainCode))
	}
	return r, nil
}

// SignatureResult is the result of the signing methods.
type SignatureResult struct {
	Signature []byte
}

// Value converts the result to its RPC form.
func (r *SignatureResult) Value() Value {
	return Map(map[string]Value{"signature": Bytes(r.Signature)})
}

// ParseSignatureResult converts the RPC result into its typed form.
func ParseSignatureResult(v Value) (*SignatureResult, error) {
	f := fields{v: v}
	r := &SignatureResult{Signature: f.bytes("signature")}
	if f.err != nil {
		return nil, f.err
	}
	if len(r.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrMalformedMessage)
	}
	return r, nil
}

func pathValue(path DerivationPath) Value {
	items := make([]Value, len(path))
	for i, component := range path {
		items[i] = Int(int64(component))
	}
	return Array(items...)
}

// fields reads typed map fields, remembering the first failure.
type fields struct {
	v   Value
	err error
}

func (f *fields) field(key string) (Value, bool) {
	if f.err != nil {
		return Value{}, false
	}
	v, err := f.v.Field(key)
	if err != nil {
		f.err = err
		return Value{}, false
	}
	return v, true
}

func (f *fields) fail(key string, err error) {
	f.err = fmt.Errorf("field %q: %w", key, err)
}

func (f *fields) bool(key string) bool {
	v, ok := f.field(key)
	if !ok {
		return false
	}
	b, err := v.AsBool()
	if err != nil {
		f.fail(key, err)
	}
	return b
}

func (f *fields) uint32(key string) uint32 {
	v, ok := f.field(key)
	if !ok {
		return 0
	}
	n, err := v.AsUint32()
	if err != nil {
		f.fail(key, err)
	}
	return n
}

func (f *fields) string(key string) string {
	v, ok := f.field(key)
	if !ok {
		return ""
	}
	s, err := v.AsString()
	if err != nil {
		f.fail(key, err)
	}
	return s
}

func (f *fields) bytes(key string) []byte {
	v, ok := f.field(key)
	if !ok {
		return nil
	}
	b, err := v.AsBytes()
	if err != nil {
		f.fail(key, err)
	}
	return b
}

func (f *fields) array(key string) []Value {
	v, ok := f.field(key)
	if !ok {
		return nil
	}
	items, err := v.AsArray()
	if err != nil {
		f.fail(key, err)
	}
	return items
}

func (f *fields) path(key string) DerivationPath {
	items := f.array(key)
	if f.err != nil {
		return nil
	}
	path := make(DerivationPath, len(items))
	for i, item := range items {
		n, err := item.AsUint32()
		if err != nil {
			f.fail(key, err)
			return nil
		}
		path[i] = n
	}
	return path
}
