// Copyright 2016 The go-ethereum Authors
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

/*
Package hexutil implements hex encoding with 0x prefix, plus the unprefixed
lowercase form used by wallet backends for scripts and signatures.

# Encoding Rules

All hex data must have prefix "0x", except for the Unprefixed helpers.

For byte slices, the hex data must be of even length. An empty byte slice
encodes as "0x".
*/
package hexutil

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
)

var bytesT = reflect.TypeOf(Bytes(nil))

// Errors
var (
	ErrEmptyString   = &decError{"empty hex string"}
	ErrMissingPrefix = &decError{"hex string without 0x prefix"}
	ErrOddLength     = &decError{"hex string of odd length"}
	ErrSyntax        = &decError{"invalid hex string"}
)

type decError struct{ msg string }

func (err decError) Error() string { return err.msg }

// Decode decodes a hex string with 0x prefix.
func Decode(input string) ([]byte, error) {
	if len(input) == 0 {
		return nil, ErrEmptyString
	}
	if !has0xPrefix(input) {
		return nil, ErrMissingPrefix
	}
	return DecodeUnprefixed(input[2:])
}

// Encode encodes b as a hex string with 0x prefix.
func Encode(b []byte) string {
	enc := make([]byte, len(b)*2+2)
	copy(enc, "0x")
	hex.Encode(enc[2:], b)
	return string(enc)
}

// DecodeUnprefixed decodes a hex string without prefix. The empty string
// decodes to an empty slice.
func DecodeUnprefixed(input string) ([]byte, error) {
	if len(input)%2 != 0 {
		return nil, ErrOddLength
	}
	dec, err := hex.DecodeString(input)
	if err != nil {
		return nil, ErrSyntax
	}
	return dec, nil
}

// EncodeUnprefixed encodes b as a lowercase hex string without prefix.
func EncodeUnprefixed(b []byte) string {
	return hex.EncodeToString(b)
}

func has0xPrefix(input string) bool {
	return len(input) >= 2 && input[0] == '0' && (input[1] == 'x' || input[1] == 'X')
}

// Bytes marshals/unmarshals as a JSON string with 0x prefix.
// The empty slice marshals as "0x".
// Bytes 以带 0x 前缀的 JSON 字符串进行编解码。空切片编码为 "0x"。
type Bytes []byte

// MarshalText implements encoding.TextMarshaler
func (b Bytes) MarshalText() ([]byte, error) {
	return []byte(Encode(b)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(input []byte) error {
	if !isString(input) {
		return errNonString(bytesT)
	}
	return wrapTypeError(b.UnmarshalText(input[1:len(input)-1]), bytesT)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytes) UnmarshalText(input []byte) error {
	dec, err := Decode(string(input))
	if err != nil {
		return err
	}
	*b = dec
	return nil
}

// String returns the hex encoding of b.
func (b Bytes) String() string {
	return Encode(b)
}

// TerminalString shortens long payloads for log output, keeping the head and
// tail together with the total length.
func (b Bytes) TerminalString() string {
	if len(b) <= 32 {
		return Encode(b)
	}
	return fmt.Sprintf("%x..%x(%d)", []byte(b[:8]), []byte(b[len(b)-8:]), len(b))
}

// UnprefixedBytes marshals/unmarshals as a JSON string of lowercase hex
// without prefix, the form wallet backends use for scripts.
type UnprefixedBytes []byte

// MarshalJSON implements json.Marshaler.
func (b UnprefixedBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(EncodeUnprefixed(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *UnprefixedBytes) UnmarshalJSON(input []byte) error {
	if !isString(input) {
		return errNonString(reflect.TypeOf(UnprefixedBytes(nil)))
	}
	dec, err := DecodeUnprefixed(string(input[1 : len(input)-1]))
	if err != nil {
		return wrapTypeError(err, reflect.TypeOf(UnprefixedBytes(nil)))
	}
	*b = dec
	return nil
}

func isString(input []byte) bool {
	return len(input) >= 2 && input[0] == '"' && input[len(input)-1] == '"'
}

func wrapTypeError(err error, typ reflect.Type) error {
	if _, ok := err.(*decError); ok {
		return &json.UnmarshalTypeError{Value: err.Error(), Type: typ}
	}
	return err
}

func errNonString(typ reflect.Type) error {
	return &json.UnmarshalTypeError{Value: "non-string", Type: typ}
}
