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
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartUntrustedTxParams(t *testing.T) {
	params := &StartUntrustedTxParams{
		Version:        2,
		NewTransaction: true,
		InputIndex:     1,
		Inputs: []PseudoInput{
			{Value: []byte{1, 2, 3}, Sequence: []byte{0xff, 0xff, 0xff, 0xfd}, Segwit: true},
			{Value: []byte{4, 5}, Sequence: []byte{0, 0, 0, 0}, Trusted: true},
		},
		RedeemScript: []byte{0x00, 0x14},
		Segwit:       true,
	}
	parsed, err := ParseStartUntrustedTxParams(params.Value())
	require.NoError(t, err)
	assert.Equal(t, params, parsed)

	params.InputIndex = 2
	_, err = ParseStartUntrustedTxParams(params.Value())
	assert.True(t, errors.Is(err, ErrInvalidParams))

	_, err = ParseStartUntrustedTxParams(Map(map[string]Value{"txVersion": String("2")}))
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestSigningParams(t *testing.T) {
	path := DerivationPath{HardenedOffset + 84, HardenedOffset, HardenedOffset, 0, 3}

	hs := &UntrustedHashSignParams{Path: path, PIN: "0", Locktime: 650000, Sighash: SighashAll}
	gotHS, err := ParseUntrustedHashSignParams(hs.Value())
	require.NoError(t, err)
	assert.Equal(t, hs, gotHS)

	fin := &FinalizeInputFullParams{Outputs: []byte{0x01, 0x02}}
	gotFin, err := ParseFinalizeInputFullParams(fin.Value())
	require.NoError(t, err)
	assert.Equal(t, fin, gotFin)

	prep := &SignMessagePrepareParams{Path: path, Message: []byte("hello")}
	gotPrep, err := ParseSignMessagePrepareParams(prep.Value())
	require.NoError(t, err)
	assert.Equal(t, prep, gotPrep)

	sign := &SignMessageSignParams{PIN: []byte{}}
	gotSign, err := ParseSignMessageSignParams(sign.Value())
	require.NoError(t, err)
	assert.Equal(t, sign, gotSign)

	pp := &PathParams{Path: path}
	gotPP, err := ParsePathParams(pp.Value())
	require.NoError(t, err)
	assert.Equal(t, pp, gotPP)
}

func TestWalletPublicKeyResult(t *testing.T) {
	res := &WalletPublicKey{PublicKey: bytes.Repeat([]byte{4}, 65), ChainCode: bytes.Repeat([]byte{7}, 32), Address: "bc1q"}
	got, err := ParseWalletPublicKey(res.Value())
	require.NoError(t, err)
	assert.Equal(t, res, got)

	// The address is optional, the chain code is not
	got, err = ParseWalletPublicKey(Map(map[string]Value{
		"publicKey": Bytes(res.PublicKey),
		"chainCode": Bytes(res.ChainCode),
	}))
	require.NoError(t, err)
	assert.Empty(t, got.Address)

	_, err = ParseWalletPublicKey(Map(map[string]Value{
		"publicKey": Bytes(res.PublicKey),
		"chainCode": Bytes([]byte{1}),
	}))
	assert.True(t, errors.Is(err, ErrMalformedMessage))

	_, err = ParseSignatureResult(Map(map[string]Value{"signature": Bytes(nil)}))
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestTransactionJSON(t *testing.T) {
	blob := `{
		"transaction_version": 2,
		"transaction_locktime": 100,
		"inputs": [{
			"txhash": "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
			"pt_idx": 1,
			"satoshi": 5000,
			"sequence": 4294967293,
			"prevout_script": "0014aabb",
			"user_path": [2147483732, 2147483648, 2147483648, 0, 1]
		}],
		"outputs": [{"script": "0014ccdd", "satoshi": 4000}]
	}`
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(blob), &tx))
	assert.Equal(t, uint32(2), tx.Version)
	assert.Equal(t, uint32(100), tx.Locktime)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, []byte{0x00, 0x14, 0xaa, 0xbb}, []byte(tx.Inputs[0].PrevoutScript))
	assert.Equal(t, "m/84'/0'/0'/0/1", tx.Inputs[0].UserPath.String())
	assert.Equal(t, uint32(0xfffffffd), tx.Inputs[0].Sequence)
	assert.Equal(t, uint64(4000), tx.Outputs[0].Satoshi)

	var bad Transaction
	assert.Error(t, json.Unmarshal([]byte(`{"outputs":[{"script":"zz"}]}`), &bad))
}

func TestErrorKinds(t *testing.T) {
	err := NewDeclinedError(-32000, "user cancelled")
	assert.True(t, errors.Is(err, ErrDeviceDeclined))
	assert.False(t, errors.Is(err, ErrDeviceAborted))

	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, -32000, devErr.Code)
	assert.Equal(t, "declined on device: user cancelled (code -32000)", err.Error())

	terr := &TransportError{Op: "write chunk 2/3", Err: errors.New("gatt failure")}
	assert.True(t, errors.Is(terr, ErrTransport))
	assert.Equal(t, "transport write chunk 2/3: gatt failure", terr.Error())

	assert.True(t, errors.Is(&MissingPrevoutScriptError{Index: 1}, ErrMissingPrevoutScript))

	unsupported := NewUnsupportedError(`method "get_blinding_key" not supported`)
	assert.True(t, errors.Is(unsupported, ErrDeviceAborted))
	assert.True(t, errors.Is(unsupported, ErrNotSupported))
	assert.False(t, errors.Is(err, ErrNotSupported))
	assert.Equal(t, `aborted by device: method "get_blinding_key" not supported (code 0)`, unsupported.Error())
}
