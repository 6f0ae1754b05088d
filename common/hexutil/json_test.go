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

package hexutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		input string
		want  []byte
		err   error
	}{
		{input: "", err: ErrEmptyString},
		{input: "0", err: ErrMissingPrefix},
		{input: "0x0", err: ErrOddLength},
		{input: "0xzz", err: ErrSyntax},
		{input: "0x", want: []byte{}},
		{input: "0x02", want: []byte{0x02}},
		{input: "0XffFF", want: []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		dec, err := Decode(tt.input)
		if tt.err != nil {
			assert.Equal(t, tt.err, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, dec, "input %q", tt.input)
	}
}

func TestBytesJSON(t *testing.T) {
	out, err := json.Marshal(Bytes{0x01, 0xab})
	require.NoError(t, err)
	assert.Equal(t, `"0x01ab"`, string(out))

	var b Bytes
	require.NoError(t, json.Unmarshal([]byte(`"0x01ab"`), &b))
	assert.Equal(t, Bytes{0x01, 0xab}, b)

	assert.Error(t, json.Unmarshal([]byte(`"01ab"`), &b))
	assert.Error(t, json.Unmarshal([]byte(`12`), &b))
}

func TestUnprefixedBytesJSON(t *testing.T) {
	out, err := json.Marshal(UnprefixedBytes{0x00, 0x14})
	require.NoError(t, err)
	assert.Equal(t, `"0014"`, string(out))

	var b UnprefixedBytes
	require.NoError(t, json.Unmarshal([]byte(`"0014aa"`), &b))
	assert.Equal(t, UnprefixedBytes{0x00, 0x14, 0xaa}, b)

	assert.Error(t, json.Unmarshal([]byte(`"0x0014"`), &b))
	assert.Error(t, json.Unmarshal([]byte(`"001"`), &b))
}

func TestTerminalString(t *testing.T) {
	assert.Equal(t, "0x0102", Bytes{1, 2}.TerminalString())

	long := make(Bytes, 40)
	long[0], long[39] = 0xaa, 0xbb
	assert.Equal(t, "aa00000000000000..00000000000000bb(40)", long.TerminalString())
}
