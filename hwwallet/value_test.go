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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAccessors(t *testing.T) {
	v := Map(map[string]Value{
		"flag":  Bool(true),
		"count": Int(7),
		"name":  String("jade"),
		"raw":   Bytes([]byte{0xde, 0xad}),
		"list":  Array(Int(1), Int(2)),
	})
	assert.Equal(t, KindMap, v.Kind())

	flag, err := v.Field("flag")
	require.NoError(t, err)
	b, err := flag.AsBool()
	require.NoError(t, err)
	assert.True(t, b)

	count, _ := v.Get("count")
	n, err := count.AsUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n)

	_, err = count.AsString()
	assert.True(t, errors.Is(err, ErrInvalidParams))

	_, err = v.Field("missing")
	assert.True(t, errors.Is(err, ErrInvalidParams))

	_, ok := String("x").Get("flag")
	assert.False(t, ok)

	_, err = Int(-1).AsUint32()
	assert.Error(t, err)
	_, err = Int(math.MaxUint32 + 1).AsUint32()
	assert.Error(t, err)

	assert.True(t, Null().IsNull())
	assert.Equal(t, "null", Null().String())
}

func TestValueEqual(t *testing.T) {
	a := Map(map[string]Value{"x": Array(Bytes([]byte{1}), String("s"))})
	b := Map(map[string]Value{"x": Array(Bytes([]byte{1}), String("s"))})
	c := Map(map[string]Value{"x": Array(Bytes([]byte{2}), String("s"))})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Int(1).Equal(Bool(true)))
	assert.True(t, Bytes(nil).Equal(Bytes([]byte{})))
}

func TestValueInterfaceConversion(t *testing.T) {
	v := Map(map[string]Value{
		"a": Array(Int(1), Bool(false), Null()),
		"b": Bytes([]byte{0x01}),
		"c": String("text"),
	})
	back, err := FromInterface(v.Interface())
	require.NoError(t, err)
	assert.True(t, v.Equal(back), "got %v", back)

	// Decoders may hand over generic maps and unsigned integers
	generic := map[any]any{"n": uint64(5), "m": map[string]any{"k": int(3)}}
	got, err := FromInterface(generic)
	require.NoError(t, err)
	assert.True(t, Map(map[string]Value{
		"n": Int(5),
		"m": Map(map[string]Value{"k": Int(3)}),
	}).Equal(got))

	_, err = FromInterface(map[any]any{1: "x"})
	assert.Error(t, err)
	_, err = FromInterface(uint64(math.MaxUint64))
	assert.Error(t, err)
	_, err = FromInterface(3.5)
	assert.Error(t, err)
}

func TestValueString(t *testing.T) {
	v := Map(map[string]Value{"b": Bytes([]byte{0xab}), "a": Array(Int(1), String("x"))})
	assert.Equal(t, `{"a": [1, "x"], "b": h'ab'}`, v.String())
}
