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
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind enumerates the variants a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindString
	KindBytes
	KindArray
	KindMap
)

var kindNames = [...]string{"null", "bool", "int", "string", "bytes", "array", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Value is the small tagged variant exchanged at the RPC boundary. Typed
// parameter structs convert to and from it; nothing past the boundary deals
// with untyped maps.
// Value 是在 RPC 边界交换的小型标记变体。类型化参数结构与其相互转换；边界之外不处理无类型映射。
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
	raw  []byte
	arr  []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String wraps a text string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a byte string. The slice is not copied.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, raw: b}
}

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Map wraps a string keyed map of values.
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, m: fields}
}

// Kind returns the variant held.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) expect(kind Kind) error {
	if v.kind != kind {
		return fmt.Errorf("%w: expected %v, got %v", ErrInvalidParams, kind, v.kind)
	}
	return nil
}

// AsBool returns the boolean held, or an error for any other variant.
func (v Value) AsBool() (bool, error) { return v.b, v.expect(KindBool) }

// AsInt returns the integer held, or an error for any other variant.
func (v Value) AsInt() (int64, error) { return v.i, v.expect(KindInt) }

// AsString returns the string held, or an error for any other variant.
func (v Value) AsString() (string, error) { return v.s, v.expect(KindString) }

// AsBytes returns the bytes held, or an error for any other variant.
func (v Value) AsBytes() ([]byte, error) { return v.raw, v.expect(KindBytes) }

// AsArray returns the items held, or an error for any other variant.
func (v Value) AsArray() ([]Value, error) { return v.arr, v.expect(KindArray) }

// AsMap returns the fields held, or an error for any other variant.
func (v Value) AsMap() (map[string]Value, error) { return v.m, v.expect(KindMap) }

// AsUint32 returns the integer held if it fits into 32 unsigned bits.
func (v Value) AsUint32() (uint32, error) {
	i, err := v.AsInt()
	if err != nil {
		return 0, err
	}
	if i < 0 || i > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d out of uint32 range", ErrInvalidParams, i)
	}
	return uint32(i), nil
}

// Get looks up a map field. It returns false for missing keys and non-maps.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	field, ok := v.m[key]
	return field, ok
}

// Field looks up a mandatory map field.
func (v Value) Field(key string) (Value, error) {
	if err := v.expect(KindMap); err != nil {
		return Value{}, err
	}
	field, ok := v.m[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: missing field %q", ErrInvalidParams, key)
	}
	return field, nil
}

// Equal reports whether two values hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, field := range v.m {
			other, ok := o.m[k]
			if !ok || !field.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprint(v.b)
	case KindInt:
		return fmt.Sprint(v.i)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("h'%x'", v.raw)
	case KindArray:
		items := make([]string, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.String()
		}
		return "[" + strings.Join(items, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, len(keys))
		for i, k := range keys {
			items[i] = fmt.Sprintf("%q: %v", k, v.m[k])
		}
		return "{" + strings.Join(items, ", ") + "}"
	}
	return "invalid"
}

// Interface converts the value into plain Go types suitable for an encoder:
// nil, bool, int64, string, []byte, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	case KindArray:
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Interface()
		}
		return items
	case KindMap:
		fields := make(map[string]any, len(v.m))
		for k, field := range v.m {
			fields[k] = field.Interface()
		}
		return fields
	}
	return nil
}

// FromInterface converts decoder output back into a Value. Maps must be keyed
// by strings and integers must fit into 64 signed bits.
// FromInterface 将解码器输出转换回 Value。映射必须以字符串为键，整数必须适合 64 位有符号整数。
func FromInterface(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Map(fields), nil
	case map[any]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			key, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("non-string map key %v", k)
			}
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = v
		}
		return Map(fields), nil
	}
	return Value{}, fmt.Errorf("unsupported type %T", x)
}
