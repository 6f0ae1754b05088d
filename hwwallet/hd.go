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

package hwwallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// HardenedOffset is added to a derivation index to mark it hardened.
const HardenedOffset = 0x80000000

// DefaultRootDerivationPath is the root path to which relative derivation
// endpoints are appended: the native segwit account root m/84'/0'/0'.
// DefaultRootDerivationPath 是相对派生路径附加的根路径：原生隔离见证账户根 m/84'/0'/0'。
var DefaultRootDerivationPath = DerivationPath{HardenedOffset + 84, HardenedOffset + 0, HardenedOffset + 0}

// DerivationPath represents the computer friendly version of a hierarchical
// deterministic wallet derivation path.
//
// The BIP-32 spec https://github.com/bitcoin/bips/blob/master/bip-0032.mediawiki
// defines derivation paths to be of the form:
//
//	m / purpose' / coin_type' / account' / change / address_index
//
// The wallet session hands paths over as plain index arrays, the command line
// accepts the textual form; both decode into the same value.
// DerivationPath 表示分层确定性钱包派生路径的计算机友好版本。
type DerivationPath []uint32

// ParseDerivationPath converts a user specified derivation path string to the
// internal binary representation.
//
// Full derivation paths need to start with the `m/` prefix, relative derivation
// paths (which will get appended to the default root path) must not have prefixes
// in front of the first element. Whitespace is ignored. Both ' and h mark a
// hardened component.
func ParseDerivationPath(path string) (DerivationPath, error) {
	var result DerivationPath

	components := strings.Split(path, "/")
	switch {
	case len(components) == 0:
		return nil, errors.New("empty derivation path")

	case strings.TrimSpace(components[0]) == "":
		return nil, errors.New("ambiguous path: use 'm/' prefix for absolute paths, or no leading '/' for relative ones")

	case strings.TrimSpace(components[0]) == "m":
		components = components[1:]

	default:
		result = append(result, DefaultRootDerivationPath...)
	}
	if len(components) == 0 {
		return nil, errors.New("empty derivation path")
	}
	for _, component := range components {
		component = strings.TrimSpace(component)
		var value uint32

		if strings.HasSuffix(component, "'") || strings.HasSuffix(component, "h") {
			value = HardenedOffset
			component = strings.TrimSpace(component[:len(component)-1])
		}
		bigval, ok := new(big.Int).SetString(component, 0)
		if !ok {
			return nil, fmt.Errorf("invalid component: %s", component)
		}
		max := math.MaxUint32 - value
		if bigval.Sign() < 0 || bigval.Cmp(big.NewInt(int64(max))) > 0 {
			if value == 0 {
				return nil, fmt.Errorf("component %v out of allowed range [0, %d]", bigval, max)
			}
			return nil, fmt.Errorf("component %v out of allowed hardened range [0, %d]", bigval, max)
		}
		value += uint32(bigval.Uint64())
		result = append(result, value)
	}
	return result, nil
}

// String implements the stringer interface, converting a binary derivation path
// to its canonical representation.
func (path DerivationPath) String() string {
	result := "m"
	for _, component := range path {
		var hardened bool
		if component >= HardenedOffset {
			component -= HardenedOffset
			hardened = true
		}
		result = fmt.Sprintf("%s/%d", result, component)
		if hardened {
			result += "'"
		}
	}
	return result
}

// Key returns the raw indices joined by slashes, used to key caches.
// Key 返回以斜杠连接的原始索引，用作缓存键。
func (path DerivationPath) Key() string {
	parts := make([]string, len(path))
	for i, component := range path {
		parts[i] = strconv.FormatUint(uint64(component), 10)
	}
	return strings.Join(parts, "/")
}

// Serialize flattens the path into the device format: one byte with the number
// of components followed by each index in big endian.
func (path DerivationPath) Serialize() []byte {
	out := make([]byte, 1, 1+4*len(path))
	out[0] = byte(len(path))
	for _, component := range path {
		out = append(out, byte(component>>24), byte(component>>16), byte(component>>8), byte(component))
	}
	return out
}

// MarshalJSON turns a derivation path into its json-serialized string.
func (path DerivationPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(path.String())
}

// UnmarshalJSON accepts either the textual form or a plain array of indices.
func (path *DerivationPath) UnmarshalJSON(b []byte) error {
	var indices []uint32
	if err := json.Unmarshal(b, &indices); err == nil {
		*path = indices
		return nil
	}
	var dp string
	if err := json.Unmarshal(b, &dp); err != nil {
		return err
	}
	parsed, err := ParseDerivationPath(dp)
	if err != nil {
		return err
	}
	*path = parsed
	return nil
}
