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

// Package xpub resolves BIP32 extended public keys from a hardware wallet,
// caching them per derivation path for the lifetime of the resolver.
// Package xpub 从硬件钱包解析 BIP32 扩展公钥，并按派生路径缓存。
package xpub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/log"
	"golang.org/x/sync/singleflight"
)

// NetworkParams returns the chain parameters of a network by name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet", "main", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "localtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", name)
}

// Serialize encodes a public key and chain code as a base58 extended public
// key of the network. The key is compressed first; the depth, child number
// and parent fingerprint are zero.
func Serialize(net *chaincfg.Params, pubkey, chainCode []byte) (string, error) {
	key, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return "", fmt.Errorf("%w: public key: %v", hwwallet.ErrMalformedMessage, err)
	}
	if len(chainCode) != 32 {
		return "", fmt.Errorf("%w: chain code of %d bytes", hwwallet.ErrMalformedMessage, len(chainCode))
	}
	parentFP := []byte{0x00, 0x00, 0x00, 0x00}
	ext := hdkeychain.NewExtendedKey(net.HDPublicKeyID[:], key.SerializeCompressed(), chainCode, parentFP, 0, 0, false)
	return ext.String(), nil
}

// Resolver retrieves and caches extended public keys. Entries are never
// invalidated. The device exchanger must not be used concurrently, so callers
// serialize resolver calls with any other device traffic.
type Resolver struct {
	dev hwwallet.Exchanger
	net *chaincfg.Params

	cache map[string]string // Base58 extended keys by path key
	lock  sync.Mutex        // Protects the cache
	group singleflight.Group
}

// NewResolver creates a resolver for keys of the given network.
func NewResolver(dev hwwallet.Exchanger, net *chaincfg.Params) *Resolver {
	return &Resolver{
		dev:   dev,
		net:   net,
		cache: make(map[string]string),
	}
}

// Cached returns the extended key of a path if already resolved.
func (r *Resolver) Cached(path hwwallet.DerivationPath) (string, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	xpub, ok := r.cache[path.Key()]
	return xpub, ok
}

// ExtendedKey returns the extended public key of a path, asking the device on
// a cache miss. Concurrent misses on the same path share one device request.
func (r *Resolver) ExtendedKey(ctx context.Context, path hwwallet.DerivationPath) (string, error) {
	if xpub, ok := r.Cached(path); ok {
		return xpub, nil
	}
	key := path.Key()
	xpub, err, _ := r.group.Do(key, func() (any, error) {
		if xpub, ok := r.Cached(path); ok {
			return xpub, nil
		}
		res, err := r.dev.Exchange(ctx, hwwallet.MethodGetWalletPublicKey, (&hwwallet.PathParams{Path: path}).Value())
		if err != nil {
			return "", err
		}
		pub, err := hwwallet.ParseWalletPublicKey(res)
		if err != nil {
			return "", err
		}
		xpub, err := Serialize(r.net, pub.PublicKey, pub.ChainCode)
		if err != nil {
			return "", err
		}
		r.lock.Lock()
		r.cache[key] = xpub
		r.lock.Unlock()

		log.Debug("Resolved extended public key", "path", path, "xpub", xpub)
		return xpub, nil
	})
	if err != nil {
		return "", err
	}
	return xpub.(string), nil
}

// ExtendedKeys resolves a batch of paths one at a time, preserving order.
// Any failure fails the whole batch.
func (r *Resolver) ExtendedKeys(ctx context.Context, paths []hwwallet.DerivationPath) ([]string, error) {
	xpubs := make([]string, len(paths))
	for i, path := range paths {
		xpub, err := r.ExtendedKey(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("path %v: %w", path, err)
		}
		xpubs[i] = xpub
	}
	return xpubs, nil
}
