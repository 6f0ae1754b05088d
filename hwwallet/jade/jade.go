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

// Package jade implements the device RPC client of the Blockstream Jade
// hardware wallet: CBOR request/response envelopes carried over a BLE (or
// bridged) transport channel.
// Package jade 实现 Blockstream Jade 硬件钱包的设备 RPC 客户端。
package jade

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/codec"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/log"
)

// Profile is the Nordic UART style GATT profile Jade advertises.
var Profile = transport.GATTProfile{
	Service: uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"),
	Write:   uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e"),
	Notify:  uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
}

// Error codes reported by the firmware.
const (
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeUserCancelled   = -32000
	CodeProtocolError   = -32001
	CodeHWLocked        = -32002
	CodeNetworkMismatch = -32003
)

// DeviceError converts an RPC error object into the device error kind the
// signing core acts upon.
func DeviceError(err *codec.RPCError) error {
	switch err.Code {
	case CodeUserCancelled:
		return hwwallet.NewDeclinedError(err.Code, err.Message)
	case CodeMethodNotFound, CodeHWLocked, CodeNetworkMismatch:
		return hwwallet.NewAbortedError(err.Code, err.Message)
	default:
		return hwwallet.NewGenericError(err.Code, err.Message)
	}
}

// messageChannel is the part of a transport channel the client needs.
type messageChannel interface {
	Exchange(ctx context.Context, msg []byte) ([]byte, error)
}

// Client is the RPC client of one Jade device. It allows a single exchange in
// flight, a concurrent one fails with ErrExchangeInFlight.
type Client struct {
	ch   messageChannel
	busy atomic.Bool
	log  log.Logger
}

// NewClient creates a client exchanging messages over ch.
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

	req := codec.NewRequest(method, params)
	data, err := codec.EncodeRequest(req)
	if err != nil {
		return hwwallet.Value{}, err
	}
	start := time.Now()
	c.log.Debug("Sending device request", "method", method, "id", req.ID, "size", len(data))

	reply, err := c.ch.Exchange(ctx, data)
	if err != nil {
		return hwwallet.Value{}, err
	}
	res, err := codec.DecodeResponse(reply)
	if err != nil {
		return hwwallet.Value{}, err
	}
	if res.ID != req.ID {
		c.log.Warn("Device response id mismatch", "method", method, "want", req.ID, "have", res.ID)
	}
	if res.Error != nil {
		c.log.Debug("Device rejected request", "method", method, "id", req.ID, "code", res.Error.Code, "msg", res.Error.Message)
		return hwwallet.Value{}, DeviceError(res.Error)
	}
	c.log.Debug("Received device response", "method", method, "id", req.ID, "elapsed", time.Since(start))
	return res.Result, nil
}

// Ping reports the device activity state: 0 idle, 1 busy, 2 awaiting user
// input.
func (c *Client) Ping(ctx context.Context) (int, error) {
	res, err := c.Exchange(ctx, "ping", hwwallet.Null())
	if err != nil {
		return 0, err
	}
	n, err := res.AsInt()
	if err != nil {
		return 0, fmt.Errorf("%w: ping: %v", hwwallet.ErrMalformedMessage, err)
	}
	return int(n), nil
}

// VersionInfo is the firmware self description.
type VersionInfo struct {
	Version  string // Firmware version, e.g. 1.0.31
	State    string // READY, LOCKED, UNINIT, TEMP or UNSAVED
	Board    string
	MAC      string // Efuse MAC address, the device serial
	Networks string // MAIN, TEST or ALL
	HasPIN   bool
}

// GetVersionInfo retrieves the firmware self description.
func (c *Client) GetVersionInfo(ctx context.Context) (*VersionInfo, error) {
	res, err := c.Exchange(ctx, "get_version_info", hwwallet.Null())
	if err != nil {
		return nil, err
	}
	if res.Kind() != hwwallet.KindMap {
		return nil, fmt.Errorf("%w: version info is %v", hwwallet.ErrMalformedMessage, res.Kind())
	}
	info := new(VersionInfo)
	for key, dst := range map[string]*string{
		"JADE_VERSION":  &info.Version,
		"JADE_STATE":    &info.State,
		"BOARD_TYPE":    &info.Board,
		"EFUSEMAC":      &info.MAC,
		"JADE_NETWORKS": &info.Networks,
	} {
		if field, ok := res.Get(key); ok {
			if *dst, err = field.AsString(); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", hwwallet.ErrMalformedMessage, key, err)
			}
		}
	}
	if info.Version == "" {
		return nil, fmt.Errorf("%w: missing firmware version", hwwallet.ErrMalformedMessage)
	}
	if field, ok := res.Get("JADE_HAS_PIN"); ok {
		info.HasPIN, _ = field.AsBool()
	}
	return info, nil
}
