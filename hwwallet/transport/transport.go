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

// Package transport implements the message channel to a hardware wallet on
// top of an MTU constrained physical link: chunked acknowledged writes on one
// endpoint, asynchronous notifications reassembled into messages on the other.
// Package transport 在受 MTU 限制的物理链路之上实现到硬件钱包的消息通道：在一个端点上进行分块确认写入，在另一个端点上将异步通知重组为消息。
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sunyihoo/hwsigner/hwwallet/codec"
	"github.com/sunyihoo/hwsigner/log"
)

const (
	// DefaultMaxChunk is the write chunk size used unless the link reports a
	// negotiated maximum.
	DefaultMaxChunk = 128

	// DefaultTimeout bounds the wait for a complete response.
	DefaultTimeout = 30 * time.Second

	// fragmentBacklog is the number of notifications buffered between the
	// link callback and a reader.
	fragmentBacklog = 256
)

var errFragmentOverflow = errors.New("notification backlog overflow")

// WriteEndpoint is the write side of a device link.
type WriteEndpoint interface {
	// Write delivers one chunk and returns once the device acknowledged it.
	Write(chunk []byte) error
}

// NotifyEndpoint is the notification side of a device link.
type NotifyEndpoint interface {
	// Subscribe registers the callback receiving every incoming fragment. It
	// is invoked once per connection. The callback must not retain the slice.
	Subscribe(fn func(fragment []byte)) error
}

// Link is a physical connection to a hardware wallet (BLE GATT, USB HID or a
// bridge). Connect establishes the connection and runs endpoint discovery; a
// missing endpoint is reported as nil.
// Link 是到硬件钱包的物理连接（BLE GATT、USB HID 或桥接）。
type Link interface {
	Connect(ctx context.Context) (WriteEndpoint, NotifyEndpoint, error)

	// MTU returns the negotiated maximum write size, or 0 if the link does not
	// confirm one.
	MTU() int

	Close() error
}

// Framer translates between messages and link level chunks.
type Framer interface {
	// Frame splits a message into the chunks to write, none longer than mtu.
	Frame(msg []byte, mtu int) ([][]byte, error)

	// NewReassembler returns a reassembler for one incoming message.
	NewReassembler() Reassembler
}

// Reassembler accumulates fragments until a message is complete.
type Reassembler interface {
	// Push feeds one fragment, returning the message once complete and nil
	// while more fragments are needed.
	Push(fragment []byte) ([]byte, error)
}

// StreamFramer frames self-delimiting CBOR messages: writes are plain slices
// of the message, completion is detected by decoding the accumulated stream.
type StreamFramer struct{}

// Frame implements Framer.
func (StreamFramer) Frame(msg []byte, mtu int) ([][]byte, error) {
	if mtu <= 0 {
		return nil, errors.New("invalid chunk size")
	}
	chunks := make([][]byte, 0, (len(msg)+mtu-1)/mtu)
	for len(msg) > 0 {
		n := min(mtu, len(msg))
		chunks = append(chunks, msg[:n])
		msg = msg[n:]
	}
	return chunks, nil
}

// NewReassembler implements Framer.
func (StreamFramer) NewReassembler() Reassembler {
	return new(codec.Accumulator)
}

// Config contains the settings of a channel.
type Config struct {
	MaxChunk int           // Write chunk size, DefaultMaxChunk if zero
	Timeout  time.Duration // Response timeout, DefaultTimeout if zero
	Framer   Framer        // Message framing, StreamFramer if nil
	Logger   log.Logger    // Logger, the root logger if nil
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultMaxChunk
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Framer == nil {
		cfg.Framer = StreamFramer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root()
	}
	return cfg
}
