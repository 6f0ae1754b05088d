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

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunyihoo/hwsigner/common/hexutil"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/log"
)

// Channel is a message channel to one device over a physical link. It owns
// the discovered endpoints and the fragment backlog of its connection.
//
// A channel whose response timed out, or whose stream broke mid-message, is
// desynchronized: every later operation fails until it is closed and opened
// again.
// Channel 是通过物理链路到单个设备的消息通道。它拥有其连接已发现的端点和分片积压。
type Channel struct {
	link Link
	cfg  Config
	log  log.Logger

	state  hwwallet.ConnState
	write  WriteEndpoint
	frags  chan []byte // Notifications of the current connection
	failed error       // Cause of desynchronization, nil if healthy
	lock   sync.Mutex  // Protects the fields above

	io sync.Mutex // Serializes message transfers
}

// NewChannel creates a disconnected channel over the link.
func NewChannel(link Link, cfg Config) *Channel {
	cfg = cfg.withDefaults()
	return &Channel{
		link:  link,
		cfg:   cfg,
		log:   cfg.Logger,
		state: hwwallet.Disconnected,
	}
}

// State returns the connection state.
func (c *Channel) State() hwwallet.ConnState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Open connects the link and resolves both endpoints, subscribing to
// notifications. On failure the channel stays disconnected.
func (c *Channel) Open(ctx context.Context) error {
	c.lock.Lock()
	if c.state != hwwallet.Disconnected {
		state := c.state
		c.lock.Unlock()
		if state == hwwallet.Ready {
			return nil
		}
		return fmt.Errorf("channel is %v", state)
	}
	c.state = hwwallet.Connecting
	c.lock.Unlock()

	start := time.Now()
	w, n, err := c.link.Connect(ctx)
	if err == nil && (w == nil || n == nil) {
		err = fmt.Errorf("%w: write endpoint found: %t, notify endpoint found: %t", hwwallet.ErrChannelNotReady, w != nil, n != nil)
	}
	frags := make(chan []byte, fragmentBacklog)
	if err == nil {
		err = n.Subscribe(func(fragment []byte) {
			cpy := append([]byte(nil), fragment...)
			select {
			case frags <- cpy:
			default:
				c.log.Error("Dropped device notification", "size", len(cpy))
				c.overflow(frags)
			}
		})
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	if err == nil && c.state != hwwallet.Connecting {
		// Closed while connecting
		c.link.Close()
		c.log.Debug("Device channel closed during open")
		return fmt.Errorf("%w: closed while connecting", hwwallet.ErrChannelNotReady)
	}
	if err != nil {
		c.state = hwwallet.Disconnected
		c.link.Close()
		c.log.Debug("Failed to open device channel", "err", err)
		return err
	}
	c.state, c.write, c.frags, c.failed = hwwallet.Ready, w, frags, nil
	c.log.Debug("Opened device channel", "chunk", c.chunkSize(), "elapsed", time.Since(start))
	return nil
}

// Close tears the link down and forgets the endpoints.
func (c *Channel) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state == hwwallet.Disconnected {
		return nil
	}
	c.state, c.write, c.frags, c.failed = hwwallet.Disconnected, nil, nil, nil
	return c.link.Close()
}

// Write sends a message as a sequence of acknowledged chunks, strictly in
// order. A failed chunk aborts the write; the remaining chunks are never
// attempted. Cancellation is only honoured before the first chunk.
// Write 将消息作为一系列确认块严格按顺序发送。某个块失败会中止写入，剩余的块不会再尝试。
func (c *Channel) Write(ctx context.Context, msg []byte) error {
	c.io.Lock()
	defer c.io.Unlock()
	return c.writeMessage(ctx, msg)
}

// Read waits for the next complete message, bounded by the channel timeout.
func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	c.io.Lock()
	defer c.io.Unlock()
	return c.readMessage(ctx)
}

// Exchange drops stale notifications, writes the request and waits for the
// response.
func (c *Channel) Exchange(ctx context.Context, msg []byte) ([]byte, error) {
	c.io.Lock()
	defer c.io.Unlock()

	if frags, err := c.ready(); err == nil {
	drain:
		for {
			select {
			case stale := <-frags:
				c.log.Warn("Dropping stale device notification", "data", hexutil.Bytes(stale))
			default:
				break drain
			}
		}
	}
	if err := c.writeMessage(ctx, msg); err != nil {
		return nil, err
	}
	return c.readMessage(ctx)
}

func (c *Channel) writeMessage(ctx context.Context, msg []byte) error {
	if _, err := c.ready(); err != nil {
		return err
	}
	c.lock.Lock()
	w, size := c.write, c.chunkSize()
	c.lock.Unlock()

	chunks, err := c.cfg.Framer.Frame(msg, size)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, chunk := range chunks {
		c.log.Trace("Writing chunk to device", "index", i, "size", len(chunk), "data", hexutil.Bytes(chunk))
		if err := w.Write(chunk); err != nil {
			err = &hwwallet.TransportError{Op: fmt.Sprintf("write chunk %d/%d", i+1, len(chunks)), Err: err}
			c.setFailed(err)
			return err
		}
	}
	return nil
}

func (c *Channel) readMessage(ctx context.Context) ([]byte, error) {
	frags, err := c.ready()
	if err != nil {
		return nil, err
	}
	var (
		reasm   = c.cfg.Framer.NewReassembler()
		timeout = time.NewTimer(c.cfg.Timeout)
		count   int
	)
	defer timeout.Stop()

	for {
		select {
		case frag := <-frags:
			count++
			c.log.Trace("Read fragment from device", "index", count-1, "data", hexutil.Bytes(frag))
			msg, err := reasm.Push(frag)
			if err != nil {
				c.setFailed(err)
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
		case <-timeout.C:
			c.log.Warn("Device response timed out", "fragments", count, "timeout", c.cfg.Timeout)
			c.setFailed(hwwallet.ErrTimeout)
			return nil, hwwallet.ErrTimeout
		case <-ctx.Done():
			c.setFailed(ctx.Err())
			return nil, ctx.Err()
		}
	}
}

// ready returns the fragment channel of a usable connection.
func (c *Channel) ready() (chan []byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != hwwallet.Ready {
		return nil, hwwallet.ErrChannelNotReady
	}
	if c.failed != nil {
		return nil, fmt.Errorf("channel desynchronized: %w", c.failed)
	}
	return c.frags, nil
}

func (c *Channel) setFailed(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.failed == nil {
		c.failed = err
	}
}

// overflow desynchronizes the connection owning the fragment channel, unless
// it was replaced in the meantime.
func (c *Channel) overflow(frags chan []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.frags == frags && c.failed == nil {
		c.failed = errFragmentOverflow
	}
}

// chunkSize returns the write chunk size. The lock must be held.
func (c *Channel) chunkSize() int {
	if mtu := c.link.MTU(); mtu > 0 {
		return mtu
	}
	return c.cfg.MaxChunk
}
