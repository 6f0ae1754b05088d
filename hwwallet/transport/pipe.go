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
	"errors"
	"sync"
)

var errPipeClosed = errors.New("pipe closed")

// PipeLink is an in-process link whose far end is driven by Go code, such as a
// device emulator. Writes are acknowledged once queued for the device end.
type PipeLink struct {
	mtu    int
	chunks chan []byte

	notify func([]byte)
	closed bool
	lock   sync.Mutex
}

// PipeDevice is the device end of a PipeLink.
type PipeDevice struct {
	link *PipeLink
}

// NewPipe creates a connected link and device end pair. A positive mtu is
// reported as the negotiated chunk size.
func NewPipe(mtu int) (*PipeLink, *PipeDevice) {
	link := &PipeLink{mtu: mtu, chunks: make(chan []byte, 1024)}
	return link, &PipeDevice{link: link}
}

type pipeEndpoint struct {
	link *PipeLink
}

func (e pipeEndpoint) Write(chunk []byte) error {
	e.link.lock.Lock()
	defer e.link.lock.Unlock()

	if e.link.closed {
		return errPipeClosed
	}
	select {
	case e.link.chunks <- append([]byte(nil), chunk...):
		return nil
	default:
		return errors.New("pipe full")
	}
}

func (e pipeEndpoint) Subscribe(fn func([]byte)) error {
	e.link.lock.Lock()
	defer e.link.lock.Unlock()
	e.link.notify = fn
	return nil
}

// Connect implements Link.
func (l *PipeLink) Connect(ctx context.Context) (WriteEndpoint, NotifyEndpoint, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed = false
	return pipeEndpoint{l}, pipeEndpoint{l}, nil
}

// MTU implements Link.
func (l *PipeLink) MTU() int { return l.mtu }

// Close implements Link. Pending chunks stay readable by the device end.
func (l *PipeLink) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed, l.notify = true, nil
	return nil
}

// Chunks returns the chunks written by the host, in order.
func (d *PipeDevice) Chunks() <-chan []byte {
	return d.link.chunks
}

// Notify delivers a notification fragment to the host.
func (d *PipeDevice) Notify(fragment []byte) error {
	d.link.lock.Lock()
	fn := d.link.notify
	d.link.lock.Unlock()

	if fn == nil {
		return errPipeClosed
	}
	fn(fragment)
	return nil
}
