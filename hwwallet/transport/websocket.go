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

	"github.com/gorilla/websocket"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/log"
)

// WebSocketLink connects to a device through a WebSocket bridge, such as a
// firmware emulator or a BLE proxy. Each fragment travels as one binary
// message in either direction.
// WebSocketLink 通过 WebSocket 桥接（例如固件模拟器或 BLE 代理）连接到设备。
type WebSocketLink struct {
	url    string
	mtu    int
	dialer *websocket.Dialer
	log    log.Logger

	conn *websocket.Conn
	lock sync.Mutex
}

// NewWebSocketLink creates a link to the bridge at url. A positive mtu is
// reported as the negotiated chunk size, zero leaves the channel default.
func NewWebSocketLink(url string, mtu int) *WebSocketLink {
	return &WebSocketLink{
		url:    url,
		mtu:    mtu,
		dialer: websocket.DefaultDialer,
		log:    log.New("link", "ws", "url", url),
	}
}

type wsWriter struct {
	conn *websocket.Conn
	lock sync.Mutex
}

func (w *wsWriter) Write(chunk []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

type wsNotifier struct {
	conn *websocket.Conn
	log  log.Logger
	once sync.Once
}

func (n *wsNotifier) Subscribe(fn func([]byte)) error {
	started := false
	n.once.Do(func() {
		started = true
		go func() {
			for {
				kind, data, err := n.conn.ReadMessage()
				if err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						n.log.Debug("Bridge reader stopped", "err", err)
					}
					return
				}
				if kind != websocket.BinaryMessage {
					n.log.Trace("Ignoring non-binary bridge message", "type", kind)
					continue
				}
				fn(data)
			}
		}()
	})
	if !started {
		return errors.New("already subscribed")
	}
	return nil
}

// Connect implements Link.
func (l *WebSocketLink) Connect(ctx context.Context) (WriteEndpoint, NotifyEndpoint, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	conn, resp, err := l.dialer.DialContext(ctx, l.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, nil, &hwwallet.TransportError{Op: "dial", Err: err}
	}
	l.conn = conn
	return &wsWriter{conn: conn}, &wsNotifier{conn: conn, log: l.log}, nil
}

// MTU implements Link.
func (l *WebSocketLink) MTU() int {
	return l.mtu
}

// Close implements Link.
func (l *WebSocketLink) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
