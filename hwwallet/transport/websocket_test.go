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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/codec"
)

// echoBridge records the size of every binary message and echoes it back.
func echoBridge(t *testing.T, sizes chan<- int) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			sizes <- len(data)
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketLinkExchange(t *testing.T) {
	sizes := make(chan int, 16)
	srv := echoBridge(t, sizes)
	defer srv.Close()

	link := NewWebSocketLink("ws"+strings.TrimPrefix(srv.URL, "http"), 0)
	c := NewChannel(link, Config{Timeout: 5 * time.Second})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	msg, err := codec.Encode("ping", hwwallet.Map(map[string]hwwallet.Value{
		"pad": hwwallet.Bytes(bytes.Repeat([]byte{0x42}, 280)),
	}))
	require.NoError(t, err)
	require.Greater(t, len(msg), 2*DefaultMaxChunk)

	got, err := c.Exchange(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	close(sizes)
	var seen []int
	for size := range sizes {
		seen = append(seen, size)
	}
	assert.Equal(t, []int{128, 128, len(msg) - 256}, seen)
}

func TestWebSocketLinkDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewChannel(NewWebSocketLink("ws"+strings.TrimPrefix(srv.URL, "http"), 0), Config{})
	err := c.Open(context.Background())
	assert.ErrorIs(t, err, hwwallet.ErrTransport)
	assert.Equal(t, hwwallet.Disconnected, c.State())
}
