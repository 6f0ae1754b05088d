// Copyright 2025 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/codec"
)

// jadeBridge emulates a Jade behind a WebSocket bridge, recording the methods
// it is asked to run.
type jadeBridge struct {
	srv     *httptest.Server
	lock    sync.Mutex
	methods []string
}

func newJadeBridge(t *testing.T) *jadeBridge {
	b := new(jadeBridge)
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var acc codec.Accumulator
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := acc.Push(data)
			if err != nil {
				t.Errorf("bad request stream: %v", err)
				return
			}
			if msg == nil {
				continue
			}
			req, err := codec.DecodeRequest(msg)
			if err != nil {
				t.Errorf("bad request: %v", err)
				return
			}
			b.lock.Lock()
			b.methods = append(b.methods, req.Method)
			b.lock.Unlock()

			reply, err := codec.EncodeResult(req.ID, b.handle(req))
			if err != nil {
				t.Errorf("bad reply: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *jadeBridge) handle(req *codec.Request) hwwallet.Value {
	switch req.Method {
	case "get_version_info":
		return hwwallet.Map(map[string]hwwallet.Value{
			"JADE_VERSION": hwwallet.String("1.0.31"),
			"JADE_STATE":   hwwallet.String("READY"),
		})
	case hwwallet.MethodGetWalletPublicKey:
		pub, _ := hex.DecodeString("0339a36013301597daef41fbe593a02cc513d0b55527ec2df1050e2e8ff49c85c2")
		cc, _ := hex.DecodeString("873dff81c02f525623fd1fe5167eac3a55a049de3d314bb42ee227ffed37d508")
		return (&hwwallet.WalletPublicKey{PublicKey: pub, ChainCode: cc}).Value()
	case hwwallet.MethodUntrustedHashSign:
		p, _ := hwwallet.ParseUntrustedHashSignParams(req.Params)
		return (&hwwallet.SignatureResult{Signature: []byte{0x30, byte(p.Path[len(p.Path)-1])}}).Value()
	case hwwallet.MethodSignMessageSign:
		return (&hwwallet.SignatureResult{Signature: []byte{0x31, 0x45}}).Value()
	}
	return hwwallet.Bool(true)
}

func (b *jadeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *jadeBridge) calls() []string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]string(nil), b.methods...)
}

func TestInfoCommand(t *testing.T) {
	bridge := newJadeBridge(t)
	out, err := runApp(t, "--device", "jade-ws", "--device.url", bridge.url(), "info")
	require.NoError(t, err)
	assert.Equal(t, "Jade v1.0.31 online (READY)\n", out)
}

func TestXpubCommand(t *testing.T) {
	bridge := newJadeBridge(t)
	out, err := runApp(t, "--device", "jade-ws", "--device.url", bridge.url(), "xpub", "m/84'/0'/0'", "m/84'/0'/1'", "m/84'/0'/0'")
	require.NoError(t, err)

	xpub := "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"
	assert.Equal(t, strings.Repeat(xpub+"\n", 3), out)
	assert.Equal(t, []string{"get_version_info", hwwallet.MethodGetWalletPublicKey, hwwallet.MethodGetWalletPublicKey}, bridge.calls())

	_, err = runApp(t, "--device", "jade-ws", "--device.url", bridge.url(), "xpub", "/bad")
	assert.Error(t, err)
}

func TestSignTxCommand(t *testing.T) {
	bridge := newJadeBridge(t)
	tx := `{
		"transaction_version": 2,
		"transaction_locktime": 0,
		"inputs": [
			{"txhash": "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b", "pt_idx": 0, "satoshi": 5000, "sequence": 4294967295, "prevout_script": "0014aabb", "user_path": "m/84'/0'/0'/0/4"},
			{"txhash": "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b", "pt_idx": 1, "satoshi": 7000, "sequence": 4294967295, "prevout_script": "0014ccdd", "user_path": "m/84'/0'/0'/1/9"}
		],
		"outputs": [{"script": "0014eeff", "satoshi": 11000}]
	}`
	file := filepath.Join(t.TempDir(), "tx.json")
	require.NoError(t, os.WriteFile(file, []byte(tx), 0644))

	out, err := runApp(t, "--device", "jade-ws", "--device.url", bridge.url(), "signtx", file)
	require.NoError(t, err)

	var sigs []string
	require.NoError(t, json.Unmarshal([]byte(out), &sigs))
	assert.Equal(t, []string{"3004", "3009"}, sigs)
	assert.Len(t, bridge.calls(), 1+6)
}

func TestSignMsgCommand(t *testing.T) {
	bridge := newJadeBridge(t)
	out, err := runApp(t, "--device", "jade-ws", "--device.url", bridge.url(), "signmsg", "m/44'/0'/0'/0/0", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "3145\n", out)
	assert.Equal(t, []string{"get_version_info", hwwallet.MethodSignMessagePrepare, hwwallet.MethodSignMessageSign}, bridge.calls())

	_, err = runApp(t, "--device", "jade-ws", "--device.url", bridge.url(), "signmsg", "m/0")
	assert.Error(t, err)
}
