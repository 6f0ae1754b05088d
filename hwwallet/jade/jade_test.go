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

package jade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/codec"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
)

// emulate serves requests arriving on the device end of a pipe, answering
// each with the handler's encoded reply split into small notifications.
func emulate(t *testing.T, dev *transport.PipeDevice, handle func(req *codec.Request) []byte) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		var acc codec.Accumulator
		for {
			select {
			case chunk := <-dev.Chunks():
				msg, err := acc.Push(chunk)
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
				reply := handle(req)
				for len(reply) > 0 {
					n := min(20, len(reply))
					dev.Notify(reply[:n])
					reply = reply[n:]
				}
			case <-done:
				return
			}
		}
	}()
}

func result(t *testing.T, req *codec.Request, v hwwallet.Value) []byte {
	data, err := codec.EncodeResult(req.ID, v)
	require.NoError(t, err)
	return data
}

func versionInfo() hwwallet.Value {
	return hwwallet.Map(map[string]hwwallet.Value{
		"JADE_VERSION":  hwwallet.String("1.0.31"),
		"JADE_STATE":    hwwallet.String("READY"),
		"BOARD_TYPE":    hwwallet.String("JADE_V2"),
		"EFUSEMAC":      hwwallet.String("A1B2C3D4E5F6"),
		"JADE_NETWORKS": hwwallet.String("ALL"),
		"JADE_HAS_PIN":  hwwallet.Bool(true),
	})
}

func newTestDriver(t *testing.T, handle func(req *codec.Request) []byte) *Driver {
	link, dev := transport.NewPipe(0)
	emulate(t, dev, handle)
	return NewDriver(link, transport.Config{Timeout: 2 * time.Second})
}

func TestExchange(t *testing.T) {
	var (
		sig  = []byte{0x30, 0x44, 0x02, 0x20, 0x01}
		seen = make(chan *codec.Request, 1)
	)
	d := newTestDriver(t, func(req *codec.Request) []byte {
		if req.Method == "get_version_info" {
			return result(t, req, versionInfo())
		}
		seen <- req
		return result(t, req, (&hwwallet.SignatureResult{Signature: sig}).Value())
	})
	require.NoError(t, d.Open(context.Background()))
	defer d.Close()

	params := &hwwallet.UntrustedHashSignParams{
		Path:     hwwallet.DerivationPath{0x80000054, 0x80000000, 0x80000000, 0, 3},
		PIN:      "0",
		Locktime: 650000,
		Sighash:  hwwallet.SighashAll,
	}
	res, err := d.Exchange(context.Background(), hwwallet.MethodUntrustedHashSign, params.Value())
	require.NoError(t, err)

	parsed, err := hwwallet.ParseSignatureResult(res)
	require.NoError(t, err)
	assert.Equal(t, sig, parsed.Signature)

	req := <-seen
	assert.Equal(t, hwwallet.MethodUntrustedHashSign, req.Method)
	assert.True(t, params.Value().Equal(req.Params))
}

func TestDeviceErrors(t *testing.T) {
	tests := []struct {
		code int
		kind error
	}{
		{CodeUserCancelled, hwwallet.ErrDeviceDeclined},
		{CodeMethodNotFound, hwwallet.ErrDeviceAborted},
		{CodeHWLocked, hwwallet.ErrDeviceAborted},
		{CodeNetworkMismatch, hwwallet.ErrDeviceAborted},
		{CodeInvalidParams, hwwallet.ErrDeviceGeneric},
		{CodeProtocolError, hwwallet.ErrDeviceGeneric},
		{42, hwwallet.ErrDeviceGeneric},
	}
	for _, tt := range tests {
		d := newTestDriver(t, func(req *codec.Request) []byte {
			if req.Method == "get_version_info" {
				return result(t, req, versionInfo())
			}
			data, err := codec.EncodeError(req.ID, tt.code, "nope")
			require.NoError(t, err)
			return data
		})
		require.NoError(t, d.Open(context.Background()))

		_, err := d.Exchange(context.Background(), hwwallet.MethodStartUntrustedTx, hwwallet.Null())
		assert.True(t, errors.Is(err, tt.kind), "code %d: have %v", tt.code, err)

		var derr *hwwallet.DeviceError
		require.True(t, errors.As(err, &derr))
		assert.Equal(t, tt.code, derr.Code)
		assert.Equal(t, "nope", derr.Message)
		d.Close()
	}
}

func TestDriverLifecycle(t *testing.T) {
	var (
		lock  sync.Mutex
		pings int
		fail  bool
	)
	d := newTestDriver(t, func(req *codec.Request) []byte {
		switch req.Method {
		case "get_version_info":
			return result(t, req, versionInfo())
		case "ping":
			lock.Lock()
			defer lock.Unlock()
			pings++
			if fail {
				data, _ := codec.EncodeError(req.ID, CodeInternalError, "boom")
				return data
			}
			return result(t, req, hwwallet.Int(0))
		}
		t.Errorf("unexpected method %q", req.Method)
		return nil
	})
	status, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, "Closed", status)
	assert.Equal(t, hwwallet.FamilyJade, d.Family())

	require.NoError(t, d.Open(context.Background()))
	status, err = d.Status()
	require.NoError(t, err)
	assert.Equal(t, "Jade v1.0.31 online (READY)", status)

	info := d.VersionInfo()
	require.NotNil(t, info)
	assert.Equal(t, "A1B2C3D4E5F6", info.MAC)
	assert.Equal(t, "ALL", info.Networks)
	assert.True(t, info.HasPIN)

	require.NoError(t, d.Heartbeat(context.Background()))

	lock.Lock()
	fail = true
	lock.Unlock()
	err = d.Heartbeat(context.Background())
	assert.True(t, errors.Is(err, hwwallet.ErrDeviceGeneric))
	_, err = d.Status()
	assert.Error(t, err)

	require.NoError(t, d.Close())
	lock.Lock()
	assert.Equal(t, 2, pings)
	lock.Unlock()
}

func TestOpenRejectsBadVersionInfo(t *testing.T) {
	d := newTestDriver(t, func(req *codec.Request) []byte {
		return result(t, req, hwwallet.Map(map[string]hwwallet.Value{"JADE_STATE": hwwallet.String("READY")}))
	})
	err := d.Open(context.Background())
	assert.True(t, errors.Is(err, hwwallet.ErrMalformedMessage), "have %v", err)
	assert.Nil(t, d.VersionInfo())
}

// blockingChannel holds every exchange until released.
type blockingChannel struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingChannel) Exchange(ctx context.Context, msg []byte) ([]byte, error) {
	c.entered <- struct{}{}
	<-c.release
	return codec.EncodeResult("1", hwwallet.Int(0))
}

func TestExchangeInFlight(t *testing.T) {
	ch := &blockingChannel{entered: make(chan struct{}), release: make(chan struct{})}
	client := NewClient(ch, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := client.Ping(context.Background())
		errc <- err
	}()
	<-ch.entered

	_, err := client.Exchange(context.Background(), "ping", hwwallet.Null())
	assert.True(t, errors.Is(err, hwwallet.ErrExchangeInFlight))

	close(ch.release)
	require.NoError(t, <-errc)

	// The slot frees up once the first exchange completes
	go func() { <-ch.entered }()
	_, err = client.Ping(context.Background())
	assert.NoError(t, err)
}

func TestMalformedResponse(t *testing.T) {
	d := newTestDriver(t, func(req *codec.Request) []byte {
		if req.Method == "get_version_info" {
			return result(t, req, versionInfo())
		}
		// {"id": "1"}, neither result nor error
		return []byte{0xa1, 0x62, 'i', 'd', 0x61, '1'}
	})
	require.NoError(t, d.Open(context.Background()))
	defer d.Close()

	_, err := d.Exchange(context.Background(), "ping", hwwallet.Null())
	assert.True(t, errors.Is(err, hwwallet.ErrMalformedMessage), "have %v", err)
}
