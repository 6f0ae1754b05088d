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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/codec"
)

var errLinkDropped = errors.New("link dropped")

// fakeLink is an in-memory link recording every written chunk.
type fakeLink struct {
	mtu        int
	noWrite    bool
	noNotify   bool
	connectErr error
	failAt     int // 1-based index of the write to fail, 0 for none

	onWrite   func(l *fakeLink, chunk []byte)
	onConnect func()

	lock   sync.Mutex
	writes [][]byte
	notify func([]byte)
	closed int
}

func (l *fakeLink) Connect(ctx context.Context) (WriteEndpoint, NotifyEndpoint, error) {
	if l.onConnect != nil {
		l.onConnect()
	}
	if l.connectErr != nil {
		return nil, nil, l.connectErr
	}
	var (
		w WriteEndpoint
		n NotifyEndpoint
	)
	if !l.noWrite {
		w = fakeWriter{l}
	}
	if !l.noNotify {
		n = fakeNotifier{l}
	}
	return w, n, nil
}

func (l *fakeLink) MTU() int { return l.mtu }

func (l *fakeLink) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed++
	return nil
}

// deliver pushes notification fragments as the device would.
func (l *fakeLink) deliver(frags ...[]byte) {
	l.lock.Lock()
	fn := l.notify
	l.lock.Unlock()
	for _, frag := range frags {
		fn(frag)
	}
}

func (l *fakeLink) sizes() []int {
	l.lock.Lock()
	defer l.lock.Unlock()
	sizes := make([]int, len(l.writes))
	for i, w := range l.writes {
		sizes[i] = len(w)
	}
	return sizes
}

type fakeWriter struct{ l *fakeLink }

func (w fakeWriter) Write(chunk []byte) error {
	w.l.lock.Lock()
	w.l.writes = append(w.l.writes, append([]byte(nil), chunk...))
	fail := w.l.failAt == len(w.l.writes)
	onWrite := w.l.onWrite
	w.l.lock.Unlock()

	if fail {
		return errLinkDropped
	}
	if onWrite != nil {
		onWrite(w.l, chunk)
	}
	return nil
}

type fakeNotifier struct{ l *fakeLink }

func (n fakeNotifier) Subscribe(fn func([]byte)) error {
	n.l.lock.Lock()
	defer n.l.lock.Unlock()
	n.l.notify = fn
	return nil
}

// split cuts data into k nearly equal fragments.
func split(data []byte, k int) [][]byte {
	var (
		frags = make([][]byte, 0, k)
		size  = (len(data) + k - 1) / k
	)
	for len(data) > 0 {
		n := min(size, len(data))
		frags = append(frags, data[:n])
		data = data[n:]
	}
	return frags
}

func openChannel(t *testing.T, link *fakeLink, cfg Config) *Channel {
	t.Helper()
	c := NewChannel(link, cfg)
	require.NoError(t, c.Open(context.Background()))
	require.Equal(t, hwwallet.Ready, c.State())
	return c
}

func TestChannelChunking(t *testing.T) {
	link := new(fakeLink)
	c := openChannel(t, link, Config{})

	msg := bytes.Repeat([]byte{0xab}, 300)
	require.NoError(t, c.Write(context.Background(), msg))
	assert.Equal(t, []int{128, 128, 44}, link.sizes())
	assert.Equal(t, msg, bytes.Join(link.writes, nil))
}

func TestChannelNegotiatedMTU(t *testing.T) {
	link := &fakeLink{mtu: 200}
	c := openChannel(t, link, Config{})

	require.NoError(t, c.Write(context.Background(), make([]byte, 300)))
	assert.Equal(t, []int{200, 100}, link.sizes())
}

// Tests that a failing chunk aborts the write without attempting the rest,
// and that the channel refuses further use until reopened.
func TestChannelChunkFailure(t *testing.T) {
	link := &fakeLink{failAt: 2}
	c := openChannel(t, link, Config{})

	err := c.Write(context.Background(), make([]byte, 300))
	require.Error(t, err)
	assert.Equal(t, []int{128, 128}, link.sizes(), "third chunk must not be attempted")

	var terr *hwwallet.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "write chunk 2/3", terr.Op)
	assert.True(t, errors.Is(err, hwwallet.ErrTransport))
	assert.True(t, errors.Is(err, errLinkDropped))

	err = c.Write(context.Background(), []byte{0x01})
	assert.True(t, errors.Is(err, hwwallet.ErrTransport))
	assert.Len(t, link.writes, 2)
}

// Tests that a response split into k notifications is reassembled into the
// exact message, for a range of k.
func TestChannelExchangeFragments(t *testing.T) {
	req, err := codec.Encode("get_version_info", hwwallet.Null())
	require.NoError(t, err)
	res, err := codec.EncodeResult("123456", hwwallet.Map(map[string]hwwallet.Value{
		"JADE_VERSION": hwwallet.String("1.0.31"),
		"EFUSEMAC":     hwwallet.String("0a1b2c3d4e5f"),
		"blob":         hwwallet.Bytes(bytes.Repeat([]byte{0x11}, 100)),
	}))
	require.NoError(t, err)

	for _, k := range []int{1, 2, 3, 7, 32, len(res)} {
		var written int
		link := &fakeLink{onWrite: func(l *fakeLink, chunk []byte) {
			if written += len(chunk); written == len(req) {
				l.deliver(split(res, k)...)
			}
		}}
		c := openChannel(t, link, Config{Timeout: time.Second})

		got, err := c.Exchange(context.Background(), req)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, res, got, "k=%d", k)
	}
}

func TestChannelExchangeDropsStale(t *testing.T) {
	res, err := codec.EncodeResult("1", hwwallet.Bool(true))
	require.NoError(t, err)
	stale, err := codec.EncodeResult("2", hwwallet.Bool(false))
	require.NoError(t, err)

	link := &fakeLink{onWrite: func(l *fakeLink, chunk []byte) { l.deliver(res) }}
	c := openChannel(t, link, Config{Timeout: time.Second})
	link.deliver(stale)

	got, err := c.Exchange(context.Background(), []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, res, got)
}

func TestChannelTimeoutDesyncs(t *testing.T) {
	link := new(fakeLink)
	c := openChannel(t, link, Config{Timeout: 20 * time.Millisecond})

	_, err := c.Exchange(context.Background(), []byte{0x01})
	require.True(t, errors.Is(err, hwwallet.ErrTimeout), "have %v", err)

	// A late response must not be mistaken for the next one
	link.deliver([]byte{0x02})
	err = c.Write(context.Background(), []byte{0x03})
	assert.True(t, errors.Is(err, hwwallet.ErrTimeout), "have %v", err)
	_, err = c.Read(context.Background())
	assert.True(t, errors.Is(err, hwwallet.ErrTimeout), "have %v", err)
	assert.Len(t, link.writes, 1)

	// Reopening recovers
	require.NoError(t, c.Close())
	require.NoError(t, c.Open(context.Background()))
	assert.NoError(t, c.Write(context.Background(), []byte{0x04}))
}

func TestChannelMalformedResponse(t *testing.T) {
	link := &fakeLink{onWrite: func(l *fakeLink, chunk []byte) { l.deliver([]byte{0xff}) }}
	c := openChannel(t, link, Config{Timeout: time.Second})

	_, err := c.Exchange(context.Background(), []byte{0x01})
	assert.True(t, errors.Is(err, hwwallet.ErrMalformedMessage), "have %v", err)
}

func TestChannelMissingEndpoint(t *testing.T) {
	for _, link := range []*fakeLink{{noWrite: true}, {noNotify: true}, {noWrite: true, noNotify: true}} {
		c := NewChannel(link, Config{})
		err := c.Open(context.Background())
		assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady), "have %v", err)
		assert.Equal(t, hwwallet.Disconnected, c.State())
		assert.Equal(t, 1, link.closed)

		err = c.Write(context.Background(), []byte{0x01})
		assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady))
	}
}

func TestChannelConnectFailure(t *testing.T) {
	link := &fakeLink{connectErr: &hwwallet.TransportError{Op: "connect", Err: errLinkDropped}}
	c := NewChannel(link, Config{})

	err := c.Open(context.Background())
	assert.True(t, errors.Is(err, hwwallet.ErrTransport))
	assert.Equal(t, hwwallet.Disconnected, c.State())
}

// Tests that a channel closed while connecting does not come up on the torn
// down link.
func TestChannelClosedWhileConnecting(t *testing.T) {
	var (
		link = new(fakeLink)
		c    = NewChannel(link, Config{})
	)
	link.onConnect = func() {
		assert.Equal(t, hwwallet.Connecting, c.State())
		require.NoError(t, c.Close())
	}
	err := c.Open(context.Background())
	assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady))
	assert.Equal(t, hwwallet.Disconnected, c.State())
	assert.Equal(t, 2, link.closed)

	_, err = c.Exchange(context.Background(), []byte{0x01})
	assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady))

	// A later open starts over
	link.onConnect = nil
	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, hwwallet.Ready, c.State())
}

func TestChannelNotReady(t *testing.T) {
	c := NewChannel(new(fakeLink), Config{})

	err := c.Write(context.Background(), []byte{0x01})
	assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady))
	_, err = c.Read(context.Background())
	assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady))
	_, err = c.Exchange(context.Background(), []byte{0x01})
	assert.True(t, errors.Is(err, hwwallet.ErrChannelNotReady))
}

func TestChannelCancelBeforeWrite(t *testing.T) {
	link := new(fakeLink)
	c := openChannel(t, link, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Write(ctx, make([]byte, 300))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, link.writes)

	// Cancellation before any chunk leaves the channel usable
	assert.NoError(t, c.Write(context.Background(), []byte{0x01}))
}

func TestStreamFramer(t *testing.T) {
	chunks, err := StreamFramer{}.Frame(nil, 128)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = StreamFramer{}.Frame([]byte{0x01}, 0)
	assert.Error(t, err)

	chunks, err = StreamFramer{}.Frame(make([]byte, 256), 128)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestChannelBacklogOverflow(t *testing.T) {
	link := new(fakeLink)
	c := openChannel(t, link, Config{Timeout: time.Second})

	for i := 0; i <= fragmentBacklog; i++ {
		link.deliver([]byte{0xa1})
	}
	_, err := c.Read(context.Background())
	assert.True(t, errors.Is(err, errFragmentOverflow), "have %v", err)
}
