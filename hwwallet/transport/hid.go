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

	"github.com/karalabe/hid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/log"
)

// HIDReportSize is the size of the USB HID reports exchanged with wallets.
const HIDReportSize = 64

// HIDLink is a USB HID connection to a wallet. Every write is one report,
// acknowledged by the host stack accepting it; incoming reports are delivered
// as notifications by a reader goroutine.
// HIDLink 是到钱包的 USB HID 连接。
type HIDLink struct {
	info hid.DeviceInfo
	log  log.Logger

	device hid.Device
	done   chan struct{}
	lock   sync.Mutex
}

// NewHIDLink creates a link to an enumerated USB device.
func NewHIDLink(info hid.DeviceInfo) *HIDLink {
	return &HIDLink{
		info: info,
		log:  log.New("link", "hid", "path", info.Path),
	}
}

type hidWriter struct {
	device hid.Device
}

func (w *hidWriter) Write(chunk []byte) error {
	_, err := w.device.Write(chunk)
	return err
}

type hidNotifier struct {
	device hid.Device
	done   chan struct{}
	log    log.Logger
	once   sync.Once
}

// Subscribe starts the report reader. It exits once the device is closed.
func (n *hidNotifier) Subscribe(fn func([]byte)) error {
	started := false
	n.once.Do(func() {
		started = true
		go func() {
			report := make([]byte, HIDReportSize)
			for {
				size, err := n.device.Read(report)
				if err != nil {
					select {
					case <-n.done:
					default:
						n.log.Debug("USB report reader stopped", "err", err)
					}
					return
				}
				if size > 0 {
					fn(report[:size])
				}
			}
		}()
	})
	if !started {
		return errors.New("already subscribed")
	}
	return nil
}

// Connect implements Link. HID devices expose a single interface, so both
// endpoints are always found once the device opens.
func (l *HIDLink) Connect(ctx context.Context) (WriteEndpoint, NotifyEndpoint, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	device, err := l.info.Open()
	if err != nil {
		return nil, nil, &hwwallet.TransportError{Op: "open", Err: err}
	}
	l.device, l.done = device, make(chan struct{})
	l.log.Debug("Opened USB device", "vendor", l.info.VendorID, "product", l.info.ProductID)
	return &hidWriter{device: device}, &hidNotifier{device: device, done: l.done, log: l.log}, nil
}

// MTU implements Link, every write is exactly one report.
func (l *HIDLink) MTU() int {
	return HIDReportSize
}

// Close implements Link.
func (l *HIDLink) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.device == nil {
		return nil
	}
	close(l.done)
	err := l.device.Close()
	l.device, l.done = nil, nil
	return err
}
