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
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/log"
	"tinygo.org/x/bluetooth"
)

// GATTProfile names the GATT service and the characteristic pair carrying a
// device protocol.
type GATTProfile struct {
	Service uuid.UUID // Primary service advertised by the device
	Write   uuid.UUID // Characteristic written with response
	Notify  uuid.UUID // Characteristic delivering notifications
}

func bleUUID(id uuid.UUID) bluetooth.UUID {
	return bluetooth.NewUUID(id)
}

// BLELink is a GATT connection to a peripheral.
// BLELink 是到外设的 GATT 连接。
type BLELink struct {
	adapter *bluetooth.Adapter
	address bluetooth.Address
	profile GATTProfile
	log     log.Logger

	device *bluetooth.Device
	mtu    int
	lock   sync.Mutex
}

// NewBLELink creates a link to the peripheral at the given address. The
// adapter must already be enabled.
func NewBLELink(adapter *bluetooth.Adapter, address bluetooth.Address, profile GATTProfile) *BLELink {
	return &BLELink{
		adapter: adapter,
		address: address,
		profile: profile,
		log:     log.New("link", "ble", "addr", address.String()),
	}
}

type bleNotifier struct {
	char bluetooth.DeviceCharacteristic
}

func (n *bleNotifier) Subscribe(fn func([]byte)) error {
	return n.char.EnableNotifications(fn)
}

// Connect implements Link, discovering service first, then the characteristic
// pair inside it.
func (l *BLELink) Connect(ctx context.Context) (WriteEndpoint, NotifyEndpoint, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	device, err := l.adapter.Connect(l.address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, nil, &hwwallet.TransportError{Op: "connect", Err: err}
	}
	l.device = &device

	services, err := device.DiscoverServices([]bluetooth.UUID{bleUUID(l.profile.Service)})
	if err != nil || len(services) == 0 {
		l.log.Debug("GATT service not found", "service", l.profile.Service, "err", err)
		return nil, nil, nil
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bleUUID(l.profile.Write), bleUUID(l.profile.Notify)})
	if err != nil {
		return nil, nil, &hwwallet.TransportError{Op: "discover characteristics", Err: err}
	}
	var (
		w WriteEndpoint
		n NotifyEndpoint
	)
	for _, char := range chars {
		switch char.UUID() {
		case bleUUID(l.profile.Write):
			if w, err = newBLEWriter(l.address, char, l.profile.Write); err != nil {
				return nil, nil, &hwwallet.TransportError{Op: "resolve write characteristic", Err: err}
			}
			if mtu, err := char.GetMTU(); err == nil && mtu > 3 {
				// ATT header takes three bytes of each packet
				l.mtu = int(mtu) - 3
			}
		case bleUUID(l.profile.Notify):
			n = &bleNotifier{char: char}
		}
	}
	l.log.Debug("Discovered GATT endpoints", "write", w != nil, "notify", n != nil, "mtu", l.mtu)
	return w, n, nil
}

// MTU implements Link. Zero means the peripheral did not confirm a value.
func (l *BLELink) MTU() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.mtu
}

// Close implements Link.
func (l *BLELink) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.device == nil {
		return nil
	}
	err := l.device.Disconnect()
	l.device, l.mtu = nil, 0
	return err
}

// Peripheral is a scan hit.
type Peripheral struct {
	Address bluetooth.Address
	Name    string
	RSSI    int16
}

// ScanBLE scans until a peripheral advertising the service shows up, or the
// context is done. A non-empty address restricts the scan to that peripheral.
// ScanBLE 扫描直到出现广播该服务的外设，或者上下文结束。
func ScanBLE(ctx context.Context, adapter *bluetooth.Adapter, service uuid.UUID, address string) (Peripheral, error) {
	var (
		found = make(chan Peripheral, 1)
		want  = bleUUID(service)
	)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			adapter.StopScan()
		case <-done:
		}
	}()
	err := adapter.Scan(func(a *bluetooth.Adapter, res bluetooth.ScanResult) {
		if !res.HasServiceUUID(want) {
			return
		}
		if address != "" && !strings.EqualFold(res.Address.String(), address) {
			return
		}
		select {
		case found <- Peripheral{Address: res.Address, Name: res.LocalName(), RSSI: res.RSSI}:
			log.Debug("Found BLE peripheral", "name", res.LocalName(), "addr", res.Address.String(), "rssi", res.RSSI)
		default:
		}
		a.StopScan()
	})
	select {
	case p := <-found:
		return p, nil
	default:
	}
	if err != nil {
		return Peripheral{}, &hwwallet.TransportError{Op: "scan", Err: err}
	}
	if ctx.Err() != nil {
		return Peripheral{}, fmt.Errorf("no peripheral advertising %v: %w", service, ctx.Err())
	}
	return Peripheral{}, errors.New("scan stopped")
}
