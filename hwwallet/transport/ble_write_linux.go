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
//go:build linux && !baremetal

package transport

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

const (
	bluezService        = "org.bluez"
	bluezDevice         = "org.bluez.Device1"
	bluezCharacteristic = "org.bluez.GattCharacteristic1"
)

// bluezObjects is the reply of ObjectManager.GetManagedObjects: object path to
// interface name to properties.
type bluezObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezWriter writes a GATT characteristic with write requests. BlueZ returns
// from WriteValue only once the peripheral acknowledged the request.
// bluezWriter 使用写请求写入 GATT 特征值，外设确认后 BlueZ 的 WriteValue 才返回。
type bluezWriter struct {
	char dbus.BusObject
}

func (w *bluezWriter) Write(chunk []byte) error {
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	return w.char.Call(bluezCharacteristic+".WriteValue", 0, chunk, opts).Err
}

// newBLEWriter resolves the BlueZ object of the write characteristic on the
// connected peripheral.
func newBLEWriter(address bluetooth.Address, _ bluetooth.DeviceCharacteristic, id uuid.UUID) (WriteEndpoint, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	var objects bluezObjects
	if err := conn.Object(bluezService, "/").Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, err
	}
	path, err := findCharacteristic(objects, address.String(), id)
	if err != nil {
		return nil, err
	}
	return &bluezWriter{char: conn.Object(bluezService, path)}, nil
}

// findCharacteristic looks up the characteristic with the given UUID below the
// device object with the given address.
func findCharacteristic(objects bluezObjects, address string, id uuid.UUID) (dbus.ObjectPath, error) {
	var device dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice]
		if !ok {
			continue
		}
		if addr, ok := props["Address"].Value().(string); ok && strings.EqualFold(addr, address) {
			device = path
			break
		}
	}
	if device == "" {
		return "", fmt.Errorf("device %s not known to BlueZ", address)
	}
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezCharacteristic]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if char, ok := props["UUID"].Value().(string); ok && strings.EqualFold(char, id.String()) {
			return path, nil
		}
	}
	return "", fmt.Errorf("characteristic %v not found on %s", id, device)
}
