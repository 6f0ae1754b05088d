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
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testService = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	testWrite   = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	testNotify  = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

func bluezTree() bluezObjects {
	device := func(addr string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			bluezDevice: {"Address": dbus.MakeVariant(addr)},
		}
	}
	char := func(id uuid.UUID) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			bluezCharacteristic: {"UUID": dbus.MakeVariant(id.String())},
		}
	}
	return bluezObjects{
		"/org/bluez/hci0":                                             {"org.bluez.Adapter1": {}},
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_01":                       device("C4:DE:E2:00:00:01"),
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_01/service0010":           {"org.bluez.GattService1": {"UUID": dbus.MakeVariant(testService.String())}},
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_01/service0010/char0011":  char(testWrite),
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_01/service0010/char0013":  char(testNotify),
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_010":                      device("C4:DE:E2:00:00:10"),
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_010/service0010/char0011": char(testWrite),
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_02":                       device("C4:DE:E2:00:00:02"),
		"/org/bluez/hci0/dev_C4_DE_E2_00_00_02/service0020/char0021":  char(testWrite),
	}
}

func TestFindCharacteristic(t *testing.T) {
	objects := bluezTree()

	path, err := findCharacteristic(objects, "c4:de:e2:00:00:01", testWrite)
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_C4_DE_E2_00_00_01/service0010/char0011"), path)

	path, err = findCharacteristic(objects, "C4:DE:E2:00:00:01", testNotify)
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_C4_DE_E2_00_00_01/service0010/char0013"), path)

	path, err = findCharacteristic(objects, "C4:DE:E2:00:00:02", testWrite)
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_C4_DE_E2_00_00_02/service0020/char0021"), path)
}

func TestFindCharacteristicMissing(t *testing.T) {
	objects := bluezTree()

	_, err := findCharacteristic(objects, "C4:DE:E2:00:00:99", testWrite)
	assert.ErrorContains(t, err, "not known to BlueZ")

	_, err = findCharacteristic(objects, "C4:DE:E2:00:00:02", testNotify)
	assert.ErrorContains(t, err, "not found")

	_, err = findCharacteristic(bluezObjects{}, "C4:DE:E2:00:00:01", testWrite)
	assert.Error(t, err)
}
