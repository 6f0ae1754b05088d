// Copyright 2017 The go-ethereum Authors
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

// Package hub discovers hardware wallets and manages the session of each open
// device: exclusive device access, health checks and the signing operations.
// Package hub 发现硬件钱包并管理每个已打开设备的会话。
package hub

import (
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karalabe/hid"
	"github.com/sunyihoo/hwsigner/log"
)

// refreshThrottling is the minimum time between device refreshes to avoid
// thrashing the USB bus.
const refreshThrottling = 500 * time.Millisecond

// maxEnumFails is the number of consecutive enumeration failures after which
// the hub stops enumerating.
const maxEnumFails = 2

// Hub tracks the USB HID hardware wallets of one vendor.
// Hub 跟踪一个供应商的 USB HID 硬件钱包。
type Hub struct {
	vendorID   uint16   // USB vendor identifier used for device discovery
	productIDs []uint16 // USB product identifiers used for device discovery
	usageID    uint16   // USB usage page identifier used for macOS device discovery
	endpointID int      // USB endpoint identifier used for non-macOS device discovery

	enumerate func(vendorID, productID uint16) ([]hid.DeviceInfo, error)

	refreshed time.Time        // Time instance when the list of devices was last refreshed
	devices   []hid.DeviceInfo // List of USB wallet devices currently tracking
	stateLock sync.RWMutex     // Protects the internals of the hub from racey access

	commsPend int           // Number of operations blocking enumeration
	commsLock sync.Mutex    // Lock protecting the pending counter and enumeration
	enumFails atomic.Uint32 // Number of times enumeration has failed
}

// NewLedgerHub creates a hub tracking Ledger devices.
func NewLedgerHub() (*Hub, error) {
	if !hid.Supported() {
		return nil, errors.New("unsupported platform")
	}
	return newHub(0x2c97, []uint16{
		// Device definitions taken from
		// https://github.com/LedgerHQ/ledger-live/blob/38012bc8899e0f07149ea9cfe7e64b2c146bc92b/libs/ledgerjs/packages/devices/src/index.ts

		// Original product IDs
		0x0000, /* Ledger Blue */
		0x0001, /* Ledger Nano S */
		0x0004, /* Ledger Nano X */
		0x0005, /* Ledger Nano S Plus */
		0x0006, /* Ledger Nano FTS */

		0x0015, /* HID + U2F + WebUSB Ledger Blue */
		0x1015, /* HID + U2F + WebUSB Ledger Nano S */
		0x4015, /* HID + U2F + WebUSB Ledger Nano X */
		0x5015, /* HID + U2F + WebUSB Ledger Nano S Plus */
		0x6015, /* HID + U2F + WebUSB Ledger Nano FTS */

		0x0011, /* HID + WebUSB Ledger Blue */
		0x1011, /* HID + WebUSB Ledger Nano S */
		0x4011, /* HID + WebUSB Ledger Nano X */
		0x5011, /* HID + WebUSB Ledger Nano S Plus */
		0x6011, /* HID + WebUSB Ledger Nano FTS */
	}, 0xffa0, 0, hid.Enumerate), nil
}

func newHub(vendorID uint16, productIDs []uint16, usageID uint16, endpointID int, enumerate func(uint16, uint16) ([]hid.DeviceInfo, error)) *Hub {
	return &Hub{
		vendorID:   vendorID,
		productIDs: productIDs,
		usageID:    usageID,
		endpointID: endpointID,
		enumerate:  enumerate,
	}
}

// Devices returns the hardware wallets currently attached, sorted by path.
func (hub *Hub) Devices() []hid.DeviceInfo {
	hub.refreshDevices()

	hub.stateLock.RLock()
	defer hub.stateLock.RUnlock()

	cpy := make([]hid.DeviceInfo, len(hub.devices))
	copy(cpy, hub.devices)
	return cpy
}

// refreshDevices scans the USB devices attached to the machine and updates the
// list of wallets based on the found devices.
func (hub *Hub) refreshDevices() {
	// Don't scan the USB like crazy it the user fetches wallets in a loop
	hub.stateLock.RLock()
	elapsed := time.Since(hub.refreshed)
	hub.stateLock.RUnlock()

	if elapsed < refreshThrottling {
		return
	}
	// If USB enumeration is continually failing, don't keep trying indefinitely
	if hub.enumFails.Load() > maxEnumFails {
		return
	}
	// hidapi on Linux opens the device during enumeration, which breaks a
	// device waiting for user confirmation, so don't enumerate while any
	// session exchanges with a device.
	if runtime.GOOS == "linux" {
		hub.commsLock.Lock()
		if hub.commsPend > 0 { // A confirmation is pending, don't refresh
			hub.commsLock.Unlock()
			return
		}
	}
	infos, err := hub.enumerate(hub.vendorID, 0)
	if runtime.GOOS == "linux" {
		hub.commsLock.Unlock()
	}
	if err != nil {
		failcount := hub.enumFails.Add(1)
		log.Error("Failed to enumerate USB devices", "vendor", hub.vendorID, "failcount", failcount, "err", err)
		return
	}
	hub.enumFails.Store(0)

	var devices []hid.DeviceInfo
	for _, info := range infos {
		for _, id := range hub.productIDs {
			// Windows and Macos use UsageID matching, Linux uses Interface matching
			if info.ProductID == id && (info.UsagePage == hub.usageID || info.Interface == hub.endpointID) {
				devices = append(devices, info)
				break
			}
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })

	hub.stateLock.Lock()
	if len(devices) != len(hub.devices) {
		log.Debug("USB wallet set changed", "vendor", hub.vendorID, "before", len(hub.devices), "after", len(devices))
	}
	hub.refreshed = time.Now()
	hub.devices = devices
	hub.stateLock.Unlock()
}

// beginComms marks a device exchange as pending, blocking enumeration.
func (hub *Hub) beginComms() {
	hub.commsLock.Lock()
	hub.commsPend++
	hub.commsLock.Unlock()
}

// endComms releases a pending exchange marker.
func (hub *Hub) endComms() {
	hub.commsLock.Lock()
	hub.commsPend--
	hub.commsLock.Unlock()
}
