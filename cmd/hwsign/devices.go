// Copyright 2024 The go-ethereum Authors
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
	"context"
	"errors"
	"fmt"

	"github.com/karalabe/hid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/hub"
	"github.com/sunyihoo/hwsigner/hwwallet/jade"
	"github.com/sunyihoo/hwsigner/hwwallet/ledger"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/log"
	"tinygo.org/x/bluetooth"
)

// openSession connects the configured device and opens a session on it.
func openSession(ctx context.Context, cfg *hwsignConfig) (*hub.Session, error) {
	switch cfg.Device.Kind {
	case kindLedgerHID:
		usb, err := hub.NewLedgerHub()
		if err != nil {
			return nil, err
		}
		info, err := pickHID(usb.Devices(), cfg.Device.Path)
		if err != nil {
			return nil, err
		}
		log.Debug("Opening USB device", "path", info.Path, "product", info.Product)
		return usb.OpenSession(ctx, info, cfg.session(), cfg.transport())

	case kindLedgerBLE, kindJadeBLE:
		profile := ledger.Profile
		if cfg.Device.Kind == kindJadeBLE {
			profile = jade.Profile
		}
		link, err := scanLink(ctx, cfg, profile)
		if err != nil {
			return nil, err
		}
		var driver hwwallet.Driver
		if cfg.Device.Kind == kindJadeBLE {
			driver = jade.NewDriver(link, cfg.transport())
		} else {
			driver = ledger.NewDriver(link, ledger.BLEFramer, cfg.transport())
		}
		return startSession(ctx, driver, cfg)

	case kindJadeWS:
		link := transport.NewWebSocketLink(cfg.Device.URL, 0)
		return startSession(ctx, jade.NewDriver(link, cfg.transport()), cfg)
	}
	return nil, fmt.Errorf("unknown device kind %q", cfg.Device.Kind)
}

func startSession(ctx context.Context, driver hwwallet.Driver, cfg *hwsignConfig) (*hub.Session, error) {
	s := hub.NewSession(driver, cfg.session())
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// pickHID selects the device at path, or the first device if path is empty.
func pickHID(devices []hid.DeviceInfo, path string) (hid.DeviceInfo, error) {
	if len(devices) == 0 {
		return hid.DeviceInfo{}, errors.New("no USB device found")
	}
	if path == "" {
		return devices[0], nil
	}
	for _, info := range devices {
		if info.Path == path {
			return info, nil
		}
	}
	return hid.DeviceInfo{}, fmt.Errorf("no USB device at %s", path)
}

// scanLink scans for the configured peripheral and returns a link to it.
func scanLink(ctx context.Context, cfg *hwsignConfig, profile transport.GATTProfile) (*transport.BLELink, error) {
	adapter, err := enableAdapter()
	if err != nil {
		return nil, err
	}
	scanCtx, cancel := context.WithTimeout(ctx, cfg.Transport.ScanTimeout)
	defer cancel()

	p, err := transport.ScanBLE(scanCtx, adapter, profile.Service, cfg.Device.Address)
	if err != nil {
		return nil, err
	}
	log.Info("Found Bluetooth device", "name", p.Name, "addr", p.Address.String(), "rssi", p.RSSI)
	return transport.NewBLELink(adapter, p.Address, profile), nil
}

func enableAdapter() (*bluetooth.Adapter, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth adapter: %w", err)
	}
	return adapter, nil
}
