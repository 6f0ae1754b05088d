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

package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/karalabe/hid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/log"
)

// Driver manages one Ledger device running the Bitcoin application.
type Driver struct {
	ch     *transport.Channel
	client *Client
	log    log.Logger

	version string // Current version of the Bitcoin app (empty if closed)
	failure error  // Any failure that would make the device unusable
	lock    sync.RWMutex
}

// NewDriver creates a Ledger driver over the link, framing APDUs with framer.
func NewDriver(link transport.Link, framer Framer, cfg transport.Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = log.New("family", hwwallet.FamilyLedger)
	}
	cfg.Framer = framer
	ch := transport.NewChannel(link, cfg)
	return &Driver{
		ch:     ch,
		client: NewClient(ch, cfg.Logger),
		log:    cfg.Logger,
	}
}

// NewHIDDriver creates a driver for an enumerated USB device.
func NewHIDDriver(info hid.DeviceInfo, cfg transport.Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = log.New("family", hwwallet.FamilyLedger, "path", info.Path)
	}
	return NewDriver(transport.NewHIDLink(info), HIDFramer, cfg)
}

// Family implements hwwallet.Driver.
func (d *Driver) Family() hwwallet.Family { return hwwallet.FamilyLedger }

// Status implements hwwallet.Driver, returning the version of the Bitcoin
// application running on the device.
func (d *Driver) Status() (string, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.failure != nil {
		return fmt.Sprintf("Failed: %v", d.failure), d.failure
	}
	if d.version == "" {
		return "Bitcoin app offline", nil
	}
	return fmt.Sprintf("Bitcoin app v%s online", d.version), nil
}

// Open implements hwwallet.Driver, connecting the channel and checking that
// the Bitcoin application answers.
func (d *Driver) Open(ctx context.Context) error {
	if err := d.ch.Open(ctx); err != nil {
		return err
	}
	version, err := d.FirmwareVersion(ctx)
	if err != nil {
		d.ch.Close()
		return err
	}
	d.lock.Lock()
	d.version, d.failure = version, nil
	d.lock.Unlock()

	d.log.Info("Connected to Ledger", "version", version)
	return nil
}

// Close implements hwwallet.Driver.
func (d *Driver) Close() error {
	d.lock.Lock()
	d.version = ""
	d.lock.Unlock()
	return d.ch.Close()
}

// Heartbeat implements hwwallet.Driver, requesting the application version.
func (d *Driver) Heartbeat(ctx context.Context) error {
	if _, err := d.FirmwareVersion(ctx); err != nil {
		d.lock.Lock()
		d.failure = err
		d.lock.Unlock()
		return err
	}
	return nil
}

// Exchange implements hwwallet.Exchanger.
func (d *Driver) Exchange(ctx context.Context, method string, params hwwallet.Value) (hwwallet.Value, error) {
	return d.client.Exchange(ctx, method, params)
}

// FirmwareVersion retrieves the version of the Bitcoin application.
func (d *Driver) FirmwareVersion(ctx context.Context) (string, error) {
	res, err := d.client.Exchange(ctx, MethodGetFirmwareVersion, hwwallet.Null())
	if err != nil {
		return "", err
	}
	return res.AsString()
}
