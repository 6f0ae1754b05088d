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
	"fmt"
	"sync"

	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/log"
)

// Driver manages one Jade device over a physical link.
type Driver struct {
	ch     *transport.Channel
	client *Client
	log    log.Logger

	version *VersionInfo // Firmware info of the open device, nil if closed
	failure error        // Any failure that would make the device unusable
	lock    sync.RWMutex
}

// NewDriver creates a Jade driver over the link. The framer setting of cfg is
// ignored, Jade messages are self delimiting CBOR.
func NewDriver(link transport.Link, cfg transport.Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = log.New("family", hwwallet.FamilyJade)
	}
	cfg.Framer = transport.StreamFramer{}
	ch := transport.NewChannel(link, cfg)
	return &Driver{
		ch:     ch,
		client: NewClient(ch, cfg.Logger),
		log:    cfg.Logger,
	}
}

// Family implements hwwallet.Driver.
func (d *Driver) Family() hwwallet.Family { return hwwallet.FamilyJade }

// Status implements hwwallet.Driver, returning the firmware version and state
// of the device.
func (d *Driver) Status() (string, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.failure != nil {
		return fmt.Sprintf("Failed: %v", d.failure), d.failure
	}
	if d.version == nil {
		return "Closed", nil
	}
	return fmt.Sprintf("Jade v%s online (%s)", d.version.Version, d.version.State), nil
}

// Open implements hwwallet.Driver, connecting the channel and retrieving the
// firmware version.
func (d *Driver) Open(ctx context.Context) error {
	if err := d.ch.Open(ctx); err != nil {
		return err
	}
	info, err := d.client.GetVersionInfo(ctx)
	if err != nil {
		d.ch.Close()
		return err
	}
	d.lock.Lock()
	d.version, d.failure = info, nil
	d.lock.Unlock()

	d.log.Info("Connected to Jade", "version", info.Version, "state", info.State, "board", info.Board)
	return nil
}

// Close implements hwwallet.Driver.
func (d *Driver) Close() error {
	d.lock.Lock()
	d.version = nil
	d.lock.Unlock()
	return d.ch.Close()
}

// Heartbeat implements hwwallet.Driver, pinging the device.
func (d *Driver) Heartbeat(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
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

// VersionInfo returns the firmware info of the open device.
func (d *Driver) VersionInfo() *VersionInfo {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.version
}
