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

package hwwallet

import "context"

// ConnState is the lifecycle state of a device connection.
type ConnState uint32

const (
	Disconnected ConnState = iota // No link, or the link was torn down
	Connecting                    // Link established, endpoint discovery in progress
	Ready                         // Both endpoints resolved, exchanges permitted
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Family identifies a hardware wallet protocol family.
type Family string

const (
	FamilyLedger Family = "ledger"
	FamilyJade   Family = "jade"
)

// Driver defines the vendor specific functionality hardware wallets instances
// must implement to be managed by a device session.
// Driver 定义了硬件钱包实例必须实现的特定于供应商的功能，以便由设备会话管理。
type Driver interface {
	Exchanger

	// Family returns the protocol family spoken by the driver.
	Family() Family

	// Status returns a textual status to aid the user in the current state of
	// the wallet. It also returns an error indicating any failure the wallet
	// might have encountered.
	Status() (string, error)

	// Open connects to the device and performs the initial handshake.
	Open(ctx context.Context) error

	// Close releases any resources held by an open wallet instance.
	Close() error

	// Heartbeat performs a sanity check against the hardware wallet to see if it
	// is still online and healthy.
	Heartbeat(ctx context.Context) error
}
