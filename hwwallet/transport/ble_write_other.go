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
//go:build !darwin && !windows && (!linux || baremetal)

package transport

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"tinygo.org/x/bluetooth"
)

func newBLEWriter(_ bluetooth.Address, _ bluetooth.DeviceCharacteristic, _ uuid.UUID) (WriteEndpoint, error) {
	return nil, fmt.Errorf("%w: acknowledged BLE writes on %s", hwwallet.ErrNotSupported, runtime.GOOS)
}
