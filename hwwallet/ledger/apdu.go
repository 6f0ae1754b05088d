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
	"encoding/binary"
	"fmt"

	"github.com/sunyihoo/hwsigner/hwwallet"
)

type ledgerOpcode byte

type ledgerParam1 byte

type ledgerParam2 byte

// ledgerClass is the instruction class of the Bitcoin application.
const ledgerClass byte = 0xe0

const (
	ledgerOpGetWalletPublicKey ledgerOpcode = 0x40 // Returns the public key, address and chain code of a BIP 32 path
	ledgerOpStartUntrustedTx   ledgerOpcode = 0x44 // Seeds or advances the pseudo transaction hash
	ledgerOpUntrustedHashSign  ledgerOpcode = 0x48 // Signs the pseudo transaction hashed so far
	ledgerOpFinalizeInputFull  ledgerOpcode = 0x4a // Streams the serialized outputs for user validation
	ledgerOpSignMessage        ledgerOpcode = 0x4e // Prepares and signs a personal message
	ledgerOpGetFirmwareVersion ledgerOpcode = 0xc4 // Returns the application version

	ledgerP1First ledgerParam1 = 0x00 // First (or only) block of a command
	ledgerP1Next  ledgerParam1 = 0x80 // Subsequent block, last output block or message signing

	ledgerP2NewLegacy    ledgerParam2 = 0x00 // Start a new legacy pseudo transaction
	ledgerP2NewSegwit    ledgerParam2 = 0x02 // Start a new segwit pseudo transaction
	ledgerP2Continue     ledgerParam2 = 0x80 // Continue the current pseudo transaction
	ledgerP2MessageFirst ledgerParam2 = 0x01 // First block of a message
	ledgerP2MessageNext  ledgerParam2 = 0x80 // Subsequent block of a message
	ledgerP2None         ledgerParam2 = 0x00
)

const (
	ledgerMaxAPDUData      = 255 // Maximum data length of a short APDU
	ledgerOutputBlock      = 50  // Block size of streamed outputs
	ledgerInputScriptBlock = 50  // Block size of a streamed input script, the app accepts up to ledgerMaxAPDUData
	ledgerChainCodeLength  = 32
)

// Input flags of the pseudo transaction inputs.
const (
	inputLegacy  byte = 0x00
	inputTrusted byte = 0x01
	inputSegwit  byte = 0x02
)

// Status words reported by the application.
const (
	swOK                   uint16 = 0x9000
	swConditionsNotMet     uint16 = 0x6985 // User declined
	swSecurityNotSatisfied uint16 = 0x6982 // Device locked
	swINSNotSupported      uint16 = 0x6d00
	swCLANotSupported      uint16 = 0x6e00
	swAppNotOpen           uint16 = 0x6e01
)

// commandAPDU is a short APDU command. The Bitcoin application always expects
// the data length byte, even when there is no data.
type commandAPDU struct {
	Ins  ledgerOpcode
	P1   ledgerParam1
	P2   ledgerParam2
	Data []byte
}

func (ca commandAPDU) serialize() ([]byte, error) {
	if len(ca.Data) > ledgerMaxAPDUData {
		return nil, fmt.Errorf("%w: APDU data too long (%d > %d)", hwwallet.ErrInvalidParams, len(ca.Data), ledgerMaxAPDUData)
	}
	apdu := make([]byte, 0, 5+len(ca.Data))
	apdu = append(apdu, ledgerClass, byte(ca.Ins), byte(ca.P1), byte(ca.P2), byte(len(ca.Data)))
	return append(apdu, ca.Data...), nil
}

// responseAPDU is a response payload followed by its status word.
type responseAPDU struct {
	Data []byte
	SW   uint16
}

func (ra *responseAPDU) deserialize(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: APDU response too short (%d < 2)", hwwallet.ErrMalformedMessage, len(data))
	}
	ra.Data = data[:len(data)-2]
	ra.SW = binary.BigEndian.Uint16(data[len(data)-2:])
	return nil
}

// statusError converts a failing status word into its device error kind, or
// returns nil for success.
func statusError(sw uint16) error {
	switch sw {
	case swOK:
		return nil
	case swConditionsNotMet:
		return hwwallet.NewDeclinedError(int(sw), "conditions of use not satisfied")
	case swINSNotSupported:
		return hwwallet.NewAbortedError(int(sw), "instruction not supported")
	case swCLANotSupported:
		return hwwallet.NewAbortedError(int(sw), "class not supported")
	case swAppNotOpen:
		return hwwallet.NewAbortedError(int(sw), "application not open")
	case swSecurityNotSatisfied:
		return hwwallet.NewAbortedError(int(sw), "security status not satisfied")
	default:
		return hwwallet.NewGenericError(int(sw), fmt.Sprintf("status word %#04x", sw))
	}
}
