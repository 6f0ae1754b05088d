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
	"errors"
	"fmt"

	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
)

const (
	tagAPDU    byte   = 0x05   // Command tag of APDU payloads
	hidChannel uint16 = 0x0101 // Communication channel id, unused but must not start with 00
)

var errFrameTooSmall = errors.New("ledger: frame size too small")

// Framer implements the Ledger transport framing of APDUs. The wire format of
// a frame is:
//
//	Description                       | Length
//	--------------------------------------------------
//	Communication channel ID (BE, HID) | 2 bytes
//	Command tag                        | 1 byte
//	Packet sequence index (BE)         | 2 bytes
//	APDU length (BE, first frame only) | 2 bytes
//	Payload                            | arbitrary
//
// Over USB HID every frame is a report padded to the full report size, over
// BLE frames are as long as needed up to the negotiated MTU.
// Framer 实现 APDU 的 Ledger 传输分帧。
type Framer struct {
	HID bool // Whether frames carry the channel id and are padded to the MTU
}

// HIDFramer frames APDUs into USB HID reports.
var HIDFramer = Framer{HID: true}

// BLEFramer frames APDUs into GATT writes.
var BLEFramer = Framer{}

func (f Framer) headerSize() int {
	if f.HID {
		return 5
	}
	return 3
}

// Frame implements transport.Framer.
func (f Framer) Frame(msg []byte, mtu int) ([][]byte, error) {
	if mtu <= f.headerSize()+2 {
		return nil, errFrameTooSmall
	}
	if len(msg) > 0xffff {
		return nil, fmt.Errorf("%w: APDU too long (%d bytes)", hwwallet.ErrInvalidParams, len(msg))
	}
	payload := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(payload, uint16(len(msg)))
	payload = append(payload, msg...)

	var frames [][]byte
	for seq := 0; len(payload) > 0; seq++ {
		frame := make([]byte, 0, mtu)
		if f.HID {
			frame = binary.BigEndian.AppendUint16(frame, hidChannel)
		}
		frame = append(frame, tagAPDU)
		frame = binary.BigEndian.AppendUint16(frame, uint16(seq))

		n := min(mtu-len(frame), len(payload))
		frame = append(frame, payload[:n]...)
		payload = payload[n:]
		if f.HID {
			frame = frame[:mtu]
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// NewReassembler implements transport.Framer.
func (f Framer) NewReassembler() transport.Reassembler {
	return &reassembler{framer: f}
}

// reassembler collects the frames of one APDU response, ignoring the padding
// after the announced length.
type reassembler struct {
	framer Framer
	seq    uint16
	reply  []byte
}

func (r *reassembler) Push(frame []byte) ([]byte, error) {
	header := r.framer.headerSize()
	if len(frame) < header {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", hwwallet.ErrMalformedMessage, len(frame))
	}
	if r.framer.HID && binary.BigEndian.Uint16(frame) != hidChannel {
		return nil, fmt.Errorf("%w: invalid reply channel %#04x", hwwallet.ErrMalformedMessage, binary.BigEndian.Uint16(frame))
	}
	if tag := frame[header-3]; tag != tagAPDU {
		return nil, fmt.Errorf("%w: invalid reply tag %#02x", hwwallet.ErrMalformedMessage, tag)
	}
	if seq := binary.BigEndian.Uint16(frame[header-2:]); seq != r.seq {
		return nil, fmt.Errorf("%w: reply frame %d out of sequence, want %d", hwwallet.ErrMalformedMessage, seq, r.seq)
	}
	payload := frame[header:]
	if r.seq == 0 {
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: first reply frame lacks length", hwwallet.ErrMalformedMessage)
		}
		r.reply = make([]byte, 0, int(binary.BigEndian.Uint16(payload)))
		payload = payload[2:]
	}
	r.seq++

	// Append to the reply and stop when filled up
	if left := cap(r.reply) - len(r.reply); left > len(payload) {
		r.reply = append(r.reply, payload...)
		return nil, nil
	}
	r.reply = append(r.reply, payload[:cap(r.reply)-len(r.reply)]...)
	return r.reply, nil
}
