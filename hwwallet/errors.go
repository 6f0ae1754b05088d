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

package hwwallet

import (
	"errors"
	"fmt"
)

// ErrChannelNotReady is returned if an exchange is attempted before the
// endpoint discovery of the transport channel completed.
// ErrChannelNotReady 在传输通道的端点发现完成之前尝试交换时返回。
var ErrChannelNotReady = errors.New("channel not ready")

// ErrTransport is the kind matched by every TransportError.
var ErrTransport = errors.New("transport failure")

// ErrMalformedMessage is returned when a buffer asserted to be complete does
// not decode into a valid protocol message.
// ErrMalformedMessage 在被断言完整的缓冲区无法解码为有效协议消息时返回。
var ErrMalformedMessage = errors.New("malformed message")

// ErrTimeout is returned if no complete response could be decoded within the
// allotted window. The channel is presumed desynchronized afterwards.
// ErrTimeout 在规定时间内无法解码出完整响应时返回。此后通道被视为失去同步。
var ErrTimeout = errors.New("device response timeout")

// ErrDeviceDeclined is matched by device errors raised when the user rejected
// the action on the device.
var ErrDeviceDeclined = errors.New("declined on device")

// ErrDeviceAborted is matched by device errors raised when the device cancelled
// the flow, e.g. because the operation is not supported.
var ErrDeviceAborted = errors.New("aborted by device")

// ErrDeviceGeneric is matched by any other device reported error.
var ErrDeviceGeneric = errors.New("device error")

// ErrMissingPrevoutScript is returned if a signing session is constructed for
// an input without its previous output script.
var ErrMissingPrevoutScript = errors.New("missing prevout script")

// ErrExchangeInFlight is returned if a second exchange is started while one is
// still outstanding on the same device.
// ErrExchangeInFlight 在同一设备上仍有未完成的交换时再次发起交换时返回。
var ErrExchangeInFlight = errors.New("exchange already in flight")

// ErrInvalidParams is returned when the parameters of an RPC call do not have
// the shape the method expects.
var ErrInvalidParams = errors.New("invalid parameters")

// ErrNotSupported is returned when an operation is requested from a device
// that it does not support.
var ErrNotSupported = errors.New("not supported")

// ErrSessionClosed is returned if a device session is used after it was
// closed, or before it was opened.
var ErrSessionClosed = errors.New("session closed")

// TransportError is returned when the physical link failed a read or a write.
// The caller may reconnect and retry the whole session, never a single chunk.
// TransportError 在物理链路读写失败时返回。调用方可以重连并重试整个会话，但不能只重试单个块。
type TransportError struct {
	Op  string // Operation that failed (e.g. "write chunk 2/3")
	Err error  // Underlying link error
}

// Error implements the standard error interface.
func (err *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", err.Op, err.Err)
}

// Unwrap returns the underlying link error.
func (err *TransportError) Unwrap() error { return err.Err }

// Is reports whether the target is the transport error kind.
func (err *TransportError) Is(target error) bool { return target == ErrTransport }

// DeviceError is an error reported by the hardware wallet itself, carrying the
// device provided code and message. Its kind is one of ErrDeviceDeclined,
// ErrDeviceAborted or ErrDeviceGeneric and can be tested with errors.Is.
// DeviceError 是硬件钱包本身报告的错误，携带设备提供的代码和消息。
type DeviceError struct {
	Code    int    // Device specific error code (RPC code or APDU status word)
	Message string // Device provided message, may be empty

	kind        error
	unsupported bool // Aborted because the operation is not supported
}

// NewDeclinedError creates a device error for a user rejection.
func NewDeclinedError(code int, message string) error {
	return &DeviceError{Code: code, Message: message, kind: ErrDeviceDeclined}
}

// NewAbortedError creates a device error for a device side cancellation.
func NewAbortedError(code int, message string) error {
	return &DeviceError{Code: code, Message: message, kind: ErrDeviceAborted}
}

// NewUnsupportedError creates an aborted device error for an operation the
// device does not support. It matches both ErrDeviceAborted and ErrNotSupported.
func NewUnsupportedError(message string) error {
	return &DeviceError{Message: message, kind: ErrDeviceAborted, unsupported: true}
}

// NewGenericError creates a device error of no particular kind.
func NewGenericError(code int, message string) error {
	return &DeviceError{Code: code, Message: message, kind: ErrDeviceGeneric}
}

// Error implements the standard error interface.
func (err *DeviceError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("%v (code %d)", err.kind, err.Code)
	}
	return fmt.Sprintf("%v: %s (code %d)", err.kind, err.Message, err.Code)
}

// Unwrap returns the kind of the device error.
func (err *DeviceError) Unwrap() error { return err.kind }

// Is reports whether the target is ErrNotSupported for unsupported operations.
func (err *DeviceError) Is(target error) bool {
	return err.unsupported && target == ErrNotSupported
}

// MissingPrevoutScriptError reports the first input lacking a prevout script.
type MissingPrevoutScriptError struct {
	Index int
}

// Error implements the standard error interface.
func (err *MissingPrevoutScriptError) Error() string {
	return fmt.Sprintf("input %d: %v", err.Index, ErrMissingPrevoutScript)
}

// Is reports whether the target is ErrMissingPrevoutScript.
func (err *MissingPrevoutScriptError) Is(target error) bool {
	return target == ErrMissingPrevoutScript
}
