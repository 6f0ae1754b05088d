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

// Package codec implements the self-delimiting CBOR envelopes exchanged with
// hardware wallets speaking the RPC-over-CBOR protocol, along with the
// accumulator that detects message completion on a fragmented stream.
// Package codec 实现与使用 CBOR RPC 协议的硬件钱包交换的自定界 CBOR 信封，以及在分片流上检测消息完整性的累加器。
package codec

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/sunyihoo/hwsigner/hwwallet"
)

const (
	minRequestID = 100000
	maxRequestID = 999999
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Request is an RPC request envelope.
type Request struct {
	Method string         // RPC method name
	ID     string         // Correlation id, used for logging only
	Params hwwallet.Value // Method parameters, Null if none
}

// request is the wire form of Request.
type request struct {
	Method string `cbor:"method"`
	ID     string `cbor:"id"`
	Params any    `cbor:"params,omitempty"`
}

// RPCError is the error object of a failed response.
type RPCError struct {
	Code    int
	Message string
}

// Response is an RPC response envelope: exactly one of Result and Error is set.
type Response struct {
	ID     string
	Result hwwallet.Value
	Error  *RPCError
}

// NewRequest creates a request envelope with a random id in [100000, 999999].
// Ids are best effort unique and only correlate log lines.
func NewRequest(method string, params hwwallet.Value) *Request {
	id := minRequestID + rand.IntN(maxRequestID-minRequestID+1)
	return &Request{Method: method, ID: strconv.Itoa(id), Params: params}
}

// Encode builds a request for the method and serializes it.
func Encode(method string, params hwwallet.Value) ([]byte, error) {
	return EncodeRequest(NewRequest(method, params))
}

// EncodeRequest serializes a request envelope as deterministic CBOR. The params
// key is omitted for Null params.
func EncodeRequest(req *Request) ([]byte, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("%w: empty method", hwwallet.ErrInvalidParams)
	}
	return encMode.Marshal(&request{Method: req.Method, ID: req.ID, Params: req.Params.Interface()})
}

// EncodeResult serializes a successful response. Device emulators use it.
func EncodeResult(id string, result hwwallet.Value) ([]byte, error) {
	return encMode.Marshal(map[string]any{"id": id, "result": result.Interface()})
}

// EncodeError serializes a failed response. Device emulators use it.
func EncodeError(id string, code int, message string) ([]byte, error) {
	return encMode.Marshal(map[string]any{
		"id":    id,
		"error": map[string]any{"code": code, "message": message},
	})
}

// Decode parses one complete CBOR item. Anything that is not exactly one well
// formed item is reported as ErrMalformedMessage.
// Decode 解析一个完整的 CBOR 项。任何不是恰好一个格式良好的项都报告为 ErrMalformedMessage。
func Decode(data []byte) (hwwallet.Value, error) {
	var x any
	if err := decMode.Unmarshal(data, &x); err != nil {
		return hwwallet.Value{}, fmt.Errorf("%w: %v", hwwallet.ErrMalformedMessage, err)
	}
	v, err := hwwallet.FromInterface(x)
	if err != nil {
		return hwwallet.Value{}, fmt.Errorf("%w: %v", hwwallet.ErrMalformedMessage, err)
	}
	return v, nil
}

// DecodeRequest parses a complete request envelope.
func DecodeRequest(data []byte) (*Request, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != hwwallet.KindMap {
		return nil, fmt.Errorf("%w: request is %v, not a map", hwwallet.ErrMalformedMessage, v.Kind())
	}
	req := new(Request)
	if req.Method, err = stringField(v, "method", true); err != nil {
		return nil, err
	}
	if req.ID, err = stringField(v, "id", false); err != nil {
		return nil, err
	}
	req.Params, _ = v.Get("params")
	return req, nil
}

// DecodeResponse parses a complete response envelope. A response carrying both
// a result and an error, or neither, is malformed.
// DecodeResponse 解析一个完整的响应信封。同时携带结果和错误，或两者都没有的响应被视为格式错误。
func DecodeResponse(data []byte) (*Response, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != hwwallet.KindMap {
		return nil, fmt.Errorf("%w: response is %v, not a map", hwwallet.ErrMalformedMessage, v.Kind())
	}
	res := new(Response)
	if res.ID, err = stringField(v, "id", false); err != nil {
		return nil, err
	}
	result, hasResult := v.Get("result")
	errObj, hasError := v.Get("error")

	switch {
	case hasResult && hasError:
		return nil, fmt.Errorf("%w: response carries both result and error", hwwallet.ErrMalformedMessage)
	case !hasResult && !hasError:
		return nil, fmt.Errorf("%w: response carries neither result nor error", hwwallet.ErrMalformedMessage)
	case hasResult:
		res.Result = result
		return res, nil
	}
	if errObj.Kind() != hwwallet.KindMap {
		return nil, fmt.Errorf("%w: error object is %v", hwwallet.ErrMalformedMessage, errObj.Kind())
	}
	res.Error = new(RPCError)
	if code, ok := errObj.Get("code"); ok {
		n, err := code.AsInt()
		if err != nil {
			return nil, fmt.Errorf("%w: error code: %v", hwwallet.ErrMalformedMessage, err)
		}
		res.Error.Code = int(n)
	}
	if res.Error.Message, err = stringField(errObj, "message", false); err != nil {
		return nil, err
	}
	return res, nil
}

func stringField(v hwwallet.Value, key string, required bool) (string, error) {
	field, ok := v.Get(key)
	if !ok {
		if required {
			return "", fmt.Errorf("%w: missing %q", hwwallet.ErrMalformedMessage, key)
		}
		return "", nil
	}
	s, err := field.AsString()
	if err != nil {
		return "", fmt.Errorf("%w: field %q: %v", hwwallet.ErrMalformedMessage, key, err)
	}
	return s, nil
}

// Accumulator collects the fragments of a CBOR stream and reports each
// message as soon as it is complete. Truncated input is not an error, it
// merely needs more bytes; input that can never become valid is.
// Accumulator 收集 CBOR 流的分片，并在每条消息完整时立即报告。截断的输入不是错误，只是需要更多字节；永远无法变为有效的输入才是错误。
type Accumulator struct {
	buf []byte
}

// Push appends a fragment and returns the completed message, or nil if more
// bytes are needed. On success the accumulated bytes of that message are
// consumed; trailing bytes are kept for the next message. A malformed stream
// resets the accumulator and returns ErrMalformedMessage.
func (a *Accumulator) Push(fragment []byte) ([]byte, error) {
	a.buf = append(a.buf, fragment...)
	if len(a.buf) == 0 {
		return nil, nil
	}
	var raw cbor.RawMessage
	rest, err := decMode.UnmarshalFirst(a.buf, &raw)
	switch {
	case err == nil:
		msg := a.buf[:len(a.buf)-len(rest)]
		a.buf = append([]byte(nil), rest...)
		return msg, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, nil
	default:
		a.buf = nil
		return nil, fmt.Errorf("%w: %v", hwwallet.ErrMalformedMessage, err)
	}
}

// Reset drops any partially accumulated message.
func (a *Accumulator) Reset() {
	a.buf = nil
}

// Buffered returns the number of bytes held for an incomplete message.
func (a *Accumulator) Buffered() int {
	return len(a.buf)
}
