// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package amqp implements enough of AMQP 0-9-1's wire protocol -- frame
// envelopes, the field-type grammar, the method table and content-header
// properties -- to terminate a real client handshake and drive a
// publish/consume cycle, without implementing a real broker's routing or
// delivery guarantees.
package amqp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Frame types, AMQP 0-9-1 §2.3.
const (
	FrameMethod    byte = 1
	FrameHeader    byte = 2
	FrameBody      byte = 3
	FrameHeartbeat byte = 8
)

// FrameEnd is the sentinel byte every frame must be terminated with.
const FrameEnd byte = 0xCE

const frameHeaderLength = 7

// ProtocolHeader is the 8-byte preamble every AMQP 0-9-1 client opens a
// connection with.
var ProtocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// ErrInvalidFrame reports a frame whose end octet is not 0xCE, or an
// unparseable field inside a well-framed payload. Either closes the
// connection, per the fixture's close-on-protocol-violation policy.
var ErrInvalidFrame = errors.New("invalid amqp frame")

// Frame is a decoded frame envelope: the payload is the method id plus
// arguments for FrameMethod, the class id, weight, body size and property
// list for FrameHeader, and
// raw message bytes for FrameBody. FrameHeartbeat carries no payload.
type Frame struct {
	Type    byte
	Channel uint16
	Payload []byte
}

// ReadFrame attempts to decode exactly one frame from the head of buf. It
// returns (nil, 0, nil) when buf does not yet hold a complete frame (NEED
// MORE, in the fixture's vocabulary) and (nil, 0, ErrInvalidFrame) when the
// end octet is wrong.
func ReadFrame(buf []byte) (frame *Frame, consumed int, err error) {
	if len(buf) < frameHeaderLength {
		return nil, 0, nil
	}

	typ := buf[0]
	channel := binary.BigEndian.Uint16(buf[1:3])
	size := binary.BigEndian.Uint32(buf[3:7])

	total := frameHeaderLength + int(size) + 1
	if len(buf) < total {
		return nil, 0, nil
	}

	if buf[frameHeaderLength+int(size)] != FrameEnd {
		return nil, 0, ErrInvalidFrame
	}

	payload := make([]byte, size)
	copy(payload, buf[frameHeaderLength:frameHeaderLength+int(size)])

	return &Frame{Type: typ, Channel: channel, Payload: payload}, total, nil
}

// encodeFrame wraps payload in the (type, channel, size, payload, 0xCE)
// envelope every outgoing frame shares.
func encodeFrame(typ byte, channel uint16, payload []byte) []byte {
	out := make([]byte, frameHeaderLength+len(payload)+1)
	out[0] = typ
	binary.BigEndian.PutUint16(out[1:3], channel)
	binary.BigEndian.PutUint32(out[3:7], uint32(len(payload)))
	copy(out[frameHeaderLength:], payload)
	out[len(out)-1] = FrameEnd
	return out
}
