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

package amqp

import (
	"bytes"
	"encoding/binary"
)

// propertyOrder is the fixed bit-to-field mapping for basic-class content
// headers, AMQP 0-9-1 §4.2.4.2.1, from the high bit down.
var propertyOrder = []struct {
	flag uint16
	name string
}{
	{0x8000, "content_type"},
	{0x4000, "content_encoding"},
	{0x2000, "application_headers"},
	{0x1000, "delivery_mode"},
	{0x0800, "priority"},
	{0x0400, "correlation_id"},
	{0x0200, "reply_to"},
	{0x0100, "expiration"},
	{0x0080, "message_id"},
	{0x0040, "timestamp"},
	{0x0020, "type"},
	{0x0010, "user_id"},
	{0x0008, "app_id"},
	{0x0004, "cluster_id"},
}

// DecodeProperties parses a basic-class content-header property list:
// a 16-bit flag word followed by each present field in propertyOrder.
func DecodeProperties(buf []byte, offset int) (map[string]any, int, error) {
	if offset+2 > len(buf) {
		return nil, 0, &InvalidFieldError{Offset: offset}
	}
	flags := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	props := make(map[string]any)
	for _, field := range propertyOrder {
		if flags&field.flag == 0 {
			continue
		}

		var (
			v   any
			err error
		)
		switch field.name {
		case "application_headers":
			v, offset, err = decodeTable(buf, offset)
		case "delivery_mode", "priority":
			if offset+1 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			v, offset = buf[offset], offset+1
		case "timestamp":
			var ts int
			if offset+8 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			ts = int(binary.BigEndian.Uint64(buf[offset:]))
			v, offset = ts, offset+8
		default:
			v, offset, err = decodeShortString(buf, offset)
		}
		if err != nil {
			return nil, 0, err
		}
		props[field.name] = v
	}
	return props, offset, nil
}

// EncodeProperties is the mirror of DecodeProperties: it emits the flag
// word followed by whichever properties are present in props, in the
// fixed field order content-headers require.
func EncodeProperties(props map[string]any) []byte {
	var flags uint16
	body := new(bytes.Buffer)

	for _, field := range propertyOrder {
		v, ok := props[field.name]
		if !ok || v == nil {
			continue
		}
		flags |= field.flag

		switch field.name {
		case "application_headers":
			encodeTable(body, asTable(v))
		case "delivery_mode", "priority":
			body.WriteByte(asByte(v))
		case "timestamp":
			binary.Write(body, binary.BigEndian, asUint64(v))
		default:
			encodeShortString(body, asString(v))
		}
	}

	out := new(bytes.Buffer)
	binary.Write(out, binary.BigEndian, flags)
	out.Write(body.Bytes())
	return out.Bytes()
}
