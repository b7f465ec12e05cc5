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
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// InvalidFieldError reports a table/array entry whose tag byte is not one
// of the recognized types, or a format string byte read past the end of
// its buffer.
type InvalidFieldError struct {
	Tag    byte
	Offset int
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("amqp: invalid field tag %q at offset %d", e.Tag, e.Offset)
}

// Decimal is AMQP's scaled-integer decimal value: Value / 10^Scale.
type Decimal struct {
	Scale uint8
	Value int32
}

type bitReader struct {
	buf    []byte
	bits   byte
	remain int
}

func (r *bitReader) next(buf []byte, offset int) (bool, int, error) {
	if r.remain == 0 {
		if offset >= len(buf) {
			return false, offset, &InvalidFieldError{Offset: offset}
		}
		r.bits = buf[offset]
		offset++
		r.remain = 8
	}
	val := r.bits&1 == 1
	r.bits >>= 1
	r.remain--
	return val, offset, nil
}

type bitWriter struct {
	acc   byte
	shift uint
}

func (w *bitWriter) push(out *bytes.Buffer, val bool) {
	if w.shift == 8 {
		w.flush(out)
	}
	if val {
		w.acc |= 1 << w.shift
	}
	w.shift++
}

func (w *bitWriter) flush(out *bytes.Buffer) {
	if w.shift > 0 {
		out.WriteByte(w.acc)
		w.acc = 0
		w.shift = 0
	}
}

// Decode parses values out of buf starting at offset according to format,
// one character per field: b bit, o octet, B short, l long, L long-long,
// f float, s short string, S long string, F field table, A field array,
// T timestamp. Consecutive b fields share octets. It returns the decoded
// values, in order, and the offset immediately past the last one consumed.
func Decode(format string, buf []byte, offset int) (values []any, next int, err error) {
	var bits bitReader
	values = make([]any, 0, len(format))

	for _, p := range format {
		switch p {
		case 'b':
			var v bool
			v, offset, err = bits.next(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, v)
			continue
		default:
			bits = bitReader{}
		}

		switch p {
		case 'o':
			if offset+1 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			values = append(values, buf[offset])
			offset++
		case 'B':
			if offset+2 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			values = append(values, binary.BigEndian.Uint16(buf[offset:]))
			offset += 2
		case 'l':
			if offset+4 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			values = append(values, binary.BigEndian.Uint32(buf[offset:]))
			offset += 4
		case 'L':
			if offset+8 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			values = append(values, binary.BigEndian.Uint64(buf[offset:]))
			offset += 8
		case 'f':
			if offset+4 > len(buf) {
				return nil, 0, &InvalidFieldError{Offset: offset}
			}
			values = append(values, math.Float32frombits(binary.BigEndian.Uint32(buf[offset:])))
			offset += 4
		case 's':
			var s string
			s, offset, err = decodeShortString(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, s)
		case 'S':
			var s string
			s, offset, err = decodeLongString(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, s)
		case 'F':
			var t map[string]any
			t, offset, err = decodeTable(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, t)
		case 'A':
			var a []any
			a, offset, err = decodeArray(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, a)
		case 'T':
			var ts time.Time
			ts, offset, err = decodeTimestamp(buf, offset)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, ts)
		default:
			return nil, 0, errors.Errorf("amqp: unknown format char %q", p)
		}
	}

	return values, offset, nil
}

// Encode serializes values according to format, the mirror image of
// Decode.
func Encode(format string, values []any) []byte {
	out := new(bytes.Buffer)
	var bits bitWriter

	for i, p := range format {
		var v any
		if i < len(values) {
			v = values[i]
		}

		if p != 'b' {
			bits.flush(out)
		}

		switch p {
		case 'b':
			bits.push(out, asBool(v))
		case 'o':
			out.WriteByte(asByte(v))
		case 'B':
			binary.Write(out, binary.BigEndian, asUint16(v))
		case 'l':
			binary.Write(out, binary.BigEndian, asUint32(v))
		case 'L':
			binary.Write(out, binary.BigEndian, asUint64(v))
		case 'f':
			binary.Write(out, binary.BigEndian, math.Float32bits(asFloat32(v)))
		case 's':
			encodeShortString(out, asString(v))
		case 'S':
			encodeLongString(out, asString(v))
		case 'F':
			encodeTable(out, asTable(v))
		case 'A':
			encodeArray(out, asArray(v))
		case 'T':
			binary.Write(out, binary.BigEndian, uint64(asTime(v).Unix()))
		}
	}
	bits.flush(out)

	return out.Bytes()
}

func decodeShortString(buf []byte, offset int) (string, int, error) {
	if offset+1 > len(buf) {
		return "", 0, &InvalidFieldError{Offset: offset}
	}
	n := int(buf[offset])
	offset++
	if offset+n > len(buf) {
		return "", 0, &InvalidFieldError{Offset: offset}
	}
	s := string(buf[offset : offset+n])
	return s, offset + n, nil
}

func decodeLongString(buf []byte, offset int) (string, int, error) {
	if offset+4 > len(buf) {
		return "", 0, &InvalidFieldError{Offset: offset}
	}
	n := int(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4
	if offset+n > len(buf) {
		return "", 0, &InvalidFieldError{Offset: offset}
	}
	s := string(buf[offset : offset+n])
	return s, offset + n, nil
}

func decodeTimestamp(buf []byte, offset int) (time.Time, int, error) {
	if offset+8 > len(buf) {
		return time.Time{}, 0, &InvalidFieldError{Offset: offset}
	}
	sec := binary.BigEndian.Uint64(buf[offset:])
	return time.Unix(int64(sec), 0).UTC(), offset + 8, nil
}

func decodeTable(buf []byte, offset int) (map[string]any, int, error) {
	if offset+4 > len(buf) {
		return nil, 0, &InvalidFieldError{Offset: offset}
	}
	n := int(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4
	limit := offset + n
	if limit > len(buf) {
		return nil, 0, &InvalidFieldError{Offset: offset}
	}

	table := make(map[string]any)
	for offset < limit {
		var key string
		var err error
		key, offset, err = decodeShortString(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		var val any
		val, offset, err = decodeTableItem(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		table[key] = val
	}
	return table, offset, nil
}

func decodeArray(buf []byte, offset int) ([]any, int, error) {
	if offset+4 > len(buf) {
		return nil, 0, &InvalidFieldError{Offset: offset}
	}
	n := int(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4
	limit := offset + n
	if limit > len(buf) {
		return nil, 0, &InvalidFieldError{Offset: offset}
	}

	var arr []any
	for offset < limit {
		var val any
		var err error
		val, offset, err = decodeTableItem(buf, offset)
		if err != nil {
			return nil, 0, err
		}
		arr = append(arr, val)
	}
	return arr, offset, nil
}

// decodeTableItem decodes a single tagged table/array entry. Tag 's' is
// the well-known RabbitMQ deviation from the AMQP 0-9-1 spec: it decodes
// as a signed 16-bit integer, never as a short string, matching every
// RabbitMQ client library in the wild.
func decodeTableItem(buf []byte, offset int) (any, int, error) {
	if offset >= len(buf) {
		return nil, 0, &InvalidFieldError{Offset: offset}
	}
	tag := buf[offset]
	offset++

	switch tag {
	case 'S':
		return decodeLongString(buf, offset)
	case 'b':
		if offset+1 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return int8(buf[offset]), offset + 1, nil
	case 'B':
		if offset+1 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return buf[offset], offset + 1, nil
	case 'U', 's':
		if offset+2 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return int16(binary.BigEndian.Uint16(buf[offset:])), offset + 2, nil
	case 'u':
		if offset+2 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return binary.BigEndian.Uint16(buf[offset:]), offset + 2, nil
	case 'I':
		if offset+4 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return int32(binary.BigEndian.Uint32(buf[offset:])), offset + 4, nil
	case 'i':
		if offset+4 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return binary.BigEndian.Uint32(buf[offset:]), offset + 4, nil
	case 'L':
		if offset+8 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return int64(binary.BigEndian.Uint64(buf[offset:])), offset + 8, nil
	case 'l':
		if offset+8 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return binary.BigEndian.Uint64(buf[offset:]), offset + 8, nil
	case 'f':
		if offset+4 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		v := math.Float32frombits(binary.BigEndian.Uint32(buf[offset:]))
		return v, offset + 4, nil
	case 'd':
		if offset+8 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(buf[offset:]))
		return v, offset + 8, nil
	case 'D':
		if offset+5 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		scale := buf[offset]
		value := int32(binary.BigEndian.Uint32(buf[offset+1:]))
		return Decimal{Scale: scale, Value: value}, offset + 5, nil
	case 'F':
		return decodeTable(buf, offset)
	case 'A':
		return decodeArray(buf, offset)
	case 't':
		if offset+1 > len(buf) {
			return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
		}
		return buf[offset] != 0, offset + 1, nil
	case 'T':
		return decodeTimestamp(buf, offset)
	case 'V':
		return nil, offset, nil
	default:
		return nil, 0, &InvalidFieldError{Tag: tag, Offset: offset}
	}
}

func encodeShortString(out *bytes.Buffer, s string) {
	out.WriteByte(byte(len(s)))
	out.WriteString(s)
}

func encodeLongString(out *bytes.Buffer, s string) {
	binary.Write(out, binary.BigEndian, uint32(len(s)))
	out.WriteString(s)
}

func encodeTable(out *bytes.Buffer, table map[string]any) {
	body := new(bytes.Buffer)
	for k, v := range table {
		encodeShortString(body, k)
		encodeTableItem(body, v)
	}
	binary.Write(out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
}

func encodeArray(out *bytes.Buffer, arr []any) {
	body := new(bytes.Buffer)
	for _, v := range arr {
		encodeTableItem(body, v)
	}
	binary.Write(out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
}

// encodeTableItem always emits the "long" variant of a tag: long string
// for text, signed 32-bit for ints that fit, signed 64-bit otherwise. It
// never emits the RabbitMQ 's' quirk tag; that tag is decode-only.
func encodeTableItem(out *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		out.WriteByte('V')
	case bool:
		out.WriteByte('t')
		if val {
			out.WriteByte(1)
		} else {
			out.WriteByte(0)
		}
	case string:
		out.WriteByte('S')
		encodeLongString(out, val)
	case []byte:
		out.WriteByte('S')
		encodeLongString(out, string(val))
	case float32:
		out.WriteByte('d')
		binary.Write(out, binary.BigEndian, math.Float64bits(float64(val)))
	case float64:
		out.WriteByte('d')
		binary.Write(out, binary.BigEndian, math.Float64bits(val))
	case Decimal:
		out.WriteByte('D')
		out.WriteByte(val.Scale)
		binary.Write(out, binary.BigEndian, uint32(val.Value))
	case time.Time:
		out.WriteByte('T')
		binary.Write(out, binary.BigEndian, uint64(val.Unix()))
	case map[string]any:
		out.WriteByte('F')
		encodeTable(out, val)
	case []any:
		out.WriteByte('A')
		encodeArray(out, val)
	default:
		encodeTableInt(out, val)
	}
}

func encodeTableInt(out *bytes.Buffer, v any) {
	n, ok := asInt64(v)
	if !ok {
		out.WriteByte('V')
		return
	}
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		out.WriteByte('I')
		binary.Write(out, binary.BigEndian, int32(n))
		return
	}
	out.WriteByte('L')
	binary.Write(out, binary.BigEndian, n)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asByte(v any) byte {
	n, _ := asInt64(v)
	return byte(n)
}

func asUint16(v any) uint16 {
	n, _ := asInt64(v)
	return uint16(n)
}

func asUint32(v any) uint32 {
	n, _ := asInt64(v)
	return uint32(n)
}

func asUint64(v any) uint64 {
	n, _ := asInt64(v)
	return uint64(n)
}

func asFloat32(v any) float32 {
	f, _ := v.(float32)
	return f
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func asTable(v any) map[string]any {
	t, _ := v.(map[string]any)
	return t
}

func asArray(v any) []any {
	a, _ := v.([]any)
	return a
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
