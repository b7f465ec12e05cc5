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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeShortAndLongStrings(t *testing.T) {
	values := []any{"abc", "a much longer string that exercises the long-string path"}
	wire := Encode("sS", values)

	decoded, next, err := Decode("sS", wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), next)
	assert.Equal(t, values, decoded)
}

func TestEncodeDecodeIntegerFields(t *testing.T) {
	values := []any{uint8(9), uint16(4096), uint32(123456), uint64(987654321)}
	wire := Encode("oBlL", values)

	decoded, _, err := Decode("oBlL", wire, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(9), decoded[0])
	assert.Equal(t, uint16(4096), decoded[1])
	assert.Equal(t, uint32(123456), decoded[2])
	assert.Equal(t, uint64(987654321), decoded[3])
}

// TestBitPackingFlushesOnNonBitField mirrors exchange.declare's five
// consecutive boolean flags followed by a field table: the five bits must
// pack into a single octet, and the 'F' field must not try to consume any
// of that octet.
func TestBitPackingFlushesOnNonBitField(t *testing.T) {
	values := []any{true, false, true, true, false, map[string]any{}}
	wire := Encode("bbbbbF", values)
	assert.Len(t, wire, 1+4) // one packed bit octet, empty table length prefix

	decoded, next, err := Decode("bbbbbF", wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), next)
	assert.Equal(t, true, decoded[0])
	assert.Equal(t, false, decoded[1])
	assert.Equal(t, true, decoded[2])
	assert.Equal(t, true, decoded[3])
	assert.Equal(t, false, decoded[4])
}

func TestBitPackingAcrossNineBits(t *testing.T) {
	bits := []bool{true, false, true, true, false, true, false, true, true}
	values := make([]any, len(bits))
	format := ""
	for i, b := range bits {
		values[i] = b
		format += "b"
	}
	wire := Encode(format, values)
	assert.Len(t, wire, 2) // 9 bits spill into a second octet

	decoded, _, err := Decode(format, wire, 0)
	require.NoError(t, err)
	for i, b := range bits {
		assert.Equal(t, b, decoded[i], "bit %d", i)
	}
}

func TestTableRoundTrip(t *testing.T) {
	table := map[string]any{
		"str":  "hello",
		"flag": true,
		"num":  int32(42),
	}
	wire := Encode("F", []any{table})

	decoded, next, err := Decode("F", wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), next)

	got := decoded[0].(map[string]any)
	assert.Equal(t, "hello", got["str"])
	assert.Equal(t, true, got["flag"])
	assert.Equal(t, int32(42), got["num"])
}

// TestRabbitShortIntQuirk documents that tag 's' decodes as a signed 16-bit
// integer (RabbitMQ's deviation from the AMQP 0-9-1 spec). That the
// fixture never emits the tag itself is checked by
// TestEncodeTableItemNeverEmitsShortIntTag.
func TestRabbitShortIntQuirk(t *testing.T) {
	body := []byte{'s', 0xFF, 0xFB} // -5 as big-endian int16
	wrapped := make([]byte, 0, 5)
	wrapped = append(wrapped, 0, 0, 0, byte(len(body)))
	wrapped = append(wrapped, body...)

	val, offset, err := decodeTableItem(wrapped, 4)
	require.NoError(t, err)
	assert.Equal(t, int16(-5), val)
	assert.Equal(t, len(wrapped), offset)
}

func TestEncodeTableItemNeverEmitsShortIntTag(t *testing.T) {
	wire := Encode("F", []any{map[string]any{"n": int64(7)}})
	decoded, _, err := Decode("F", wire, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(7), decoded[0].(map[string]any)["n"])
}

func TestDecodeRejectsUnknownFormatChar(t *testing.T) {
	_, _, err := Decode("Z", []byte{0x00}, 0)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	_, _, err := Decode("l", []byte{0x00, 0x01}, 0)
	assert.Error(t, err)
}
