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

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	wire := encodeFrame(FrameMethod, 7, payload)

	frame, consumed, err := ReadFrame(wire)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, len(wire), consumed)
	assert.Equal(t, FrameMethod, frame.Type)
	assert.Equal(t, uint16(7), frame.Channel)
	assert.Equal(t, payload, frame.Payload)
}

func TestReadFrameNeedsMoreData(t *testing.T) {
	wire := encodeFrame(FrameMethod, 1, []byte{0xAA})

	frame, consumed, err := ReadFrame(wire[:len(wire)-2])
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.Zero(t, consumed)
}

func TestReadFrameTooShortForHeader(t *testing.T) {
	frame, consumed, err := ReadFrame([]byte{0x01, 0x00})
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.Zero(t, consumed)
}

func TestReadFrameRejectsBadEndOctet(t *testing.T) {
	wire := encodeFrame(FrameMethod, 0, []byte{0x01})
	wire[len(wire)-1] = 0x00

	frame, _, err := ReadFrame(wire)
	assert.ErrorIs(t, err, ErrInvalidFrame)
	assert.Nil(t, frame)
}

func TestReadFrameConsumesOnlyOneFrameFromABuffer(t *testing.T) {
	first := encodeFrame(FrameMethod, 1, []byte{0x01})
	second := encodeFrame(FrameBody, 1, []byte{0x02, 0x03})
	buf := append(append([]byte{}, first...), second...)

	frame, consumed, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, len(first), consumed)
	assert.Equal(t, FrameMethod, frame.Type)

	frame2, consumed2, err := ReadFrame(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, len(second), consumed2)
	assert.Equal(t, FrameBody, frame2.Type)
}
