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

func TestPropertiesRoundTrip(t *testing.T) {
	props := map[string]any{
		"content_type":        "application/json",
		"delivery_mode":       byte(2),
		"priority":            byte(5),
		"correlation_id":      "corr-1",
		"application_headers": map[string]any{"x-retry": int32(3)},
	}
	wire := EncodeProperties(props)

	decoded, next, err := DecodeProperties(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, len(wire), next)
	assert.Equal(t, "application/json", decoded["content_type"])
	assert.Equal(t, byte(2), decoded["delivery_mode"])
	assert.Equal(t, byte(5), decoded["priority"])
	assert.Equal(t, "corr-1", decoded["correlation_id"])
	headers := decoded["application_headers"].(map[string]any)
	assert.Equal(t, int32(3), headers["x-retry"])
}

func TestPropertiesOmitAbsentFields(t *testing.T) {
	wire := EncodeProperties(map[string]any{"content_type": "text/plain"})

	decoded, _, err := DecodeProperties(wire, 0)
	require.NoError(t, err)
	assert.Len(t, decoded, 1)
	_, present := decoded["priority"]
	assert.False(t, present)
}

func TestPropertiesEmpty(t *testing.T) {
	wire := EncodeProperties(nil)
	assert.Equal(t, []byte{0, 0}, wire)

	decoded, next, err := DecodeProperties(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	assert.Empty(t, decoded)
}
