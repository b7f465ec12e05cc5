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

package broker

import (
	"encoding/base64"
	"unicode/utf8"
)

// renderMessages projects stored messages into their control-plane JSON
// shape: a message body is rendered as text when it is valid UTF-8, and as
// base64 (with the base64 flag set) otherwise, mirroring the behavior a
// client publishing raw binary payloads should observe.
func renderMessages(messages []StoredMessage) []RenderedMessage {
	out := make([]RenderedMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, renderMessage(m))
	}
	return out
}

func renderMessage(m StoredMessage) RenderedMessage {
	if utf8.Valid(m.Body) {
		return RenderedMessage{Headers: m.Headers, Body: string(m.Body)}
	}
	return RenderedMessage{
		Headers: m.Headers,
		Body:    base64.StdEncoding.EncodeToString(m.Body),
		Base64:  true,
	}
}
