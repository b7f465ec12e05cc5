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

// Package broker holds the in-memory state of the mock AMQP server: the
// declared exchanges, queues, bindings and the bookkeeping needed by the
// HTTP control plane to observe what happened on the wire.
package broker

// DefaultExchangeName is the anonymous default exchange every AMQP 0.9.1
// broker exposes and every newly declared queue is auto-bound to.
const DefaultExchangeName = ""

// MessageSink is implemented by whatever owns the outbound AMQP connection
// for a registered consumer. Declaring it here -- instead of depending on
// the amqp package -- lets broker stay free of any import on amqp, while
// amqp.Conn implements it structurally; amqp imports broker, never the
// other way around.
type MessageSink interface {
	// PushMessage delivers a message to the consumer as a basic.deliver
	// followed by its content header and body frames.
	PushMessage(headers map[string]any, body []byte, channelNumber uint16, consumerTag string, deliveryTag uint64, exchangeName string) error

	// Closed reports whether the underlying connection has gone away, so
	// dead consumers can be garbage collected on next publish.
	Closed() bool
}

// StoredMessage is a message retained by an exchange or queue for later
// inspection through the HTTP control plane.
type StoredMessage struct {
	Headers map[string]any
	Body    []byte
}

type exchangeState struct {
	typ      string
	messages []StoredMessage
}

type queueState struct {
	messages  []StoredMessage
	consumers map[string]*consumerRegistration
}

type consumerRegistration struct {
	sink          MessageSink
	channelNumber uint16
}

// RenderedMessage is the JSON-facing projection of StoredMessage: the body
// is rendered as UTF-8 text when possible, base64 otherwise.
type RenderedMessage struct {
	Headers map[string]any `json:"headers"`
	Body    string         `json:"body"`
	Base64  bool           `json:"base64,omitempty"`
}
