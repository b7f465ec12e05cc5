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
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/packetd/amqpmock/broker"
	"github.com/packetd/amqpmock/common"
	"github.com/packetd/amqpmock/internal/metrics"
	"github.com/packetd/amqpmock/internal/rescue"
	"github.com/packetd/amqpmock/logger"
)

// connState tracks the connection-level handshake, AMQP 0-9-1 §2.2.4.
// It only applies to frames arriving on channel 0.
type connState int

const (
	stateWaitingProtocolHeader connState = iota
	stateWaitingStartOk
	stateWaitingTuneOk
	stateWaitingOpen
	stateOpened
)

// Tuning parameters this fixture always advertises in connection.tune.
const (
	tuneChannelMax uint16 = 0
	tuneFrameMax   uint32 = 131072
	tuneHeartbeat  uint16 = 10
)

// Conn drives one AMQP client's connection and channel lifecycle. A Conn
// is also a broker.MessageSink: the broker state holds it, never a raw
// net.Conn, so a connection tearing down never leaves a dangling pointer
// inside the broker -- only a sink whose Closed() has gone true.
type Conn struct {
	id    string
	nc    net.Conn
	state *broker.State

	writeMu sync.Mutex
	closed  atomic.Bool

	connState connState
	channels  map[uint16]*Channel
	chMu      sync.Mutex

	buf bytes.Buffer
}

// NewConn wraps an accepted TCP connection. Call Serve to run its read
// loop; Serve blocks until the client disconnects or a protocol violation
// forces the connection closed.
func NewConn(nc net.Conn, state *broker.State) *Conn {
	metrics.ConnectionsAccepted.Inc()
	return &Conn{
		id:        uuid.New().String(),
		nc:        nc,
		state:     state,
		connState: stateWaitingProtocolHeader,
		channels:  make(map[uint16]*Channel),
	}
}

// Closed reports whether the underlying socket has been torn down. Part of
// broker.MessageSink: the broker probes this before attempting a delivery.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Close tears down the socket exactly once.
func (c *Conn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.nc.Close()
	}
}

func (c *Conn) write(b []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(b)
	return err
}

// PushMessage implements broker.MessageSink: it writes a basic.deliver
// method frame followed by the content header and body, in that order,
// exactly as the driving publish path assembled them.
func (c *Conn) PushMessage(headers map[string]any, body []byte, channelNumber uint16, consumerTag string, deliveryTag uint64, exchangeName string) error {
	if err := c.write(BuildBasicDeliver(channelNumber, consumerTag, deliveryTag, exchangeName, "")); err != nil {
		return err
	}
	if err := c.write(BuildContentHeader(channelNumber, uint64(len(body)), headers)); err != nil {
		return err
	}
	return c.write(BuildContentBody(channelNumber, body))
}

// Serve runs the connection's read loop until the peer disconnects or a
// protocol violation closes it. It recovers from panics the way every
// other per-connection goroutine in this fixture does, logging and
// counting them rather than taking the whole process down.
func (c *Conn) Serve() {
	defer rescue.HandleCrash()
	defer c.Close()

	block := make([]byte, common.ReadWriteBlockSize)
	for {
		n, err := c.nc.Read(block)
		if n > 0 {
			c.buf.Write(block[:n])
		}
		if err != nil {
			if err != io.EOF {
				logger.Debugf("amqp[%s]: read error: %v", c.id, err)
			}
			return
		}

		if !c.drainBuffer() {
			return
		}
	}
}

// drainBuffer consumes as many complete frames as currently sit in the
// buffer, dispatching each in turn. It returns false when a protocol
// violation or handshake failure means the connection must close.
func (c *Conn) drainBuffer() bool {
	for {
		if c.connState == stateWaitingProtocolHeader {
			if c.buf.Len() < len(ProtocolHeader) {
				return true
			}
			head := c.buf.Bytes()[:len(ProtocolHeader)]
			if !bytes.Equal(head, ProtocolHeader[:]) {
				logger.Debugf("amqp[%s]: bad protocol header", c.id)
				return false
			}
			c.buf.Next(len(ProtocolHeader))
			if err := c.write(BuildConnectionStart(peerProperties())); err != nil {
				return false
			}
			c.connState = stateWaitingStartOk
			continue
		}

		frame, consumed, err := ReadFrame(c.buf.Bytes())
		if err != nil {
			logger.Debugf("amqp[%s]: invalid frame: %v", c.id, err)
			return false
		}
		if frame == nil {
			return true
		}
		c.buf.Next(consumed)

		if !c.dispatchFrame(frame) {
			return false
		}
	}
}

func frameTypeLabel(t byte) string {
	switch t {
	case FrameMethod:
		return "method"
	case FrameHeader:
		return "header"
	case FrameBody:
		return "body"
	case FrameHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

func peerProperties() map[string]any {
	return map[string]any{
		"product": common.App,
		"version": common.Version,
	}
}

// dispatchFrame routes a decoded frame either to the connection-level
// handshake state machine (channel 0) or to its channel's state machine.
// It returns false when the connection must close.
func (c *Conn) dispatchFrame(f *Frame) bool {
	metrics.FramesDecoded.WithLabelValues(frameTypeLabel(f.Type)).Inc()

	if f.Type == FrameHeartbeat {
		return c.write(BuildHeartbeat()) == nil
	}

	if f.Channel == 0 {
		return c.handleConnectionFrame(f)
	}

	ch := c.channel(f.Channel)
	return ch.handleFrame(f)
}

func (c *Conn) channel(number uint16) *Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	ch, ok := c.channels[number]
	if !ok {
		ch = newChannel(number, c)
		c.channels[number] = ch
	}
	return ch
}

func (c *Conn) removeChannel(number uint16) {
	c.chMu.Lock()
	delete(c.channels, number)
	c.chMu.Unlock()
}

// handleConnectionFrame drives the connection handshake: protocol header
// handling lives in drainBuffer, everything from start-ok onward is
// dispatched here by connState.
func (c *Conn) handleConnectionFrame(f *Frame) bool {
	if f.Type != FrameMethod {
		logger.Debugf("amqp[%s]: unexpected frame type %d on channel 0", c.id, f.Type)
		return false
	}

	cm, args, err := decodeMethodFrame(f.Payload)
	if err != nil {
		return false
	}

	switch c.connState {
	case stateWaitingStartOk:
		if cm != idConnectionStartOk {
			return false
		}
		return c.handleStartOk(args)

	case stateWaitingTuneOk:
		if cm != idConnectionTuneOk {
			return false
		}
		c.connState = stateWaitingOpen
		return true

	case stateWaitingOpen:
		if cm != idConnectionOpen {
			return false
		}
		c.connState = stateOpened
		return c.write(BuildConnectionOpenOk()) == nil

	case stateOpened:
		if cm != idConnectionClose {
			return false
		}
		if err := c.write(BuildConnectionCloseOk()); err != nil {
			return false
		}
		return false // close the socket after replying, per the handshake table

	default:
		return false
	}
}

// handleStartOk authenticates the client against broker state using
// whichever SASL mechanism it chose, then either tunes the connection or
// closes it on bad credentials.
func (c *Conn) handleStartOk(args []byte) bool {
	values, _, err := Decode("FsSs", args, 0)
	if err != nil || len(values) < 3 {
		return false
	}
	mechanism, _ := values[1].(string)
	response, _ := values[2].(string)

	username, password, ok := decodeSASLResponse(mechanism, []byte(response))
	if !ok {
		return false
	}

	if !c.state.CheckCredentials(username, password) {
		logger.Debugf("amqp[%s]: bad credentials for %q", c.id, username)
		return false
	}

	c.connState = stateWaitingTuneOk
	return c.write(BuildConnectionTune(tuneChannelMax, tuneFrameMax, tuneHeartbeat)) == nil
}

// decodeSASLResponse implements PLAIN and AMQPLAIN, the only two
// mechanisms advertised. PLAIN is parsed as raw NUL-separated bytes, never
// as a UTF-8 string, so a binary password is not corrupted by decoding.
func decodeSASLResponse(mechanism string, response []byte) (username, password string, ok bool) {
	switch mechanism {
	case "PLAIN":
		parts := bytes.SplitN(response, []byte{0}, 3)
		if len(parts) != 3 {
			return "", "", false
		}
		return string(parts[1]), string(parts[2]), true

	case "AMQPLAIN":
		table, _, err := decodeTable(response, 0)
		if err != nil {
			return "", "", false
		}
		login, _ := table["LOGIN"].(string)
		pass, _ := table["PASSWORD"].(string)
		return login, pass, true

	default:
		return "", "", false
	}
}
