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
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/packetd/amqpmock/logger"
)

type channelState int

const (
	channelWaitingOpen channelState = iota
	channelOpened
	channelWaitingHeader
	channelWaitingBody
)

// pendingPublish tracks a basic.publish whose content header and body have
// not yet fully arrived.
type pendingPublish struct {
	exchange   string
	routingKey string
	properties map[string]any
	bodySize   uint64
	bodyAccum  []byte
}

// Channel is a logical stream multiplexed over one Conn, AMQP 0-9-1 §2.2.5.
type Channel struct {
	number uint16
	state  channelState
	conn   *Conn

	publish *pendingPublish
}

func newChannel(number uint16, conn *Conn) *Channel {
	return &Channel{number: number, state: channelWaitingOpen, conn: conn}
}

// handleFrame dispatches one frame already known to target this channel.
// It returns false when the whole connection must close.
func (ch *Channel) handleFrame(f *Frame) bool {
	switch f.Type {
	case FrameMethod:
		return ch.handleMethod(f.Payload)
	case FrameHeader:
		if ch.state != channelWaitingHeader {
			logger.Debugf("amqp: content header on channel %d outside WaitingHeader", ch.number)
			return false
		}
		return ch.handleContentHeader(f.Payload)
	case FrameBody:
		if ch.state != channelWaitingBody {
			logger.Debugf("amqp: content body on channel %d outside WaitingBody", ch.number)
			return false
		}
		return ch.handleContentBody(f.Payload)
	default:
		return false
	}
}

func (ch *Channel) handleMethod(payload []byte) bool {
	cm, args, err := decodeMethodFrame(payload)
	if err != nil {
		return false
	}

	// channel.close tears down the whole TCP connection after
	// acknowledging, in any channel state. This matches the fixture's
	// historical behaviour rather than real AMQP semantics.
	if cm == idChannelClose {
		ch.conn.removeChannel(ch.number)
		_ = ch.conn.write(BuildChannelCloseOk(ch.number))
		return false
	}

	switch ch.state {
	case channelWaitingOpen:
		if cm != idChannelOpen {
			return false
		}
		ch.state = channelOpened
		return ch.conn.write(BuildChannelOpenOk(ch.number)) == nil

	case channelOpened:
		return ch.handleOpenedMethod(cm, args)

	default:
		// A method frame arriving mid-content-frame-assembly is a
		// protocol violation.
		return false
	}
}

func (ch *Channel) handleOpenedMethod(cm classMethod, args []byte) bool {
	switch cm {
	case idExchangeDeclare:
		return ch.onExchangeDeclare(args)
	case idQueueDeclare:
		return ch.onQueueDeclare(args)
	case idQueueBind:
		return ch.onQueueBind(args)
	case idBasicQos:
		return ch.conn.write(BuildBasicQosOk(ch.number)) == nil
	case idBasicPublish:
		return ch.onBasicPublish(args)
	case idBasicConsume:
		return ch.onBasicConsume(args)
	case idBasicAck:
		return ch.onBasicAck(args)
	case idBasicNack:
		return ch.onBasicNack(args)
	case idBasicCancel:
		return ch.onBasicCancel(args)
	default:
		logger.Debugf("amqp: unexpected method %v on opened channel %d", cm, ch.number)
		return false
	}
}

func (ch *Channel) onExchangeDeclare(args []byte) bool {
	values, _, err := Decode("BssbbbbbF", args, 0)
	if err != nil || len(values) < 3 {
		return false
	}
	name, _ := values[1].(string)
	typ, _ := values[2].(string)

	if !ch.conn.state.DeclareExchange(name, typ) {
		// Redeclaration with a mismatched type: close without replying.
		return false
	}
	return ch.conn.write(BuildExchangeDeclareOk(ch.number)) == nil
}

func (ch *Channel) onQueueDeclare(args []byte) bool {
	values, _, err := Decode("BsbbbbbF", args, 0)
	if err != nil || len(values) < 2 {
		return false
	}
	name, _ := values[1].(string)

	_, messageCount, consumerCount := ch.conn.state.DeclareQueue(name)
	return ch.conn.write(BuildQueueDeclareOk(ch.number, name, uint32(messageCount), uint32(consumerCount))) == nil
}

func (ch *Channel) onQueueBind(args []byte) bool {
	values, _, err := Decode("BsssbF", args, 0)
	if err != nil || len(values) < 3 {
		return false
	}
	queue, _ := values[1].(string)
	exchange, _ := values[2].(string)
	// values[3] is routing-key: accepted, never interpreted -- this
	// fixture binds a queue to an exchange as a set, not per key.

	if !ch.conn.state.BindQueue(queue, exchange) {
		return false
	}
	return ch.conn.write(BuildQueueBindOk(ch.number)) == nil
}

func (ch *Channel) onBasicPublish(args []byte) bool {
	values, _, err := Decode("Bssbb", args, 0)
	if err != nil || len(values) < 3 {
		return false
	}
	exchange, _ := values[1].(string)
	routingKey, _ := values[2].(string)

	ch.publish = &pendingPublish{exchange: exchange, routingKey: routingKey}
	ch.state = channelWaitingHeader
	return true
}

func (ch *Channel) onBasicConsume(args []byte) bool {
	values, _, err := Decode("BssbbbbF", args, 0)
	if err != nil || len(values) < 3 {
		return false
	}
	queue, _ := values[1].(string)
	consumerTag, _ := values[2].(string)
	if consumerTag == "" {
		consumerTag = uuid.New().String()
	}

	if !ch.conn.state.RegisterConsumer(ch.conn, consumerTag, queue, ch.number) {
		return false
	}
	return ch.conn.write(BuildBasicConsumeOk(ch.number, consumerTag)) == nil
}

func (ch *Channel) onBasicAck(args []byte) bool {
	values, _, err := Decode("Lb", args, 0)
	if err != nil || len(values) < 1 {
		return false
	}
	tag, _ := values[0].(uint64)
	ch.conn.state.MessageAck(tag)
	return true
}

func (ch *Channel) onBasicNack(args []byte) bool {
	values, _, err := Decode("Lbb", args, 0)
	if err != nil || len(values) < 3 {
		return false
	}
	tag, _ := values[0].(uint64)
	requeue, _ := values[2].(bool)
	ch.conn.state.MessageNack(tag, requeue)
	return true
}

func (ch *Channel) onBasicCancel(args []byte) bool {
	values, _, err := Decode("sb", args, 0)
	if err != nil || len(values) < 1 {
		return false
	}
	consumerTag, _ := values[0].(string)
	return ch.conn.write(BuildBasicCancelOk(ch.number, consumerTag)) == nil
}

func (ch *Channel) handleContentHeader(payload []byte) bool {
	if len(payload) < 12 {
		return false
	}
	bodySize := binary.BigEndian.Uint64(payload[4:12])
	props, _, err := DecodeProperties(payload, 12)
	if err != nil {
		return false
	}

	if ch.publish == nil {
		return false
	}
	ch.publish.properties = props
	ch.publish.bodySize = bodySize
	ch.publish.bodyAccum = ch.publish.bodyAccum[:0]

	if bodySize == 0 {
		return ch.completePublish()
	}
	ch.state = channelWaitingBody
	return true
}

func (ch *Channel) handleContentBody(payload []byte) bool {
	ch.publish.bodyAccum = append(ch.publish.bodyAccum, payload...)
	if uint64(len(ch.publish.bodyAccum)) >= ch.publish.bodySize {
		return ch.completePublish()
	}
	return true
}

// completePublish stores the fully assembled message for inspection --
// AMQP-side publishes are recorded, not fanned out to live consumers; only
// the HTTP-injected publish routes attempt delivery.
func (ch *Channel) completePublish() bool {
	ch.conn.state.StoreMessage(ch.publish.exchange, ch.publish.properties, ch.publish.bodyAccum)
	ch.publish = nil
	ch.state = channelOpened
	return true
}
