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

import "bytes"

func methodFrame(channel uint16, cm classMethod, args []byte) []byte {
	payload := append(encodeMethodHeader(cm), args...)
	return encodeFrame(FrameMethod, channel, payload)
}

// BuildConnectionStart builds the server's opening connection.start,
// advertising the two SASL mechanisms this fixture understands.
func BuildConnectionStart(serverProperties map[string]any) []byte {
	args := Encode("ooFSS", []any{
		byte(0), byte(9),
		serverProperties,
		"PLAIN AMQPLAIN",
		"en_US",
	})
	return methodFrame(0, classMethod{ClassConnection, MethodConnectionStart}, args)
}

// BuildConnectionTune advertises the tuning parameters this fixture holds
// fixed: unlimited channels, a 128KiB frame ceiling, a 10s heartbeat.
func BuildConnectionTune(channelMax uint16, frameMax uint32, heartbeat uint16) []byte {
	args := Encode("BlB", []any{channelMax, frameMax, heartbeat})
	return methodFrame(0, classMethod{ClassConnection, MethodConnectionTune}, args)
}

func BuildConnectionOpenOk() []byte {
	args := Encode("s", []any{""})
	return methodFrame(0, classMethod{ClassConnection, MethodConnectionOpenOk}, args)
}

func BuildConnectionCloseOk() []byte {
	return methodFrame(0, classMethod{ClassConnection, MethodConnectionCloseOk}, nil)
}

func BuildChannelOpenOk(channel uint16) []byte {
	args := Encode("S", []any{""})
	return methodFrame(channel, classMethod{ClassChannel, MethodChannelOpenOk}, args)
}

func BuildChannelCloseOk(channel uint16) []byte {
	return methodFrame(channel, classMethod{ClassChannel, MethodChannelCloseOk}, nil)
}

func BuildExchangeDeclareOk(channel uint16) []byte {
	return methodFrame(channel, classMethod{ClassExchange, MethodExchangeDeclareOk}, nil)
}

func BuildQueueDeclareOk(channel uint16, queue string, messageCount, consumerCount uint32) []byte {
	args := Encode("sll", []any{queue, messageCount, consumerCount})
	return methodFrame(channel, classMethod{ClassQueue, MethodQueueDeclareOk}, args)
}

func BuildQueueBindOk(channel uint16) []byte {
	return methodFrame(channel, classMethod{ClassQueue, MethodQueueBindOk}, nil)
}

func BuildBasicQosOk(channel uint16) []byte {
	return methodFrame(channel, classMethod{ClassBasic, MethodBasicQosOk}, nil)
}

func BuildBasicConsumeOk(channel uint16, consumerTag string) []byte {
	args := Encode("s", []any{consumerTag})
	return methodFrame(channel, classMethod{ClassBasic, MethodBasicConsumeOk}, args)
}

func BuildBasicCancelOk(channel uint16, consumerTag string) []byte {
	args := Encode("s", []any{consumerTag})
	return methodFrame(channel, classMethod{ClassBasic, MethodBasicCancelOk}, args)
}

// BuildBasicDeliver builds the basic.deliver method frame that precedes a
// pushed message's content header and body.
func BuildBasicDeliver(channel uint16, consumerTag string, deliveryTag uint64, exchange, routingKey string) []byte {
	args := Encode("sLbss", []any{consumerTag, deliveryTag, false, exchange, routingKey})
	return methodFrame(channel, classMethod{ClassBasic, MethodBasicDeliver}, args)
}

// BuildContentHeader builds a content-header frame for the basic class:
// class-id, weight (always 0), body-size, then the property list.
func BuildContentHeader(channel uint16, bodySize uint64, props map[string]any) []byte {
	payload := new(bytes.Buffer)
	payload.Write(Encode("BB", []any{ClassBasic, uint16(0)}))
	payload.Write(Encode("L", []any{bodySize}))
	payload.Write(EncodeProperties(props))
	return encodeFrame(FrameHeader, channel, payload.Bytes())
}

// BuildContentBody wraps a chunk of message bytes in a content-body frame.
// The fixture never splits an outgoing body across multiple frames.
func BuildContentBody(channel uint16, body []byte) []byte {
	return encodeFrame(FrameBody, channel, body)
}

// BuildHeartbeat builds the empty heartbeat frame echoed back to a client
// that sent one; the server never originates heartbeats unprompted.
func BuildHeartbeat() []byte {
	return encodeFrame(FrameHeartbeat, 0, nil)
}
