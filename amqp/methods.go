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

// Class ids, AMQP 0-9-1 method table.
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
	ClassBasic      uint16 = 60
)

// Method ids within each class, the subset this fixture recognizes.
const (
	MethodConnectionStart  uint16 = 10
	MethodConnectionStartOk uint16 = 11
	MethodConnectionTune   uint16 = 30
	MethodConnectionTuneOk uint16 = 31
	MethodConnectionOpen   uint16 = 40
	MethodConnectionOpenOk uint16 = 41
	MethodConnectionClose  uint16 = 50
	MethodConnectionCloseOk uint16 = 51

	MethodChannelOpen    uint16 = 10
	MethodChannelOpenOk  uint16 = 11
	MethodChannelClose   uint16 = 40
	MethodChannelCloseOk uint16 = 41

	MethodExchangeDeclare   uint16 = 10
	MethodExchangeDeclareOk uint16 = 11

	MethodQueueDeclare   uint16 = 10
	MethodQueueDeclareOk uint16 = 11
	MethodQueueBind      uint16 = 20
	MethodQueueBindOk    uint16 = 21

	MethodBasicQos       uint16 = 10
	MethodBasicQosOk     uint16 = 11
	MethodBasicConsume   uint16 = 20
	MethodBasicConsumeOk uint16 = 21
	MethodBasicCancel    uint16 = 30
	MethodBasicCancelOk  uint16 = 31
	MethodBasicPublish   uint16 = 40
	MethodBasicDeliver   uint16 = 60
	MethodBasicAck       uint16 = 80
	MethodBasicNack      uint16 = 120
)

// classMethod identifies an incoming method by its (class, method) pair, so
// the dispatcher can switch on a single comparable value the way the
// fixture's source keeps a table of recognized ids (class<<16 | method).
type classMethod struct {
	class  uint16
	method uint16
}

func (m classMethod) id() uint32 {
	return uint32(m.class)<<16 | uint32(m.method)
}

var (
	idConnectionStartOk = classMethod{ClassConnection, MethodConnectionStartOk}
	idConnectionTuneOk  = classMethod{ClassConnection, MethodConnectionTuneOk}
	idConnectionOpen    = classMethod{ClassConnection, MethodConnectionOpen}
	idConnectionClose   = classMethod{ClassConnection, MethodConnectionClose}

	idChannelOpen  = classMethod{ClassChannel, MethodChannelOpen}
	idChannelClose = classMethod{ClassChannel, MethodChannelClose}

	idExchangeDeclare = classMethod{ClassExchange, MethodExchangeDeclare}

	idQueueDeclare = classMethod{ClassQueue, MethodQueueDeclare}
	idQueueBind    = classMethod{ClassQueue, MethodQueueBind}

	idBasicQos     = classMethod{ClassBasic, MethodBasicQos}
	idBasicConsume = classMethod{ClassBasic, MethodBasicConsume}
	idBasicPublish = classMethod{ClassBasic, MethodBasicPublish}
	idBasicAck     = classMethod{ClassBasic, MethodBasicAck}
	idBasicNack    = classMethod{ClassBasic, MethodBasicNack}
	idBasicCancel  = classMethod{ClassBasic, MethodBasicCancel}
)

// decodeMethodFrame splits a method frame's payload into its (class,
// method) id and the remaining argument bytes.
func decodeMethodFrame(payload []byte) (classMethod, []byte, error) {
	if len(payload) < 4 {
		return classMethod{}, nil, ErrInvalidFrame
	}
	return classMethod{
		class:  uint16(payload[0])<<8 | uint16(payload[1]),
		method: uint16(payload[2])<<8 | uint16(payload[3]),
	}, payload[4:], nil
}

func encodeMethodHeader(cm classMethod) []byte {
	return []byte{
		byte(cm.class >> 8), byte(cm.class),
		byte(cm.method >> 8), byte(cm.method),
	}
}
