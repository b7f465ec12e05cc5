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
	"encoding/json"
	"math/rand"
	"sync"

	"github.com/packetd/amqpmock/internal/metrics"
	"github.com/packetd/amqpmock/internal/pubsub"
	"github.com/packetd/amqpmock/logger"
)

// State is the single in-memory store backing both the AMQP listener and
// the HTTP control plane. All exported methods are safe for concurrent use.
type State struct {
	mu sync.RWMutex

	defaultUser     string
	defaultPassword string

	users                  map[string]string
	exchanges              map[string]*exchangeState
	queues                 map[string]*queueState
	queuesBoundExchanges   map[string]map[string]struct{}
	authenticationTriedOn  map[string]bool
	messageAcknowledged    map[uint64]struct{}
	messageNotAcknowledged map[uint64]struct{}
	messageRequeued        map[uint64]struct{}

	// events fans out every mutation relevant to a wait_* predicate so
	// waiters can be notified instead of polling for their condition.
	events *pubsub.PubSub
}

// New builds a State seeded with a single default user, as AMQP 0.9.1
// brokers normally ship with a "guest" account.
func New(defaultUser, defaultPassword string) *State {
	s := &State{
		defaultUser:     defaultUser,
		defaultPassword: defaultPassword,
		events:          pubsub.New(),
	}
	s.resetLocked()
	return s
}

// Reset restores the broker to its freshly-started state. Exposed to the
// HTTP control plane as the MOCK_FLUSH operation.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.users = map[string]string{s.defaultUser: s.defaultPassword}
	s.exchanges = map[string]*exchangeState{
		DefaultExchangeName: {typ: "direct"},
	}
	s.queues = make(map[string]*queueState)
	s.queuesBoundExchanges = make(map[string]map[string]struct{})
	s.authenticationTriedOn = make(map[string]bool)
	s.messageAcknowledged = make(map[uint64]struct{})
	s.messageNotAcknowledged = make(map[uint64]struct{})
	s.messageRequeued = make(map[uint64]struct{})
}

// CheckCredentials validates a username/password pair and records the
// attempt so wait_authentication_performed_on can observe it later, win or
// lose.
func (s *State) CheckCredentials(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.users[username] == password
	s.authenticationTriedOn[username] = ok
	s.events.Publish(waitEvent{kind: eventAuth})
	return ok
}

// DeclareExchange creates the named exchange on first sight. Redeclaring an
// existing exchange succeeds only if the type matches.
func (s *State) DeclareExchange(name, typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex, ok := s.exchanges[name]; ok {
		return ex.typ == typ
	}

	logger.Debugf("broker: declared exchange %q type %q", name, typ)
	s.exchanges[name] = &exchangeState{typ: typ}
	return true
}

// DeclareQueue creates the named queue on first sight and binds it to the
// default exchange, as AMQP 0.9.1 mandates. It always reports an empty
// queue: this is a test fixture, not a broker that remembers depth across
// declarations.
func (s *State) DeclareQueue(name string) (ok bool, messageCount, consumerCount int) {
	s.mu.Lock()
	if _, exists := s.queues[name]; !exists {
		logger.Debugf("broker: declared queue %q", name)
		s.queues[name] = &queueState{consumers: make(map[string]*consumerRegistration)}
		s.mu.Unlock()
		s.bindQueueLocked(name, DefaultExchangeName)
		return true, 0, 0
	}
	s.mu.Unlock()
	return true, 0, 0
}

// BindQueue binds an existing queue to an existing exchange. Routing keys
// are accepted by callers but ignored here: this fixture always delivers
// to every queue bound to an exchange, regardless of key or binding
// arguments.
func (s *State) BindQueue(queue, exchange string) bool {
	return s.bindQueueLocked(queue, exchange)
}

func (s *State) bindQueueLocked(queue, exchange string) bool {
	s.mu.Lock()
	if _, ok := s.exchanges[exchange]; !ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.queues[queue]; !ok {
		s.mu.Unlock()
		return false
	}

	bound, ok := s.queuesBoundExchanges[exchange]
	if !ok {
		bound = make(map[string]struct{})
		s.queuesBoundExchanges[exchange] = bound
	}
	bound[queue] = struct{}{}
	logger.Debugf("broker: bound queue %q to exchange %q", queue, exchange)
	s.mu.Unlock()

	s.events.Publish(waitEvent{kind: eventBind})
	return true
}

// RegisterConsumer attaches a consumer to an existing queue. A queue only
// ever delivers to one consumer per message, chosen arbitrarily among the
// registered set -- this is a test fixture, not a fair scheduler.
func (s *State) RegisterConsumer(sink MessageSink, consumerTag, queueName string, channelNumber uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queueName]
	if !ok {
		return false
	}

	logger.Debugf("broker: consumer %q registered on queue %q", consumerTag, queueName)
	q.consumers[consumerTag] = &consumerRegistration{sink: sink, channelNumber: channelNumber}
	return true
}

// DeleteMessagesOfQueue discards every message retained by a queue. A
// missing queue is a silent no-op.
func (s *State) DeleteMessagesOfQueue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[name]; ok {
		q.messages = nil
	}
}

// GetMessagesOfQueue returns the messages currently retained by a queue.
// ok is false when the queue does not exist.
func (s *State) GetMessagesOfQueue(name string) (messages []RenderedMessage, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, exists := s.queues[name]
	if !exists {
		return nil, false
	}
	return renderMessages(q.messages), true
}

// DeleteMessagesOfExchange discards every message retained by an exchange.
func (s *State) DeleteMessagesOfExchange(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex, ok := s.exchanges[name]; ok {
		ex.messages = nil
	}
}

// GetMessagesOfExchange returns the messages currently retained by an
// exchange. ok is false when the exchange does not exist.
func (s *State) GetMessagesOfExchange(name string) (messages []RenderedMessage, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, exists := s.exchanges[name]
	if !exists {
		return nil, false
	}
	return renderMessages(ex.messages), true
}

// StoreMessage retains a message under an exchange for later inspection,
// fanning it out to every queue currently bound to it, without attempting
// delivery to any consumer.
func (s *State) StoreMessage(exchangeName string, headers map[string]any, body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex, ok := s.exchanges[exchangeName]
	if !ok {
		return false
	}

	msg := StoredMessage{Headers: headers, Body: body}
	ex.messages = append(ex.messages, msg)
	for queueName := range s.queuesBoundExchanges[exchangeName] {
		if q, ok := s.queues[queueName]; ok {
			q.messages = append(q.messages, msg)
		}
	}
	metrics.MessagesPublished.Inc()
	return true
}

// StoreMessageInQueue retains a message directly under a queue, bypassing
// exchange routing entirely.
func (s *State) StoreMessageInQueue(queueName string, headers map[string]any, body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queueName]
	if !ok {
		return false
	}
	q.messages = append(q.messages, StoredMessage{Headers: headers, Body: body})
	metrics.MessagesPublished.Inc()
	return true
}

// PublishMessage stores a message under an exchange and attempts to deliver
// it to exactly one consumer per bound queue. ok is false when the
// exchange does not exist; deliveryTag is the tag assigned to the last
// queue a delivery was attempted on, or 0 when no consumer received it.
func (s *State) PublishMessage(exchangeName string, headers map[string]any, body []byte) (deliveryTag uint64, ok bool) {
	s.mu.Lock()
	ex, exists := s.exchanges[exchangeName]
	if !exists {
		s.mu.Unlock()
		return 0, false
	}

	msg := StoredMessage{Headers: headers, Body: body}
	ex.messages = append(ex.messages, msg)
	metrics.MessagesPublished.Inc()

	var deliveries []delivery
	for queueName := range s.queuesBoundExchanges[exchangeName] {
		q, ok := s.queues[queueName]
		if !ok {
			continue
		}
		tag, d := s.deliverToOneConsumerLocked(q, headers, body, exchangeName)
		if d != nil {
			deliveries = append(deliveries, *d)
			deliveryTag = tag
		}
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		deliverAsync(d)
	}
	return deliveryTag, true
}

// PublishMessageInQueue stores a message directly under a queue and
// attempts delivery to exactly one of its consumers.
func (s *State) PublishMessageInQueue(queueName string, headers map[string]any, body []byte) (deliveryTag uint64, ok bool) {
	s.mu.Lock()
	q, exists := s.queues[queueName]
	if !exists {
		s.mu.Unlock()
		return 0, false
	}

	q.messages = append(q.messages, StoredMessage{Headers: headers, Body: body})
	metrics.MessagesPublished.Inc()
	tag, d := s.deliverToOneConsumerLocked(q, headers, body, "dummy-exchange")
	s.mu.Unlock()

	if d != nil {
		deliverAsync(*d)
	}
	return tag, true
}

type delivery struct {
	sink          MessageSink
	headers       map[string]any
	body          []byte
	channelNumber uint16
	consumerTag   string
	deliveryTag   uint64
	exchangeName  string
}

// deliverToOneConsumerLocked picks the first live consumer registered on q,
// assigning it a fresh random delivery tag, and garbage-collects any
// consumer whose connection has since gone away. Callers must hold s.mu.
func (s *State) deliverToOneConsumerLocked(q *queueState, headers map[string]any, body []byte, exchangeName string) (uint64, *delivery) {
	var dead []string
	var tag uint64
	var chosen *delivery

	for consumerTag, reg := range q.consumers {
		tag = uint64(1 + rand.Int63n(1<<31))

		if reg.sink.Closed() {
			dead = append(dead, consumerTag)
			continue
		}

		chosen = &delivery{
			sink:          reg.sink,
			headers:       headers,
			body:          body,
			channelNumber: reg.channelNumber,
			consumerTag:   consumerTag,
			deliveryTag:   tag,
			exchangeName:  exchangeName,
		}
		break
	}

	for _, consumerTag := range dead {
		logger.Debugf("broker: dead consumer %q cleaned up", consumerTag)
		delete(q.consumers, consumerTag)
	}

	return tag, chosen
}

func deliverAsync(d delivery) {
	if err := d.sink.PushMessage(d.headers, d.body, d.channelNumber, d.consumerTag, d.deliveryTag, d.exchangeName); err != nil {
		logger.Warnf("broker: failed to push message to consumer %q: %v", d.consumerTag, err)
		return
	}
	metrics.DeliveriesPushed.Inc()
}

// MessageAck records a delivery tag as acknowledged.
func (s *State) MessageAck(deliveryTag uint64) {
	s.mu.Lock()
	s.messageAcknowledged[deliveryTag] = struct{}{}
	s.mu.Unlock()
	metrics.Acknowledgements.WithLabelValues("ack").Inc()
	s.events.Publish(waitEvent{kind: eventAck})
}

// MessageNack records a delivery tag as either requeued or rejected,
// mirroring basic.nack/basic.reject semantics.
func (s *State) MessageNack(deliveryTag uint64, requeue bool) {
	s.mu.Lock()
	if requeue {
		s.messageRequeued[deliveryTag] = struct{}{}
	} else {
		s.messageNotAcknowledged[deliveryTag] = struct{}{}
	}
	s.mu.Unlock()

	if requeue {
		metrics.Acknowledgements.WithLabelValues("requeue").Inc()
		s.events.Publish(waitEvent{kind: eventRequeue})
	} else {
		metrics.Acknowledgements.WithLabelValues("nack").Inc()
		s.events.Publish(waitEvent{kind: eventNack})
	}
}

// snapshot mirrors State.to_json of the original fixture.
type snapshot struct {
	Users                   map[string]string          `json:"users"`
	Exchanges               map[string]exchangeSnapshot `json:"exchanges"`
	Queues                  map[string]queueSnapshot    `json:"queues"`
	QueuesBoundExchanges    map[string][]string         `json:"queues_bound_exchanges"`
	AuthenticationTriedOn   map[string]bool             `json:"authentication_tried_on"`
	MessagesAcknowledged    []uint64                    `json:"messages_acknowledged"`
	MessagesNotAcknowledged []uint64                    `json:"messages_not_acknowledged"`
	MessagesRequeued        []uint64                    `json:"messages_requeued"`
}

type exchangeSnapshot struct {
	Type     string            `json:"type"`
	Messages []RenderedMessage `json:"messages"`
}

type queueSnapshot struct {
	Messages      []RenderedMessage `json:"messages"`
	ConsumerTags  []string          `json:"consumers"`
}

// ToJSON renders the entire broker state, as exposed on the introspection
// route consumed by test suites that want a single snapshot rather than a
// sequence of wait_* calls.
func (s *State) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Passwords are never echoed back; only the user names are exposed.
	users := make(map[string]string, len(s.users))
	for name := range s.users {
		users[name] = "***"
	}

	snap := snapshot{
		Users:                   users,
		Exchanges:               make(map[string]exchangeSnapshot, len(s.exchanges)),
		Queues:                  make(map[string]queueSnapshot, len(s.queues)),
		QueuesBoundExchanges:    make(map[string][]string, len(s.queuesBoundExchanges)),
		AuthenticationTriedOn:   s.authenticationTriedOn,
		MessagesAcknowledged:    keysOf(s.messageAcknowledged),
		MessagesNotAcknowledged: keysOf(s.messageNotAcknowledged),
		MessagesRequeued:        keysOf(s.messageRequeued),
	}

	for name, ex := range s.exchanges {
		snap.Exchanges[name] = exchangeSnapshot{Type: ex.typ, Messages: renderMessages(ex.messages)}
	}
	for name, q := range s.queues {
		tags := make([]string, 0, len(q.consumers))
		for tag := range q.consumers {
			tags = append(tags, tag)
		}
		snap.Queues[name] = queueSnapshot{Messages: renderMessages(q.messages), ConsumerTags: tags}
	}
	for exchange, queues := range s.queuesBoundExchanges {
		names := make([]string, 0, len(queues))
		for name := range queues {
			names = append(names, name)
		}
		snap.QueuesBoundExchanges[exchange] = names
	}

	return json.Marshal(snap)
}

func keysOf(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
