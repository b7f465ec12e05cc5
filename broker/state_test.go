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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCredentials(t *testing.T) {
	s := New("guest", "guest")

	assert.True(t, s.CheckCredentials("guest", "guest"))
	assert.False(t, s.CheckCredentials("guest", "wrong"))
	assert.False(t, s.CheckCredentials("nobody", "guest"))
}

func TestDeclareExchangeRejectsTypeMismatchOnRedeclare(t *testing.T) {
	s := New("guest", "guest")

	assert.True(t, s.DeclareExchange("orders", "direct"))
	assert.True(t, s.DeclareExchange("orders", "direct"))
	assert.False(t, s.DeclareExchange("orders", "fanout"))
}

func TestDeclareQueueBindsToDefaultExchange(t *testing.T) {
	s := New("guest", "guest")

	ok, messages, consumers := s.DeclareQueue("q1")
	require.True(t, ok)
	assert.Zero(t, messages)
	assert.Zero(t, consumers)

	bound, err := s.WaitQueueBound("q1", DefaultExchangeName)
	require.NoError(t, err)
	assert.True(t, bound)
}

func TestDeclareQueueAlwaysReportsEmpty(t *testing.T) {
	s := New("guest", "guest")

	s.DeclareQueue("q1")
	s.StoreMessageInQueue("q1", nil, []byte("hi"))

	ok, messages, consumers := s.DeclareQueue("q1")
	require.True(t, ok)
	assert.Zero(t, messages, "redeclaration always reports zero depth, even with retained messages")
	assert.Zero(t, consumers)
}

func TestBindQueueRequiresBothEndsToExist(t *testing.T) {
	s := New("guest", "guest")
	s.DeclareQueue("q1")
	s.DeclareExchange("ex1", "direct")

	assert.True(t, s.BindQueue("q1", "ex1"))
	assert.False(t, s.BindQueue("missing-queue", "ex1"))
	assert.False(t, s.BindQueue("q1", "missing-exchange"))
}

func TestStoreMessageFansOutToBoundQueuesWithoutDelivering(t *testing.T) {
	s := New("guest", "guest")
	s.DeclareExchange("ex1", "direct")
	s.DeclareQueue("q1")
	s.BindQueue("q1", "ex1")

	ok := s.StoreMessage("ex1", map[string]any{"content_type": "text/plain"}, []byte("payload"))
	require.True(t, ok)

	exMessages, ok := s.GetMessagesOfExchange("ex1")
	require.True(t, ok)
	require.Len(t, exMessages, 1)
	assert.Equal(t, "payload", exMessages[0].Body)

	qMessages, ok := s.GetMessagesOfQueue("q1")
	require.True(t, ok)
	require.Len(t, qMessages, 1)
}

func TestStoreMessageUnknownExchangeFails(t *testing.T) {
	s := New("guest", "guest")
	assert.False(t, s.StoreMessage("nowhere", nil, []byte("x")))
}

// fakeSink is a broker.MessageSink double used to exercise delivery without
// a real AMQP connection.
type fakeSink struct {
	closed   atomic.Bool
	received chan struct {
		headers     map[string]any
		body        []byte
		deliveryTag uint64
	}
}

func newFakeSink() *fakeSink {
	s := &fakeSink{}
	s.received = make(chan struct {
		headers     map[string]any
		body        []byte
		deliveryTag uint64
	}, 4)
	return s
}

func (f *fakeSink) Closed() bool { return f.closed.Load() }

func (f *fakeSink) PushMessage(headers map[string]any, body []byte, channelNumber uint16, consumerTag string, deliveryTag uint64, exchangeName string) error {
	f.received <- struct {
		headers     map[string]any
		body        []byte
		deliveryTag uint64
	}{headers, body, deliveryTag}
	return nil
}

func TestPublishMessageDeliversToExactlyOneConsumer(t *testing.T) {
	s := New("guest", "guest")
	s.DeclareExchange("ex1", "direct")
	s.DeclareQueue("q1")
	s.BindQueue("q1", "ex1")

	sink := newFakeSink()
	require.True(t, s.RegisterConsumer(sink, "ctag", "q1", 1))

	tag, ok := s.PublishMessage("ex1", map[string]any{"k": "v"}, []byte("body"))
	require.True(t, ok)
	assert.NotZero(t, tag)

	select {
	case delivery := <-sink.received:
		assert.Equal(t, []byte("body"), delivery.body)
		assert.Equal(t, tag, delivery.deliveryTag)
	case <-time.After(time.Second):
		t.Fatal("expected a delivery")
	}
}

func TestPublishMessageGCsDeadConsumers(t *testing.T) {
	s := New("guest", "guest")
	s.DeclareExchange("ex1", "direct")
	s.DeclareQueue("q1")
	s.BindQueue("q1", "ex1")

	sink := newFakeSink()
	sink.closed.Store(true)
	require.True(t, s.RegisterConsumer(sink, "dead", "q1", 1))

	_, ok := s.PublishMessage("ex1", nil, []byte("body"))
	assert.True(t, ok, "publish still succeeds even with no live consumer")
	assert.Empty(t, s.queues["q1"].consumers, "the dead consumer is removed on publish")

	select {
	case <-sink.received:
		t.Fatal("a closed sink must never receive a delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishMessageInQueueBypassesExchangeRouting(t *testing.T) {
	s := New("guest", "guest")
	s.DeclareQueue("q1")

	sink := newFakeSink()
	require.True(t, s.RegisterConsumer(sink, "ctag", "q1", 1))

	_, ok := s.PublishMessageInQueue("q1", nil, []byte("direct-to-queue"))
	require.True(t, ok)

	select {
	case delivery := <-sink.received:
		assert.Equal(t, []byte("direct-to-queue"), delivery.body)
	case <-time.After(time.Second):
		t.Fatal("expected a delivery")
	}
}

func TestMessageAckNackRequeueObservable(t *testing.T) {
	s := New("guest", "guest")

	s.MessageAck(1)
	acked, err := s.WaitMessageAcknowledged(1)
	require.NoError(t, err)
	assert.True(t, acked)

	s.MessageNack(2, false)
	_, err = s.WaitMessageNotAcknowledged(2)
	require.NoError(t, err)

	s.MessageNack(3, true)
	_, err = s.WaitMessageRequeued(3)
	require.NoError(t, err)
}

func TestWaitTimesOutWhenConditionNeverHolds(t *testing.T) {
	s := New("guest", "guest")
	_, err := s.await(20*time.Millisecond, func() (bool, bool) {
		return false, false
	})
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestResetRestoresDefaultUserAndClearsState(t *testing.T) {
	s := New("guest", "guest")
	s.DeclareExchange("ex1", "direct")
	s.DeclareQueue("q1")
	s.CheckCredentials("guest", "guest")

	s.Reset()

	_, ok := s.GetMessagesOfExchange("ex1")
	assert.False(t, ok, "reset clears custom exchanges")

	assert.True(t, s.CheckCredentials("guest", "guest"))
}
