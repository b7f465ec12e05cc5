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
	"time"

	"github.com/pkg/errors"
)

// WaitTimeout is how long every wait_* predicate below blocks before
// giving up, matching the fixture's historical 10-second budget.
const WaitTimeout = 10 * time.Second

// ErrWaitTimeout is returned by every Wait* method when its condition
// never became true within WaitTimeout.
var ErrWaitTimeout = errors.New("timed out waiting for condition")

type eventKind int

const (
	eventAuth eventKind = iota
	eventAck
	eventNack
	eventRequeue
	eventBind
)

type waitEvent struct {
	kind eventKind
}

// await blocks until check reports a value, or until timeout elapses. It
// subscribes to the broker's event bus before taking its first reading so
// no mutation occurring between the initial check and the subscription can
// be missed.
func (s *State) await(timeout time.Duration, check func() (bool, bool)) (bool, error) {
	sub := s.events.Subscribe(32)
	defer s.events.Unsubscribe(sub)

	if v, ok := check(); ok {
		return v, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, ErrWaitTimeout
		}
		if _, ok := sub.PopTimeout(remaining); !ok {
			return false, ErrWaitTimeout
		}
		if v, ok := check(); ok {
			return v, nil
		}
	}
}

// WaitAuthenticationPerformedOn blocks until a SASL attempt for username
// has been observed, returning whether it succeeded.
func (s *State) WaitAuthenticationPerformedOn(username string) (bool, error) {
	return s.await(WaitTimeout, func() (bool, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		v, ok := s.authenticationTriedOn[username]
		return v, ok
	})
}

// WaitMessageAcknowledged blocks until deliveryTag has been ack'd.
func (s *State) WaitMessageAcknowledged(deliveryTag uint64) (bool, error) {
	return s.await(WaitTimeout, func() (bool, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		_, ok := s.messageAcknowledged[deliveryTag]
		return ok, ok
	})
}

// WaitMessageNotAcknowledged blocks until deliveryTag has been nack'd
// without requeue.
func (s *State) WaitMessageNotAcknowledged(deliveryTag uint64) (bool, error) {
	return s.await(WaitTimeout, func() (bool, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		_, ok := s.messageNotAcknowledged[deliveryTag]
		return ok, ok
	})
}

// WaitMessageRequeued blocks until deliveryTag has been nack'd with
// requeue.
func (s *State) WaitMessageRequeued(deliveryTag uint64) (bool, error) {
	return s.await(WaitTimeout, func() (bool, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		_, ok := s.messageRequeued[deliveryTag]
		return ok, ok
	})
}

// WaitQueueBound blocks until queue has been bound to exchange.
func (s *State) WaitQueueBound(queue, exchange string) (bool, error) {
	return s.await(WaitTimeout, func() (bool, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		bound, ok := s.queuesBoundExchanges[exchange]
		if !ok {
			return false, false
		}
		_, ok = bound[queue]
		return ok, ok
	})
}
