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

// Package metrics holds every Prometheus collector the broker exposes at
// /metrics, alongside internal/rescue's panic counter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/amqpmock/common"
)

var ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: common.App,
	Name:      "connections_accepted_total",
	Help:      "AMQP TCP connections accepted",
})

var FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: common.App,
	Name:      "frames_decoded_total",
	Help:      "AMQP frames decoded, by frame type",
}, []string{"type"})

var MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: common.App,
	Name:      "messages_published_total",
	Help:      "Messages stored from basic.publish or the HTTP injection routes",
})

var DeliveriesPushed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: common.App,
	Name:      "deliveries_pushed_total",
	Help:      "basic.deliver frames pushed to a live consumer",
})

var Acknowledgements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: common.App,
	Name:      "acknowledgements_total",
	Help:      "basic.ack/basic.nack outcomes, by kind",
}, []string{"kind"})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: common.App,
	Name:      "http_requests_total",
	Help:      "Control plane HTTP requests, by route and status",
}, []string{"route", "status"})
