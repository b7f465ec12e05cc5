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

// Package httpcontrol is the sideband HTTP introspection and injection
// surface a test harness drives: it reads back what an AMQP client under
// test published, injects messages toward a consumer under test, and
// blocks on specific protocol events with a bounded timeout.
package httpcontrol

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/packetd/amqpmock/broker"
	"github.com/packetd/amqpmock/server"
)

// routeRegistrar is implemented by *server.Server; it is narrowed to an
// interface here so handler registration can be unit tested against a bare
// mux.Router too.
type routeRegistrar interface {
	RegisterGetRoute(path string, f http.HandlerFunc)
	RegisterPostRoute(path string, f http.HandlerFunc)
	RegisterRoute(method, path string, f http.HandlerFunc)
	Router() *mux.Router
}

var _ routeRegistrar = (*server.Server)(nil)

// Register wires every route of the control plane onto srv against the
// given broker state.
func Register(srv routeRegistrar, state *broker.State) {
	h := &handlers{state: state}

	srv.RegisterGetRoute("/", h.snapshot)
	srv.RegisterGetRoute("/authentification-done-with-success-on/{user}", h.waitAuthentication)
	srv.RegisterGetRoute("/messages-acknowledged/{tag}", h.waitAcknowledged)
	srv.RegisterGetRoute("/messages-not-acknowledged/{tag}", h.waitNotAcknowledged)
	srv.RegisterGetRoute("/messages-requeued/{tag}", h.waitRequeued)
	srv.RegisterGetRoute("/messages-in-queue/{name}", h.messagesInQueue)
	srv.RegisterGetRoute("/messages-in-exchange/{name}", h.messagesInExchange)
	srv.RegisterGetRoute("/queue-bound-to-exchange/{queue}/{exchange}", h.waitQueueBound)

	srv.RegisterPostRoute("/add-message-on/{exchange}", h.addMessageOn)
	srv.RegisterPostRoute("/add-message-in-queue/{queue}", h.addMessageInQueue)
	srv.RegisterPostRoute("/create-exchange/{name}/{type}", h.createExchange)
	srv.RegisterPostRoute("/create-queue/{name}", h.createQueue)

	srv.RegisterRoute(http.MethodDelete, "/messages-in-queue/{name}", h.deleteMessagesInQueue)
	srv.RegisterRoute(http.MethodDelete, "/messages-in-exchange/{name}", h.deleteMessagesInExchange)

	// MOCK_FLUSH is a non-standard verb the test harness uses to reset
	// state; it applies to any path, so it is registered directly on
	// the router rather than through one of the path-specific helpers.
	srv.Router().Methods("MOCK_FLUSH").PathPrefix("/").HandlerFunc(h.flush)
}

type handlers struct {
	state *broker.State
}
