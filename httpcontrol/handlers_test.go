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

package httpcontrol

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/amqpmock/broker"
)

// testRegistrar implements routeRegistrar directly on top of mux.Router,
// standing in for *server.Server in tests so the control plane can be
// exercised without a real listening socket.
type testRegistrar struct {
	router *mux.Router
}

func newTestRegistrar() *testRegistrar {
	return &testRegistrar{router: mux.NewRouter()}
}

func (r *testRegistrar) RegisterGetRoute(path string, f http.HandlerFunc) {
	r.router.Methods(http.MethodGet).Path(path).HandlerFunc(f)
}

func (r *testRegistrar) RegisterPostRoute(path string, f http.HandlerFunc) {
	r.router.Methods(http.MethodPost).Path(path).HandlerFunc(f)
}

func (r *testRegistrar) RegisterRoute(method, path string, f http.HandlerFunc) {
	r.router.Methods(method).Path(path).HandlerFunc(f)
}

func (r *testRegistrar) Router() *mux.Router { return r.router }

func newTestServer(t *testing.T) (*httptest.Server, *broker.State) {
	t.Helper()
	state := broker.New("guest", "guest")
	reg := newTestRegistrar()
	Register(reg, state)
	srv := httptest.NewServer(reg.router)
	t.Cleanup(srv.Close)
	return srv, state
}

func TestSnapshotReturnsJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestCreateExchangeAndQueue(t *testing.T) {
	srv, state := newTestServer(t)

	resp, err := http.Post(srv.URL+"/create-exchange/orders/direct", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/create-queue/q1", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok := state.GetMessagesOfExchange("orders")
	assert.True(t, ok)
	_, ok = state.GetMessagesOfQueue("q1")
	assert.True(t, ok)
}

func TestAddMessageOnUnknownExchangeReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/add-message-on/missing", "application/json", strings.NewReader(`{"body":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddMessageOnJSONEnvelope(t *testing.T) {
	srv, state := newTestServer(t)
	state.DeclareExchange("orders", "direct")

	body := `{"headers":{"content_type":"text/plain"},"body":"hello"}`
	resp, err := http.Post(srv.URL+"/add-message-on/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	messages, ok := state.GetMessagesOfExchange("orders")
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Body)
}

func TestAddMessageInQueueBinaryBody(t *testing.T) {
	srv, state := newTestServer(t)
	state.DeclareQueue("q1")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/add-message-in-queue/q1", strings.NewReader("raw-bytes"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("amqp_header_content_type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	messages, ok := state.GetMessagesOfQueue("q1")
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "raw-bytes", messages[0].Body)
	assert.Equal(t, "application/octet-stream", messages[0].Headers["content_type"])
}

func TestWaitAuthenticationSucceedsImmediatelyWhenAlreadyObserved(t *testing.T) {
	srv, state := newTestServer(t)
	state.CheckCredentials("guest", "guest")

	resp, err := http.Get(srv.URL + "/authentification-done-with-success-on/guest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWaitAuthenticationForbiddenOnFailedAttempt(t *testing.T) {
	srv, state := newTestServer(t)
	state.CheckCredentials("guest", "wrong-password")

	resp, err := http.Get(srv.URL + "/authentification-done-with-success-on/guest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeleteAndFlush(t *testing.T) {
	srv, state := newTestServer(t)
	state.DeclareQueue("q1")
	state.StoreMessageInQueue("q1", nil, []byte("x"))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/messages-in-queue/q1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	messages, ok := state.GetMessagesOfQueue("q1")
	require.True(t, ok)
	assert.Empty(t, messages)

	req, err = http.NewRequest("MOCK_FLUSH", srv.URL+"/anything", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok = state.GetMessagesOfQueue("q1")
	assert.False(t, ok, "MOCK_FLUSH resets the broker entirely")
}
