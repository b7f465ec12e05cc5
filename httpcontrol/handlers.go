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
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"
)

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	body, err := h.state.ToJSON()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

func (h *handlers) waitAuthentication(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	ok, err := h.state.WaitAuthenticationPerformedOn(user)
	writeWaitResult(w, ok, err)
}

func (h *handlers) waitAcknowledged(w http.ResponseWriter, r *http.Request) {
	tag, ok := parseTag(w, r)
	if !ok {
		return
	}
	_, err := h.state.WaitMessageAcknowledged(tag)
	writeWaitResult(w, true, err)
}

func (h *handlers) waitNotAcknowledged(w http.ResponseWriter, r *http.Request) {
	tag, ok := parseTag(w, r)
	if !ok {
		return
	}
	_, err := h.state.WaitMessageNotAcknowledged(tag)
	writeWaitResult(w, true, err)
}

func (h *handlers) waitRequeued(w http.ResponseWriter, r *http.Request) {
	tag, ok := parseTag(w, r)
	if !ok {
		return
	}
	_, err := h.state.WaitMessageRequeued(tag)
	writeWaitResult(w, true, err)
}

func (h *handlers) waitQueueBound(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, err := h.state.WaitQueueBound(vars["queue"], vars["exchange"])
	writeWaitResult(w, true, err)
}

func (h *handlers) messagesInQueue(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	messages, ok := h.state.GetMessagesOfQueue(name)
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *handlers) messagesInExchange(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	messages, ok := h.state.GetMessagesOfExchange(name)
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *handlers) addMessageOn(w http.ResponseWriter, r *http.Request) {
	exchange := mux.Vars(r)["exchange"]
	headers, body, err := parsePublishBody(r)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	tag, ok := h.state.PublishMessage(exchange, headers, body)
	if !ok {
		writeNotFound(w)
		return
	}
	writeOKBody(w, cast.ToString(tag))
}

func (h *handlers) addMessageInQueue(w http.ResponseWriter, r *http.Request) {
	queue := mux.Vars(r)["queue"]
	headers, body, err := parsePublishBody(r)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	tag, ok := h.state.PublishMessageInQueue(queue, headers, body)
	if !ok {
		writeNotFound(w)
		return
	}
	writeOKBody(w, cast.ToString(tag))
}

func (h *handlers) createExchange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.state.DeclareExchange(vars["name"], vars["type"])
	writeOKBody(w, "")
}

func (h *handlers) createQueue(w http.ResponseWriter, r *http.Request) {
	h.state.DeclareQueue(mux.Vars(r)["name"])
	writeOKBody(w, "")
}

func (h *handlers) deleteMessagesInQueue(w http.ResponseWriter, r *http.Request) {
	h.state.DeleteMessagesOfQueue(mux.Vars(r)["name"])
	writeNoContent(w)
}

func (h *handlers) deleteMessagesInExchange(w http.ResponseWriter, r *http.Request) {
	h.state.DeleteMessagesOfExchange(mux.Vars(r)["name"])
	writeNoContent(w)
}

func (h *handlers) flush(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	writeNoContent(w)
}

func parseTag(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	tag, err := cast.ToUint64E(mux.Vars(r)["tag"])
	if err != nil {
		writeNotFound(w)
		return 0, false
	}
	return tag, true
}

// publishBody is the JSON shape accepted by the add-message-* routes when
// the request is not a raw binary payload.
type publishBody struct {
	Headers map[string]any `json:"headers"`
	Body    string         `json:"body"`
}

// parsePublishBody implements the fixture's two publish encodings: a raw
// binary body (Content-Type: application/octet-stream) with
// "amqp_header_"-prefixed request headers lifted into AMQP headers, or a
// JSON envelope carrying both headers and body.
func parsePublishBody(r *http.Request) (headers map[string]any, body []byte, err error) {
	if isBinaryContentType(r.Header.Get("Content-Type")) {
		headers = liftAMQPHeaders(r.Header)
		body, err = io.ReadAll(r.Body)
		return headers, body, err
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}

	var envelope publishBody
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, nil, err
		}
	}
	if envelope.Headers == nil {
		envelope.Headers = map[string]any{}
	}
	return envelope.Headers, []byte(envelope.Body), nil
}

func isBinaryContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/octet-stream")
}

const amqpHeaderPrefix = "amqp_header_"

func liftAMQPHeaders(h http.Header) map[string]any {
	out := make(map[string]any)
	for key, values := range h {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, amqpHeaderPrefix) || len(values) == 0 {
			continue
		}
		out[strings.TrimPrefix(lower, amqpHeaderPrefix)] = values[0]
	}
	return out
}
