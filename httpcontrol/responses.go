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
	"net/http"

	"github.com/packetd/amqpmock/logger"
)

func writeHeaders(w http.ResponseWriter) {
	w.Header().Set("Server", "whatever")
	w.Header().Set("Connection", "close")
}

func writeNoContent(w http.ResponseWriter) {
	writeHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func writeForbidden(w http.ResponseWriter) {
	writeText(w, http.StatusForbidden, "forbidden\n")
}

func writeTimeout(w http.ResponseWriter) {
	writeText(w, http.StatusGatewayTimeout, "timeout\n")
}

func writeNotFound(w http.ResponseWriter) {
	writeText(w, http.StatusNotFound, "not found\n")
}

func writeInternalError(w http.ResponseWriter, err error) {
	logger.Warnf("httpcontrol: uncaught error: %v", err)
	writeText(w, http.StatusInternalServerError, "internal server error\n")
}

func writeText(w http.ResponseWriter, status int, body string) {
	writeHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeOKBody(w http.ResponseWriter, body string) {
	writeText(w, http.StatusOK, body+"\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("httpcontrol: failed to encode JSON response: %v", err)
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	writeHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeWaitResult translates the outcome of an awaitable predicate to the
// control plane's fixed status-code vocabulary: 204 on success, 403 when
// the predicate resolved but to false (only meaningful for the
// authentication wait), 504 on timeout.
func writeWaitResult(w http.ResponseWriter, success bool, err error) {
	if err != nil {
		writeTimeout(w)
		return
	}
	if !success {
		writeForbidden(w)
		return
	}
	writeNoContent(w)
}
