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

package server

import (
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/packetd/amqpmock/confengine"
	"github.com/packetd/amqpmock/internal/metrics"
	"github.com/packetd/amqpmock/logger"
)

type Config struct {
	Address string        `config:"address"`
	Pprof   bool          `config:"pprof"`
	Timeout time.Duration `config:"timeout"`
}

// Server 是对 net/http + gorilla/mux 的薄封装
//
// 控制面要求每个请求用完即断 (Connection: close) 所以默认关闭 keep-alive
type Server struct {
	config Config
	router *mux.Router
	server *http.Server
}

// New 创建并返回 Server 实例
func New(conf *confengine.Config) (*Server, error) {
	config := Config{
		Address: "0.0.0.0:8080",
		Timeout: 10 * time.Second,
	}
	if conf != nil && conf.Has("server") {
		if err := conf.UnpackChild("server", &config); err != nil {
			return nil, err
		}
	}

	router := mux.NewRouter()
	s := &Server{
		config: config,
		router: router,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		},
	}
	s.server.SetKeepAlivesEnabled(false)
	router.Use(metricsMiddleware)
	router.Handle("/metrics", promhttp.Handler())
	if config.Pprof {
		s.registerPprofRoutes()
	}
	return s, nil
}

// statusRecorder captures the status code a handler wrote so it can be
// reported as a metrics label after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if m := mux.CurrentRoute(r); m != nil {
			if tpl, err := m.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	logger.Infof("http control plane listening on %s", s.config.Address)
	return s.server.Serve(l)
}

func (s *Server) Close() error {
	return s.server.Close()
}

func (s *Server) RegisterGetRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodGet).Path(path).HandlerFunc(f)
}

func (s *Server) RegisterPostRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodPost).Path(path).HandlerFunc(f)
}

// RegisterRoute 注册任意 HTTP 方法的路由 用于 DELETE 以及 MOCK_FLUSH 这类非标准动词
func (s *Server) RegisterRoute(method, path string, f http.HandlerFunc) {
	s.router.Methods(method).Path(path).HandlerFunc(f)
}

// Router 暴露底层 mux.Router 用于挂载通配匹配路由 (例如 MOCK_FLUSH 对任意路径生效)
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) registerPprofRoutes() {
	s.RegisterGetRoute("/debug/pprof/cmdline", pprof.Cmdline)
	s.RegisterGetRoute("/debug/pprof/profile", pprof.Profile)
	s.RegisterGetRoute("/debug/pprof/symbol", pprof.Symbol)
	s.RegisterGetRoute("/debug/pprof/trace", pprof.Trace)
	s.RegisterGetRoute("/debug/pprof/{other}", pprof.Index)
}
