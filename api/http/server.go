// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"treeCache/internal/node"
	"treeCache/internal/topology"
	"treeCache/pkg/health"
	"treeCache/pkg/log"
	"treeCache/pkg/metrics"
	"treeCache/pkg/reliability"
	"treeCache/pkg/tracing"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Response bodies the clients expect.
const (
	bodyOK       = "200"
	bodyNotFound = "None"
)

// Server serves the node routes over HTTP.
type Server struct {
	node       *node.Service
	health     *health.Reporter
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
}

// Config configures a Server.
type Config struct {
	Node *node.Service

	// Health routes are mounted only when Health is set.
	Health  *health.Reporter
	Metrics *metrics.Metrics
	Tracing bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *zap.Logger
}

// NewServer creates a Server and its routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	s := &Server{
		node:   cfg.Node,
		health: cfg.Health,
		logger: logger.With(log.Component("http")),
		router: mux.NewRouter(),
	}

	// outermost first: panic recovery, metrics, tracing
	s.router.Use(s.recoverMiddleware)
	s.router.Use(cfg.Metrics.HTTPMiddleware)
	if cfg.Tracing {
		s.router.Use(tracing.HTTPMiddleware)
	}
	s.routes()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.handle("/store/", s.handleStore, http.MethodPut)
	s.handle("/receive/", s.handleReceive, http.MethodGet)
	s.handle("/remove/", s.handleRemove, http.MethodDelete)
	s.handle("/getParent/", s.handleGetParent, http.MethodGet)

	s.router.HandleFunc("/admin/keys", s.handleKeys).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/topology", s.handleTopology).Methods(http.MethodGet)

	if s.health != nil {
		s.router.Handle("/health", s.health).Methods(http.MethodGet)
		s.router.HandleFunc("/readiness", s.health.ReadinessHandler()).Methods(http.MethodGet)
		s.router.HandleFunc("/liveness", s.health.LivenessHandler()).Methods(http.MethodGet)
	}
}

// handle registers path with and without its trailing slash.
func (s *Server) handle(path string, h http.HandlerFunc, method string) {
	s.router.HandleFunc(path, h).Methods(method)
	s.router.HandleFunc(path[:len(path)-1], h).Methods(method)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting HTTP API server", log.Address(lis.Addr().String()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// handleStore serves PUT /store/?key=&value=
func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, value := q.Get("key"), q.Get("value")
	if !q.Has("key") || !q.Has("value") {
		http.Error(w, "key and value are required", http.StatusBadRequest)
		return
	}

	if err := s.node.Put(r.Context(), key, value); err != nil {
		s.logger.Info("HTTP PUT rejected", log.KeyString(key), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeText(w, http.StatusOK, bodyOK)
}

// handleReceive serves GET /receive/?key=
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	v, ok, err := s.node.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		writeText(w, http.StatusNoContent, bodyNotFound)
		return
	}
	writeText(w, http.StatusOK, v)
}

// handleRemove serves DELETE /remove/?key=
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	removed, err := s.node.Remove(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !removed {
		writeText(w, http.StatusNoContent, bodyNotFound)
		return
	}
	writeText(w, http.StatusOK, bodyOK)
}

// handleGetParent serves GET /getParent/?nodeName= on the root.
func (s *Server) handleGetParent(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("nodeName")
	parent, err := s.node.AssignParent(r.Context(), candidate)
	switch {
	case err == nil:
		s.logger.Info("assigned parent", zap.String("candidate", candidate), log.Parent(parent))
		writeText(w, http.StatusOK, parent)
	case errors.Is(err, node.ErrNotRoot):
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
	case errors.Is(err, topology.ErrInvalidAddress):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, topology.ErrInvariantViolation):
		http.Error(w, err.Error(), http.StatusTeapot)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleKeys lists the locally cached pairs.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	pairs := s.node.Keys()
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		out[kv.Key] = kv.Val
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleTopology returns the tree snapshot on the root.
func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	tree, err := s.node.Topology()
	if err != nil {
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

// recoverMiddleware turns a handler panic into a 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var panicErr error
		func() {
			defer reliability.RecoverPanicErr("http:"+r.URL.Path, &panicErr)
			next.ServeHTTP(w, r)
		}()
		if panicErr != nil {
			s.logger.Error("HTTP handler panicked", zap.String("path", r.URL.Path), zap.Error(panicErr))
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

// writeText writes a plain text response. A 204 carries no body.
func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if code != http.StatusNoContent {
		w.Write([]byte(body))
	}
}
