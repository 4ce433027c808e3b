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

package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"treeCache/pkg/log"
)

// Status is the health of one check or of the whole node.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// worse reports whether a ranks below b.
func (a Status) worse(b Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[a] > rank[b]
}

// CheckFunc inspects one part of the node.
type CheckFunc func(ctx context.Context) (Status, string)

// CheckResult is one entry of a Report.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Node identifies the cache node a Reporter describes. Cache and Queue feed
// the counters of each report; Queue is nil on the root.
type Node struct {
	Role    string
	Address string
	Parent  string
	Cache   Sizer
	Queue   Queue
}

// Report is the body served on /health.
type Report struct {
	Status    Status        `json:"status"`
	Role      string        `json:"role"`
	Address   string        `json:"address"`
	Parent    string        `json:"parent,omitempty"`
	Keys      int           `json:"keys"`
	Pending   int           `json:"pending"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckResult `json:"checks"`
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Reporter builds health reports for a node and serves them over HTTP.
type Reporter struct {
	node   Node
	logger *zap.Logger

	mu     sync.RWMutex
	checks []namedCheck
	last   Status
}

// NewReporter creates a Reporter for node.
func NewReporter(node Node, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		node:   node,
		logger: logger.With(log.Component("health"), log.Role(node.Role)),
		last:   StatusHealthy,
	}
}

// Register adds a check. Checks run in registration order.
func (r *Reporter) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	r.checks = append(r.checks, namedCheck{name: name, fn: fn})
	r.mu.Unlock()
}

// Report runs every check. The node status is the worst check status.
func (r *Reporter) Report(ctx context.Context) *Report {
	r.mu.RLock()
	checks := append([]namedCheck(nil), r.checks...)
	r.mu.RUnlock()

	rep := &Report{
		Status:    StatusHealthy,
		Role:      r.node.Role,
		Address:   r.node.Address,
		Parent:    r.node.Parent,
		CheckedAt: time.Now().UTC(),
		Checks:    make([]CheckResult, 0, len(checks)),
	}
	if r.node.Cache != nil {
		rep.Keys = r.node.Cache.Len()
	}
	if r.node.Queue != nil {
		rep.Pending = r.node.Queue.Pending()
	}
	for _, c := range checks {
		st, msg := c.fn(ctx)
		rep.Checks = append(rep.Checks, CheckResult{Name: c.name, Status: st, Message: msg})
		if st.worse(rep.Status) {
			rep.Status = st
		}
	}

	r.mu.Lock()
	if rep.Status != r.last {
		r.logger.Info("node health changed",
			zap.String("from", string(r.last)), zap.String("to", string(rep.Status)))
		r.last = rep.Status
	}
	r.mu.Unlock()
	return rep
}

// ServeHTTP writes the report as JSON. Degraded still answers 200.
func (r *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 10*time.Second)
	defer cancel()

	rep := r.Report(ctx)
	w.Header().Set("Content-Type", "application/json")
	if rep.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		r.logger.Debug("failed to write health report", zap.Error(err))
	}
}

// ReadinessHandler answers 503 while the node is unhealthy.
func (r *Reporter) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		if r.Report(ctx).Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Not Ready\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready\n"))
	}
}

// LivenessHandler always answers 200 while the process serves HTTP.
func (r *Reporter) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Alive\n"))
	}
}
