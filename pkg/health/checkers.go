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
	"fmt"
)

// Pinger is a session that can report whether it is still usable.
// namespace.Namespace implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Queue is a propagation queue. *coherence.Worker implements it.
type Queue interface {
	Running() bool
	Pending() int
}

// Sizer reports how many entries a cache holds. *store.Store implements it.
type Sizer interface {
	Len() int
}

// SessionCheck is unhealthy once the coordination session stops answering.
func SessionCheck(session Pinger) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		if err := session.Ping(ctx); err != nil {
			return StatusUnhealthy, fmt.Sprintf("session lost: %v", err)
		}
		return StatusHealthy, ""
	}
}

// PropagationCheck is unhealthy once the worker has stopped and degraded
// while more than maxBacklog jobs wait. Zero disables the backlog limit.
func PropagationCheck(queue Queue, maxBacklog int) CheckFunc {
	return func(context.Context) (Status, string) {
		pending := queue.Pending()
		switch {
		case !queue.Running():
			return StatusUnhealthy, fmt.Sprintf("worker stopped with %d pending", pending)
		case maxBacklog > 0 && pending > maxBacklog:
			return StatusDegraded, fmt.Sprintf("backlog of %d jobs exceeds %d", pending, maxBacklog)
		}
		return StatusHealthy, ""
	}
}

// ErrorCheck is unhealthy whenever fn fails.
func ErrorCheck(fn func(context.Context) error) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		if err := fn(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	}
}
