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

package reliability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"treeCache/pkg/log"
)

// ShutdownHook is a function run during shutdown.
type ShutdownHook func(ctx context.Context) error

// ShutdownPhase orders hooks. Phases run in declaration order.
type ShutdownPhase int

const (
	// PhaseStopAccepting stops the HTTP and gRPC listeners.
	PhaseStopAccepting ShutdownPhase = iota
	// PhaseStopPropagation stops the propagation worker. The in-flight job
	// finishes and the rest of the queue is dropped.
	PhaseStopPropagation
	// PhaseCloseSession ends the coordination session, removing ephemeral entries.
	PhaseCloseSession
	// PhaseFlush flushes logs and traces.
	PhaseFlush
)

var allPhases = []ShutdownPhase{
	PhaseStopAccepting,
	PhaseStopPropagation,
	PhaseCloseSession,
	PhaseFlush,
}

// GracefulShutdown runs registered hooks phase by phase.
type GracefulShutdown struct {
	mu       sync.RWMutex
	hooks    map[ShutdownPhase][]ShutdownHook
	timeout  time.Duration
	done     chan struct{}
	finished chan struct{}
	signals  chan os.Signal
}

// NewGracefulShutdown creates a shutdown manager.
func NewGracefulShutdown(timeout time.Duration) *GracefulShutdown {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	gs := &GracefulShutdown{
		hooks:    make(map[ShutdownPhase][]ShutdownHook),
		timeout:  timeout,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		signals:  make(chan os.Signal, 1),
	}

	signal.Notify(gs.signals, syscall.SIGTERM, syscall.SIGINT)

	return gs
}

// RegisterHook adds a hook to phase. Hooks of one phase run concurrently.
func (gs *GracefulShutdown) RegisterHook(phase ShutdownPhase, hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.hooks[phase] = append(gs.hooks[phase], hook)
}

// Wait blocks until a termination signal or ctx is done, then shuts down.
func (gs *GracefulShutdown) Wait(ctx context.Context) {
	select {
	case sig := <-gs.signals:
		log.Info("Received shutdown signal",
			log.String("signal", sig.String()),
			log.Component("shutdown"))
	case <-ctx.Done():
		log.Info("Context done, shutting down",
			log.Err(ctx.Err()),
			log.Component("shutdown"))
	case <-gs.done:
		<-gs.finished
		return
	}
	gs.Shutdown()
}

// Shutdown runs all phases. Later calls wait for the first one to finish.
func (gs *GracefulShutdown) Shutdown() {
	gs.mu.Lock()
	select {
	case <-gs.done:
		gs.mu.Unlock()
		<-gs.finished
		return
	default:
		close(gs.done)
	}
	gs.mu.Unlock()
	defer close(gs.finished)
	defer signal.Stop(gs.signals)

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	for _, phase := range allPhases {
		phaseName := phase.String()
		log.Info("Shutdown phase started",
			log.Phase(phaseName),
			log.Component("shutdown"))

		gs.mu.RLock()
		hooks := gs.hooks[phase]
		gs.mu.RUnlock()

		// a failed phase does not skip the ones after it
		if err := gs.executeHooks(ctx, hooks, phaseName); err != nil {
			log.Error("Shutdown phase failed",
				log.Phase(phaseName),
				log.Err(err),
				log.Component("shutdown"))
		}
	}

	log.Info("Graceful shutdown completed",
		log.Component("shutdown"))
}

// executeHooks runs the hooks of one phase.
func (gs *GracefulShutdown) executeHooks(ctx context.Context, hooks []ShutdownHook, phaseName string) error {
	if len(hooks) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(hooks))

	for i, hook := range hooks {
		wg.Add(1)
		go func(idx int, h ShutdownHook) {
			defer wg.Done()
			var err error
			func() {
				defer RecoverPanicErr(fmt.Sprintf("shutdown-hook-%s-%d", phaseName, idx), &err)
				err = h(ctx)
			}()
			if err != nil {
				errChan <- fmt.Errorf("hook %d failed: %w", idx, err)
			}
		}(i, hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errChan)
		var errs []error
		for err := range errChan {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("phase %s: %w", phaseName, errors.Join(errs...))
		}
		return nil

	case <-ctx.Done():
		return fmt.Errorf("phase %s timeout: %w", phaseName, ctx.Err())
	}
}

// String returns the phase name.
func (p ShutdownPhase) String() string {
	switch p {
	case PhaseStopAccepting:
		return "Stop Accepting"
	case PhaseStopPropagation:
		return "Stop Propagation"
	case PhaseCloseSession:
		return "Close Session"
	case PhaseFlush:
		return "Flush"
	default:
		return fmt.Sprintf("Unknown Phase %d", int(p))
	}
}

// Done is closed when shutdown begins.
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// IsShuttingDown reports whether shutdown has begun.
func (gs *GracefulShutdown) IsShuttingDown() bool {
	select {
	case <-gs.done:
		return true
	default:
		return false
	}
}
