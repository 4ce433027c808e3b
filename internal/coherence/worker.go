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

// Package coherence keeps a leaf's local store loosely in sync with its
// parent.
//
// Local mutations are queued as jobs and forwarded upstream one at a time,
// in the order they were made, by a single background goroutine. Failed
// jobs are logged and dropped: the tree is eventually consistent at best.
// Local misses are served by a synchronous read-through to the parent.
package coherence

import (
	"context"
	"errors"
	"sync"
	"time"

	"treeCache/internal/store"
	"treeCache/pkg/log"
	"treeCache/pkg/metrics"
	"treeCache/pkg/reliability"
	"treeCache/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ParentClient is the upstream side of propagation.
type ParentClient interface {
	Store(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Fetch returns found=false when the parent does not hold key.
	Fetch(ctx context.Context, key string) (value string, found bool, err error)
}

// Outcome classifies how an upstream call ended.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeClientError   Outcome = "client_error"
	OutcomeUnknownStatus Outcome = "unknown_status"
	OutcomeTransport     Outcome = "transport_error"
)

// Classifier maps an upstream error to an Outcome. rpc.Classify is the one
// used in production.
type Classifier func(error) Outcome

// Config controls the worker.
type Config struct {
	// PollInterval bounds how long the idle loop sleeps between wake-ups.
	PollInterval time.Duration
	// CallTimeout bounds each upstream Store or Remove.
	CallTimeout time.Duration
	// ReadTimeout bounds each read-through.
	ReadTimeout time.Duration
	// FillOnRead caches values returned by the parent.
	FillOnRead bool
}

// Worker drains the propagation queue toward the parent. Only leaves have
// one.
type Worker struct {
	cfg      Config
	parent   ParentClient
	store    *store.Store
	classify Classifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Job
	running bool
	stopped bool
	done    chan struct{}
}

// New creates a stopped worker. Jobs enqueued before Start are kept.
func New(cfg Config, parent ParentClient, st *store.Store, classify Classifier, logger *zap.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if classify == nil {
		classify = defaultClassify
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	w := &Worker{
		cfg:      cfg,
		parent:   parent,
		store:    st,
		classify: classify,
		logger:   logger.With(log.Component("coherence")),
		metrics:  m,
		tracer:   tracing.Tracer("treecache/coherence"),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func defaultClassify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	return OutcomeTransport
}

// Enqueue appends job to the queue. It never blocks on the network.
func (w *Worker) Enqueue(job Job) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	depth := len(w.queue)
	w.mu.Unlock()

	w.cond.Signal()
	w.metrics.RecordEnqueue(job.Kind.String(), depth)
}

// Start launches the drain loop. It is a no-op if the worker is already
// running or has been stopped.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	// context cancellation is treated as Stop
	stopOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.halt()
		case <-stopOnCancel:
		}
	}()

	reliability.SafeGo("coherence-worker", func() {
		defer close(done)
		defer close(stopOnCancel)
		w.loop(ctx)
	})

	w.logger.Info("propagation worker started", zap.Int("pending", w.Pending()))
}

// Stop halts the loop, waits for the in-flight job to finish and discards
// the rest of the queue. Cancelling the context passed to Start has the same
// effect.
func (w *Worker) Stop() {
	w.halt()

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}

	w.mu.Lock()
	dropped := len(w.queue)
	w.queue = nil
	w.mu.Unlock()

	w.metrics.SetQueueDepth(0)
	w.logger.Info("propagation worker stopped", zap.Int("discarded", dropped))
}

func (w *Worker) halt() {
	w.mu.Lock()
	w.running = false
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Running reports whether the drain loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// loop pops one job at a time and executes it outside the lock.
func (w *Worker) loop(ctx context.Context) {
	// wake the cond periodically so a lost signal never stalls the queue
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	tickDone := make(chan struct{})
	defer close(tickDone)
	go func() {
		for {
			select {
			case <-ticker.C:
				w.cond.Broadcast()
			case <-tickDone:
				return
			}
		}
	}()

	for {
		job, ok := w.next()
		if !ok {
			return
		}
		w.execute(ctx, job)
	}
}

// next blocks until a job is queued or the worker is stopped.
func (w *Worker) next() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.running && len(w.queue) == 0 {
		w.cond.Wait()
	}
	if !w.running {
		return Job{}, false
	}
	job := w.queue[0]
	w.queue[0] = Job{}
	w.queue = w.queue[1:]
	return job, true
}

func (w *Worker) execute(ctx context.Context, job Job) {
	defer reliability.RecoverPanic("coherence-job")

	kind := job.Kind.String()
	ctx, span := w.tracer.Start(ctx, "propagate."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.key", job.Key)))
	defer span.End()

	// A job that has started runs to completion; only CallTimeout bounds it.
	callCtx := context.WithoutCancel(ctx)
	if w.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, w.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	switch job.Kind {
	case KindStore:
		err = w.parent.Store(callCtx, job.Key, job.Value)
	case KindRemove:
		err = w.parent.Remove(callCtx, job.Key)
	default:
		err = errors.New("coherence: unknown job kind")
	}
	elapsed := time.Since(start)

	outcome := w.classify(err)
	w.metrics.RecordPropagation(kind, string(outcome), elapsed, w.Pending())
	span.SetAttributes(attribute.String("propagation.outcome", string(outcome)))

	fields := []zap.Field{
		log.JobKind(kind),
		log.KeyString(job.Key),
		zap.Duration("elapsed", elapsed),
	}
	if err == nil {
		w.logger.Debug("propagated to parent", fields...)
		return
	}
	tracing.RecordError(span, err)
	w.logger.Warn("propagation to parent failed",
		append(fields, zap.String("outcome", string(outcome)), zap.Error(err))...)
}
