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

package coherence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"treeCache/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	op    string
	key   string
	value string
}

// fakeParent records upstream calls. failKeys fail with errUnavailable,
// panicKeys panic inside the call.
type fakeParent struct {
	mu        sync.Mutex
	calls     []call
	data      map[string]string
	failKeys  map[string]bool
	panicKeys map[string]bool
	fetchErr  error
	block     chan struct{}
	fetches   int
}

var errUnavailable = errors.New("parent unavailable")

func newFakeParent() *fakeParent {
	return &fakeParent{
		data:      make(map[string]string),
		failKeys:  make(map[string]bool),
		panicKeys: make(map[string]bool),
	}
}

func (f *fakeParent) record(op, key, value string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op, key, value})
	if f.panicKeys[key] {
		panic("boom")
	}
	if f.failKeys[key] {
		return errUnavailable
	}
	return nil
}

func (f *fakeParent) Store(_ context.Context, key, value string) error {
	return f.record("store", key, value)
}

func (f *fakeParent) Remove(_ context.Context, key string) error {
	return f.record("remove", key, "")
}

func (f *fakeParent) Fetch(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return "", false, f.fetchErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeParent) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeParent) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newWorker(parent ParentClient, st *store.Store) *Worker {
	return New(Config{
		PollInterval: 10 * time.Millisecond,
		CallTimeout:  time.Second,
		ReadTimeout:  time.Second,
		FillOnRead:   true,
	}, parent, st, nil, zap.NewNop(), nil)
}

func TestFIFOOrder(t *testing.T) {
	parent := newFakeParent()
	w := newWorker(parent, store.New())

	w.Enqueue(StoreJob("a", "1"))
	w.Enqueue(StoreJob("b", "2"))
	w.Enqueue(RemoveJob("a"))
	w.Enqueue(StoreJob("a", "3"))

	w.Start(context.Background())
	defer w.Stop()

	want := []call{{"store", "a", "1"}, {"store", "b", "2"}, {"remove", "a", ""}, {"store", "a", "3"}}
	require.Eventually(t, func() bool { return len(parent.Calls()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, parent.Calls())
	assert.Equal(t, 0, w.Pending())
}

func TestEnqueueAfterStart(t *testing.T) {
	parent := newFakeParent()
	w := newWorker(parent, store.New())
	w.Start(context.Background())
	defer w.Stop()
	assert.True(t, w.Running())

	for i := 0; i < 20; i++ {
		w.Enqueue(StoreJob(fmt.Sprintf("k%02d", i), "v"))
	}

	require.Eventually(t, func() bool { return len(parent.Calls()) == 20 }, time.Second, 5*time.Millisecond)
	for i, c := range parent.Calls() {
		assert.Equal(t, fmt.Sprintf("k%02d", i), c.key)
	}
}

func TestWorkerSurvivesFailures(t *testing.T) {
	parent := newFakeParent()
	parent.failKeys["bad"] = true
	parent.panicKeys["explode"] = true
	w := newWorker(parent, store.New())

	w.Enqueue(StoreJob("bad", "x"))
	w.Enqueue(StoreJob("explode", "x"))
	w.Enqueue(StoreJob("good", "y"))
	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool { return len(parent.Calls()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "good", parent.Calls()[2].key)
	assert.True(t, w.Running())

	// failed jobs are not retried
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, parent.Calls(), 3)
}

func TestStopDiscardsQueue(t *testing.T) {
	parent := newFakeParent()
	parent.block = make(chan struct{})
	w := newWorker(parent, store.New())

	w.Start(context.Background())
	w.Enqueue(StoreJob("first", "1"))
	require.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, time.Millisecond)
	w.Enqueue(StoreJob("second", "2"))
	w.Enqueue(StoreJob("third", "3"))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(parent.block)
	<-stopped

	assert.False(t, w.Running())
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, []call{{"store", "first", "1"}}, parent.Calls())

	// a stopped worker does not restart
	w.Start(context.Background())
	assert.False(t, w.Running())
}

func TestContextCancelStopsWorker(t *testing.T) {
	w := newWorker(newFakeParent(), store.New())
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !w.Running() }, time.Second, time.Millisecond)
	w.Stop()
}

func TestReadThroughFills(t *testing.T) {
	parent := newFakeParent()
	parent.data["k"] = "v"
	st := store.New()
	w := newWorker(parent, st)

	v, ok := w.ReadThrough(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	e, ok := st.Entry("k")
	require.True(t, ok)
	assert.Equal(t, "v", e.Value)
	assert.Equal(t, store.PendingSync{}, e.PendingSync, "filled entries are clean")
	assert.Equal(t, 1, parent.Fetches())

	_, ok = w.ReadThrough(context.Background(), "missing")
	assert.False(t, ok)
	_, ok = st.Get("missing")
	assert.False(t, ok)
}

func TestReadThroughWithoutFill(t *testing.T) {
	parent := newFakeParent()
	parent.data["k"] = "v"
	st := store.New()
	w := New(Config{FillOnRead: false}, parent, st, nil, nil, nil)

	v, ok := w.ReadThrough(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 0, st.Len())
}

func TestReadThroughFailureIsMiss(t *testing.T) {
	parent := newFakeParent()
	parent.data["k"] = "v"
	parent.fetchErr = errUnavailable
	w := newWorker(parent, store.New())

	_, ok := w.ReadThrough(context.Background(), "k")
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "store", KindStore.String())
	assert.Equal(t, "remove", KindRemove.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

// ctxParent answers after delay unless its context ends first.
type ctxParent struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once
	result  chan error
}

func newCtxParent(delay time.Duration) *ctxParent {
	return &ctxParent{delay: delay, started: make(chan struct{}), result: make(chan error, 1)}
}

func (p *ctxParent) Store(ctx context.Context, _, _ string) error {
	p.once.Do(func() { close(p.started) })
	var err error
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.result <- err
	return err
}

func (p *ctxParent) Remove(ctx context.Context, key string) error { return p.Store(ctx, key, "") }

func (p *ctxParent) Fetch(context.Context, string) (string, bool, error) { return "", false, nil }

func TestInFlightJobSurvivesShutdown(t *testing.T) {
	for name, halt := range map[string]func(w *Worker, cancel context.CancelFunc){
		"stop then cancel": func(w *Worker, cancel context.CancelFunc) { w.Stop(); cancel() },
		"cancel then stop": func(w *Worker, cancel context.CancelFunc) { cancel(); w.Stop() },
	} {
		t.Run(name, func(t *testing.T) {
			parent := newCtxParent(100 * time.Millisecond)
			w := newWorker(parent, store.New())
			ctx, cancel := context.WithCancel(context.Background())
			w.Start(ctx)
			w.Enqueue(StoreJob("a", "1"))

			select {
			case <-parent.started:
			case <-time.After(time.Second):
				t.Fatal("job never reached the parent")
			}
			halt(w, cancel)

			select {
			case err := <-parent.result:
				assert.NoError(t, err, "in-flight job must finish")
			default:
				t.Fatal("Stop returned before the in-flight job finished")
			}
			assert.False(t, w.Running())
		})
	}
}

func TestCallTimeoutStillBoundsJob(t *testing.T) {
	parent := newCtxParent(time.Second)
	w := New(Config{PollInterval: 10 * time.Millisecond, CallTimeout: 20 * time.Millisecond}, parent, store.New(), nil, zap.NewNop(), nil)
	w.Start(context.Background())
	defer w.Stop()
	w.Enqueue(StoreJob("a", "1"))

	select {
	case err := <-parent.result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("CallTimeout did not cut the call short")
	}
}

// gatedParent holds Fetch until release is closed.
type gatedParent struct {
	*fakeParent
	fetching chan struct{}
	release  chan struct{}
}

func (g *gatedParent) Fetch(ctx context.Context, key string) (string, bool, error) {
	close(g.fetching)
	<-g.release
	return g.fakeParent.Fetch(ctx, key)
}

func TestReadThroughKeepsConcurrentLocalWrite(t *testing.T) {
	for name, mutate := range map[string]func(st *store.Store){
		"put":    func(st *store.Store) { st.Put("k", "new-local-write") },
		"remove": func(st *store.Store) { st.Remove("k") },
	} {
		t.Run(name, func(t *testing.T) {
			fp := newFakeParent()
			fp.data["k"] = "old-from-parent"
			parent := &gatedParent{fakeParent: fp, fetching: make(chan struct{}), release: make(chan struct{})}
			st := store.New()
			w := newWorker(parent, st)

			type result struct {
				v  string
				ok bool
			}
			got := make(chan result, 1)
			go func() {
				v, ok := w.ReadThrough(context.Background(), "k")
				got <- result{v, ok}
			}()

			<-parent.fetching
			mutate(st)
			close(parent.release)
			r := <-got

			local, present := st.Get("k")
			assert.Equal(t, present, r.ok)
			assert.Equal(t, local, r.v)
			if name == "put" {
				assert.Equal(t, "new-local-write", local)
			} else {
				assert.False(t, present, "a removed key is not refilled with the parent's stale value")
			}
		})
	}
}
