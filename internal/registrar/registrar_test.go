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

package registrar

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"treeCache/internal/namespace"
	"treeCache/internal/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const base = "/treecache"

func newRegistrar(t *testing.T, ns namespace.Namespace, self string, attempts int) *Registrar {
	t.Helper()
	r, err := New(ns, Config{
		BasePath:       base,
		Self:           self,
		Ephemeral:      true,
		SearchAttempts: attempts,
		SearchBackoff:  5 * time.Millisecond,
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	return r
}

// countingNamespace counts sweeps by observing Get on the base path.
type countingNamespace struct {
	namespace.Namespace
	sweeps atomic.Int32
}

func (c *countingNamespace) Get(ctx context.Context, p string) ([]byte, namespace.Stat, error) {
	if p == base {
		c.sweeps.Add(1)
	}
	return c.Namespace.Get(ctx, p)
}

func TestRegisterRootIdempotent(t *testing.T) {
	ns := namespace.NewMemoryStore().Session()
	r := newRegistrar(t, ns, "10.0.0.1", 1)

	reg, err := r.RegisterRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/treecache/10.0.0.1", reg.Path)
	assert.Empty(t, reg.Parent)

	_, err = r.RegisterRoot(context.Background())
	require.NoError(t, err)

	_, stat, err := ns.Get(context.Background(), reg.Path)
	require.NoError(t, err)
	assert.False(t, stat.Ephemeral, "root entry is durable")
}

func TestRegisterLeafUnderNestedParent(t *testing.T) {
	store := namespace.NewMemoryStore()
	ctx := context.Background()

	_, err := newRegistrar(t, store.Session(), "root", 1).RegisterRoot(ctx)
	require.NoError(t, err)

	mid, err := newRegistrar(t, store.Session(), "mid", 1).RegisterLeaf(ctx, StaticResolver{Parent: "root"})
	require.NoError(t, err)
	assert.Equal(t, "/treecache/root/mid", mid.Path)

	leafNS := store.Session()
	leaf, err := newRegistrar(t, leafNS, "leaf", 1).RegisterLeaf(ctx, StaticResolver{Parent: "mid"})
	require.NoError(t, err)
	assert.Equal(t, "mid", leaf.Parent)
	assert.Equal(t, "/treecache/root/mid/leaf", leaf.Path)

	_, stat, err := leafNS.Get(ctx, leaf.Path)
	require.NoError(t, err)
	assert.True(t, stat.Ephemeral)

	again, err := newRegistrar(t, leafNS, "leaf", 1).RegisterLeaf(ctx, StaticResolver{Parent: "mid"})
	require.NoError(t, err, "re-registration is skipped")
	assert.Equal(t, leaf.Path, again.Path)

	require.NoError(t, leafNS.Close())
	ok, err := store.Session().Exists(ctx, leaf.Path)
	require.NoError(t, err)
	assert.False(t, ok, "ephemeral leaf vanishes with its session")
}

func TestDiscoverySucceedsOnLaterAttempt(t *testing.T) {
	store := namespace.NewMemoryStore()
	ctx := context.Background()
	_, err := newRegistrar(t, store.Session(), "root", 1).RegisterRoot(ctx)
	require.NoError(t, err)

	ns := &countingNamespace{Namespace: store.Session()}
	r := newRegistrar(t, ns, "leaf", 50)

	// the parent shows up once the leaf has swept a few times
	go func() {
		for ns.sweeps.Load() < 3 {
			time.Sleep(time.Millisecond)
		}
		_ = store.Session().Create(ctx, "/treecache/root/late", nil, namespace.CreateOptions{})
	}()

	p, err := r.Discover(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "/treecache/root/late", p)
	assert.GreaterOrEqual(t, ns.sweeps.Load(), int32(3))
}

func TestDiscoveryExhausted(t *testing.T) {
	store := namespace.NewMemoryStore()
	ctx := context.Background()
	_, err := newRegistrar(t, store.Session(), "root", 1).RegisterRoot(ctx)
	require.NoError(t, err)

	ns := &countingNamespace{Namespace: store.Session()}
	_, err = newRegistrar(t, ns, "leaf", 4).RegisterLeaf(ctx, StaticResolver{Parent: "ghost"})
	assert.ErrorIs(t, err, ErrDiscoveryExhausted)
	assert.Equal(t, int32(4), ns.sweeps.Load())
}

func TestDiscoveryWithoutBase(t *testing.T) {
	r := newRegistrar(t, namespace.NewMemoryStore().Session(), "leaf", 2)
	_, found, err := r.Find(context.Background(), "root")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDiscoveryCancelled(t *testing.T) {
	r, err := New(namespace.NewMemoryStore().Session(), Config{
		BasePath:       base,
		Self:           "leaf",
		SearchAttempts: 5,
		SearchBackoff:  time.Hour,
	}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Discover(ctx, "root")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsBadSegment(t *testing.T) {
	_, err := New(namespace.NewMemoryStore().Session(), Config{Self: "a/b"}, nil, nil)
	assert.Error(t, err)
}

func TestLeafCannotBeOwnParent(t *testing.T) {
	r := newRegistrar(t, namespace.NewMemoryStore().Session(), "self", 1)
	_, err := r.RegisterLeaf(context.Background(), StaticResolver{Parent: "self"})
	assert.Error(t, err)
}

type fakeAssigner struct {
	calls  atomic.Int32
	failN  int32
	err    error
	parent string
}

func (f *fakeAssigner) AssignParent(_ context.Context, _ string) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failN {
		return "", f.err
	}
	return f.parent, nil
}

func TestAssignmentResolverRetries(t *testing.T) {
	a := &fakeAssigner{failN: 2, err: errors.New("unavailable"), parent: "10.0.0.1"}
	res := &AssignmentResolver{Assigner: a, Attempts: 5, Backoff: time.Millisecond}

	parent, err := res.ResolveParent(context.Background(), "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", parent)
	assert.Equal(t, int32(3), a.calls.Load())
}

func TestAssignmentResolverGivesUp(t *testing.T) {
	a := &fakeAssigner{failN: 100, err: errors.New("unavailable")}
	res := &AssignmentResolver{Assigner: a, Attempts: 5, Backoff: time.Millisecond}

	_, err := res.ResolveParent(context.Background(), "10.0.0.2")
	require.Error(t, err)
	assert.Equal(t, int32(5), a.calls.Load())
}

func TestAssignmentResolverStopsOnInvalidAddress(t *testing.T) {
	a := &fakeAssigner{failN: 100, err: fmt.Errorf("root said: %w", topology.ErrInvalidAddress)}
	res := &AssignmentResolver{Assigner: a, Attempts: 5, Backoff: time.Millisecond}

	_, err := res.ResolveParent(context.Background(), "bad address")
	assert.ErrorIs(t, err, topology.ErrInvalidAddress)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestStaticResolverRequiresParent(t *testing.T) {
	_, err := StaticResolver{}.ResolveParent(context.Background(), "x")
	assert.Error(t, err)
}
