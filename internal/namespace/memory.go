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

package namespace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// entry is a namespace path stored in the B-tree.
// It implements btree.Item.
type entry struct {
	path     string
	data     []byte
	owner    uint64 // session id for ephemeral entries, zero when durable
	revision int64
}

// Less implements btree.Item.
func (e *entry) Less(other btree.Item) bool {
	return e.path < other.(*entry).path
}

// MemoryStore is an in-process coordination namespace. Paths are kept in a
// B-tree so a subtree is one contiguous range. Several sessions can share one
// store, which is how single-process deployments and tests run a whole tree.
type MemoryStore struct {
	mu          sync.RWMutex
	tree        *btree.BTree
	revision    int64
	nextSession atomic.Uint64
}

// NewMemoryStore creates an empty namespace.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: btree.New(32),
	}
}

// Session opens a new session. Ephemeral entries created through it are
// removed when it is closed.
func (s *MemoryStore) Session() *MemorySession {
	return &MemorySession{
		store: s,
		id:    s.nextSession.Add(1),
	}
}

// Len returns the number of stored paths.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *MemoryStore) get(p string) (*entry, bool) {
	it := s.tree.Get(&entry{path: p})
	if it == nil {
		return nil, false
	}
	return it.(*entry), true
}

func (s *MemoryStore) exists(p string) bool {
	if p == Root {
		return true
	}
	_, ok := s.get(p)
	return ok
}

// children collects the direct child names of p from the subtree range.
func (s *MemoryStore) children(p string) []string {
	prefix := ChildPrefix(p)
	seen := make(map[string]struct{})
	s.tree.AscendGreaterOrEqual(&entry{path: prefix}, func(it btree.Item) bool {
		e := it.(*entry)
		if !strings.HasPrefix(e.path, prefix) {
			return false
		}
		if name, ok := ChildName(p, e.path); ok {
			seen[name] = struct{}{}
		}
		return true
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *MemoryStore) create(owner uint64, p string, data []byte, opts CreateOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(p) {
		return fmt.Errorf("%w: %s", ErrNodeExists, p)
	}

	parent := Dir(p)
	if !s.exists(parent) {
		if !opts.MakePath {
			return fmt.Errorf("%w: parent of %s", ErrNoNode, p)
		}
		for _, a := range Ancestors(p) {
			if s.exists(a) {
				continue
			}
			s.revision++
			s.tree.ReplaceOrInsert(&entry{path: a, revision: s.revision})
		}
	}

	e := &entry{path: p, data: append([]byte(nil), data...)}
	if opts.Ephemeral {
		e.owner = owner
	}
	s.revision++
	e.revision = s.revision
	s.tree.ReplaceOrInsert(e)
	return nil
}

// expire drops every ephemeral entry owned by the session.
func (s *MemoryStore) expire(owner uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []btree.Item
	s.tree.Ascend(func(it btree.Item) bool {
		if it.(*entry).owner == owner {
			owned = append(owned, it)
		}
		return true
	})
	for _, it := range owned {
		s.tree.Delete(it)
	}
	return len(owned)
}

// MemorySession is a Namespace backed by a MemoryStore.
type MemorySession struct {
	store  *MemoryStore
	id     uint64
	closed atomic.Bool
}

var _ Namespace = (*MemorySession)(nil)

func (m *MemorySession) check(ctx context.Context, p string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return Validate(p)
}

// Exists implements Namespace.
func (m *MemorySession) Exists(ctx context.Context, p string) (bool, error) {
	if err := m.check(ctx, p); err != nil {
		return false, err
	}
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	return m.store.exists(p), nil
}

// Create implements Namespace.
func (m *MemorySession) Create(ctx context.Context, p string, data []byte, opts CreateOptions) error {
	if err := m.check(ctx, p); err != nil {
		return err
	}
	if p == Root {
		return fmt.Errorf("%w: %s", ErrNodeExists, p)
	}
	return m.store.create(m.id, p, data, opts)
}

// Get implements Namespace.
func (m *MemorySession) Get(ctx context.Context, p string) ([]byte, Stat, error) {
	if err := m.check(ctx, p); err != nil {
		return nil, Stat{}, err
	}
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	stat := Stat{NumChildren: len(m.store.children(p))}
	if p == Root {
		return nil, stat, nil
	}
	e, ok := m.store.get(p)
	if !ok {
		return nil, Stat{}, fmt.Errorf("%w: %s", ErrNoNode, p)
	}
	stat.Ephemeral = e.owner != 0
	stat.CreateRevision = e.revision
	return append([]byte(nil), e.data...), stat, nil
}

// Children implements Namespace.
func (m *MemorySession) Children(ctx context.Context, p string) ([]string, error) {
	if err := m.check(ctx, p); err != nil {
		return nil, err
	}
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	if !m.store.exists(p) {
		return nil, fmt.Errorf("%w: %s", ErrNoNode, p)
	}
	return m.store.children(p), nil
}

// Ping implements Namespace.
func (m *MemorySession) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Close implements Namespace. Ephemeral entries of this session are removed.
func (m *MemorySession) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.store.expire(m.id)
	return nil
}
