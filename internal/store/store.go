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

// Package store holds the node-local key/value map every cache node serves
// reads from.
package store

import (
	"sort"
	"sync"
)

// PendingSync records whether a key was changed locally and whether the
// change has been acknowledged upstream. Every local mutation writes
// (true, false); nothing clears it yet.
type PendingSync struct {
	Modified     bool
	Acknowledged bool
}

var dirty = PendingSync{Modified: true}

// Entry is a single cached value.
type Entry struct {
	Key         string
	Value       string
	PendingSync PendingSync
}

// Store is a thread-safe map from key to Entry. The mutex is held only for
// the map operation itself, never across I/O.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	// changes survives deletes so a removed key still reports its sync state.
	changes map[string]PendingSync
	// versions counts local mutations per key, including removes of keys
	// that were not cached.
	versions map[string]uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		changes:  make(map[string]PendingSync),
		versions: make(map[string]uint64),
	}
}

// Put inserts or overwrites key and marks it modified. Last writer wins.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry{Key: key, Value: value, PendingSync: dirty}
	s.changes[key] = dirty
	s.versions[key]++
}

// Version returns the local mutation count of key. Take it before asking the
// parent and hand it to Fill.
func (s *Store) Version(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[key]
}

// Fill caches a value fetched from the parent, unless key is already cached
// or was mutated locally after version was taken. It returns what the store
// now holds for key. Filled entries are clean and leave the recorded sync
// state of the key as it was.
func (s *Store) Fill(key, value string, version uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e.Value, true
	}
	if s.versions[key] != version {
		return "", false
	}
	s.entries[key] = &Entry{Key: key, Value: value}
	return value, true
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return e.Value, true
}

// Entry returns a copy of the entry stored under key.
func (s *Store) Entry(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes key and reports whether it was present. A successful delete
// marks the key modified.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions[key]++
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	s.changes[key] = dirty
	return true
}

// PendingSync returns the last recorded sync state of key, including keys
// that have since been removed.
func (s *Store) PendingSync(key string) (PendingSync, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.changes[key]
	return ps, ok
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns a sorted copy of all key/value pairs.
func (s *Store) Snapshot() []KV {
	s.mu.Lock()
	out := make([]KV, 0, len(s.entries))
	for k, e := range s.entries {
		out = append(out, KV{Key: k, Val: e.Value})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KV represents a key-value pair
type KV struct {
	Key string `json:"key"`
	Val string `json:"value"`
}
