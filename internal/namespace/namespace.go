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

// Package namespace is the hierarchical coordination namespace the cache
// nodes register themselves in. It is used for discovery and liveness only,
// never for cached data.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNoNode is returned when a path does not exist.
	ErrNoNode = errors.New("namespace: node does not exist")

	// ErrNodeExists is returned when creating a path that already exists.
	ErrNodeExists = errors.New("namespace: node already exists")

	// ErrInvalidPath is returned for paths that are not absolute and clean.
	ErrInvalidPath = errors.New("namespace: invalid path")

	// ErrClosed is returned when the session has been closed.
	ErrClosed = errors.New("namespace: session closed")
)

// Stat describes a namespace entry.
type Stat struct {
	NumChildren int
	Ephemeral   bool
	// CreateRevision orders entries by creation. Zero for implicit entries.
	CreateRevision int64
}

// CreateOptions control Create.
type CreateOptions struct {
	// Ephemeral binds the entry to the session; it disappears on Close or
	// when the session expires.
	Ephemeral bool
	// MakePath creates missing ancestors as durable entries.
	MakePath bool
}

// Namespace is one session against the coordination service.
type Namespace interface {
	// Exists reports whether p exists.
	Exists(ctx context.Context, p string) (bool, error)
	// Create creates p. The parent must exist unless opts.MakePath is set.
	Create(ctx context.Context, p string, data []byte, opts CreateOptions) error
	// Get returns the data stored at p and its Stat.
	Get(ctx context.Context, p string) ([]byte, Stat, error)
	// Children returns the sorted names of the direct children of p.
	Children(ctx context.Context, p string) ([]string, error)
	// Ping reports whether the session is usable.
	Ping(ctx context.Context) error
	// Close ends the session.
	Close() error
}

// Root is the top of the namespace. It always exists.
const Root = "/"

// Validate checks that p is absolute and clean.
func Validate(p string) error {
	if p == "" || !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, p)
	}
	if path.Clean(p) != p {
		return fmt.Errorf("%w: %q is not clean", ErrInvalidPath, p)
	}
	return nil
}

// Join appends a single segment to p.
func Join(p, name string) string {
	if p == Root {
		return Root + name
	}
	return p + "/" + name
}

// Base returns the last segment of p.
func Base(p string) string {
	if p == Root {
		return ""
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Dir returns the parent of p.
func Dir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// ValidSegment reports whether name can be used as a single path segment.
func ValidSegment(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// ChildPrefix is the key prefix shared by every descendant of p.
func ChildPrefix(p string) string {
	if p == Root {
		return Root
	}
	return p + "/"
}

// ChildName returns the direct child segment of parent that key lies under,
// or false if key is not a strict descendant of parent.
func ChildName(parent, key string) (string, bool) {
	prefix := ChildPrefix(parent)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}

// Ancestors returns every proper ancestor of p except the root, outermost
// first.
func Ancestors(p string) []string {
	var out []string
	for d := Dir(p); d != Root; d = Dir(d) {
		out = append([]string{d}, out...)
	}
	return out
}
