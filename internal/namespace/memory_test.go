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

package namespace_test

import (
	"context"
	"testing"

	"treeCache/internal/namespace"
	"treeCache/internal/namespace/namespacetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/a", namespace.Join(namespace.Root, "a"))
	assert.Equal(t, "/a/b", namespace.Join("/a", "b"))
	assert.Equal(t, "b", namespace.Base("/a/b"))
	assert.Equal(t, "", namespace.Base(namespace.Root))
	assert.Equal(t, "/a", namespace.Dir("/a/b"))
	assert.Equal(t, namespace.Root, namespace.Dir("/a"))
	assert.Equal(t, []string{"/a", "/a/b"}, namespace.Ancestors("/a/b/c"))
	assert.Empty(t, namespace.Ancestors("/a"))

	name, ok := namespace.ChildName("/a", "/a/b/c")
	assert.True(t, ok)
	assert.Equal(t, "b", name)
	_, ok = namespace.ChildName("/a", "/ab")
	assert.False(t, ok)
	_, ok = namespace.ChildName("/a", "/a")
	assert.False(t, ok)

	assert.NoError(t, namespace.Validate("/a/10.0.0.1:5001"))
	assert.ErrorIs(t, namespace.Validate("a"), namespace.ErrInvalidPath)
	assert.ErrorIs(t, namespace.Validate("/a/"), namespace.ErrInvalidPath)
	assert.ErrorIs(t, namespace.Validate("/a//b"), namespace.ErrInvalidPath)

	assert.True(t, namespace.ValidSegment("10.0.0.1"))
	assert.False(t, namespace.ValidSegment("a/b"))
}

func TestMemoryNamespace(t *testing.T) {
	namespacetest.Run(t, func(t *testing.T) (namespace.Namespace, namespace.Namespace) {
		store := namespace.NewMemoryStore()
		a, b := store.Session(), store.Session()
		t.Cleanup(func() {
			_ = a.Close()
			_ = b.Close()
		})
		return a, b
	})
}

func TestMemorySessionClosed(t *testing.T) {
	s := namespace.NewMemoryStore().Session()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Exists(context.Background(), "/x")
	assert.ErrorIs(t, err, namespace.ErrClosed)
}

func TestMemoryRootAlwaysExists(t *testing.T) {
	s := namespace.NewMemoryStore().Session()
	ok, err := s.Exists(context.Background(), namespace.Root)
	require.NoError(t, err)
	assert.True(t, ok)

	_, stat, err := s.Get(context.Background(), namespace.Root)
	require.NoError(t, err)
	assert.Equal(t, 0, stat.NumChildren)
}
