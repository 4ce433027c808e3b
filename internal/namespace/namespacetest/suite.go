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

// Package namespacetest holds a conformance suite shared by the namespace
// backends.
package namespacetest

import (
	"context"
	"testing"

	"treeCache/internal/namespace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the namespace.Namespace contract; open must return two
// independent sessions on the same namespace.
func Run(t *testing.T, open func(t *testing.T) (namespace.Namespace, namespace.Namespace)) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		a, _ := open(t)

		require.NoError(t, a.Create(ctx, "/cg/root", []byte("r"), namespace.CreateOptions{MakePath: true}))
		ok, err := a.Exists(ctx, "/cg/root")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = a.Exists(ctx, "/cg")
		require.NoError(t, err)
		assert.True(t, ok, "MakePath creates ancestors")

		data, stat, err := a.Get(ctx, "/cg/root")
		require.NoError(t, err)
		assert.Equal(t, []byte("r"), data)
		assert.Equal(t, 0, stat.NumChildren)
		assert.False(t, stat.Ephemeral)

		err = a.Create(ctx, "/cg/root", nil, namespace.CreateOptions{})
		assert.ErrorIs(t, err, namespace.ErrNodeExists)

		err = a.Create(ctx, "/cg/missing/child", nil, namespace.CreateOptions{})
		assert.ErrorIs(t, err, namespace.ErrNoNode)

		_, _, err = a.Get(ctx, "/cg/nope")
		assert.ErrorIs(t, err, namespace.ErrNoNode)
	})

	t.Run("Children", func(t *testing.T) {
		a, _ := open(t)

		require.NoError(t, a.Create(ctx, "/ch/r", nil, namespace.CreateOptions{MakePath: true}))
		require.NoError(t, a.Create(ctx, "/ch/r/b", nil, namespace.CreateOptions{}))
		require.NoError(t, a.Create(ctx, "/ch/r/a", nil, namespace.CreateOptions{}))
		require.NoError(t, a.Create(ctx, "/ch/r/a/x", nil, namespace.CreateOptions{}))
		require.NoError(t, a.Create(ctx, "/ch/r-sibling", nil, namespace.CreateOptions{}))

		names, err := a.Children(ctx, "/ch/r")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)

		_, stat, err := a.Get(ctx, "/ch/r")
		require.NoError(t, err)
		assert.Equal(t, 2, stat.NumChildren)

		names, err = a.Children(ctx, "/ch")
		require.NoError(t, err)
		assert.Equal(t, []string{"r", "r-sibling"}, names)

		_, err = a.Children(ctx, "/ch/none")
		assert.ErrorIs(t, err, namespace.ErrNoNode)
	})

	t.Run("EphemeralVanishesOnClose", func(t *testing.T) {
		a, b := open(t)

		require.NoError(t, a.Create(ctx, "/eph/root", nil, namespace.CreateOptions{MakePath: true}))
		require.NoError(t, b.Create(ctx, "/eph/root/leaf", nil, namespace.CreateOptions{Ephemeral: true}))

		_, stat, err := a.Get(ctx, "/eph/root/leaf")
		require.NoError(t, err)
		assert.True(t, stat.Ephemeral)

		require.NoError(t, b.Close())

		ok, err := a.Exists(ctx, "/eph/root/leaf")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = a.Exists(ctx, "/eph/root")
		require.NoError(t, err)
		assert.True(t, ok, "durable entries survive the session")
	})

	t.Run("PingAfterClose", func(t *testing.T) {
		_, b := open(t)

		require.NoError(t, b.Ping(ctx))
		require.NoError(t, b.Close())
		assert.ErrorIs(t, b.Ping(ctx), namespace.ErrClosed)
		assert.NoError(t, b.Close(), "Close is idempotent")
	})
}

