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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apihttp "treeCache/api/http"
	"treeCache/internal/coherence"
	"treeCache/internal/node"
	"treeCache/internal/store"
	"treeCache/internal/topology"
	"treeCache/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardPropagator struct{}

func (discardPropagator) Enqueue(coherence.Job) {}
func (discardPropagator) ReadThrough(context.Context, string) (string, bool) { return "", false }

func serveNode(t *testing.T, opts node.Options) *Client {
	t.Helper()
	svc, err := node.New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(apihttp.NewServer(apihttp.Config{Node: svc}).Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL, time.Second)
}

func rootClient(t *testing.T) *Client {
	return serveNode(t, node.Options{
		Role:     config.RoleRoot,
		Address:  "10.0.0.1",
		Store:    store.New(),
		Topology: topology.NewManager("10.0.0.1", nil),
	})
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := rootClient(t)

	require.NoError(t, c.Put(ctx, "greeting", "hello world & more"))

	v, ok, err := c.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello world & more", v)

	removed, err := c.Delete(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err = c.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err = c.Delete(ctx, "greeting")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, c.Put(ctx, "", "v"), ErrBadRequest)
}

func TestAssignParentAndTopology(t *testing.T) {
	ctx := context.Background()
	c := rootClient(t)

	parent, err := c.AssignParent(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", parent)

	_, err = c.AssignParent(ctx, "bad address")
	assert.ErrorIs(t, err, topology.ErrInvalidAddress)

	tree, err := c.Topology(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", tree.Address)
	require.Len(t, tree.Children, 1)

	require.NoError(t, c.Put(ctx, "a", "1"))
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, keys)
}

func TestLeafRejectsRootCalls(t *testing.T) {
	ctx := context.Background()
	c := serveNode(t, node.Options{
		Role:       config.RoleLeaf,
		Address:    "10.0.0.2",
		Parent:     "10.0.0.1",
		Store:      store.New(),
		Propagator: discardPropagator{},
	})

	_, err := c.AssignParent(ctx, "10.0.0.3")
	assert.ErrorIs(t, err, node.ErrNotRoot)
	_, err = c.Topology(ctx)
	assert.ErrorIs(t, err, node.ErrNotRoot)
}

func TestUnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := New(ts.URL, time.Second).Put(context.Background(), "k", "v")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, se.Error(), "maintenance")
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:5000", BaseURL("10.0.0.1"))
	assert.Equal(t, "http://node-a:8080", BaseURL("node-a:8080"))
	assert.Equal(t, "http://127.0.0.1:1234", BaseURL("http://127.0.0.1:1234/"))
	assert.Equal(t, "http://[::1]:5000", BaseURL("::1"))
}
