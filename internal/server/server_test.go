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

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"treeCache/internal/namespace"
	"treeCache/pkg/config"
	"treeCache/pkg/health"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testCluster runs every node in-process on one shared namespace.
type testCluster struct {
	t  *testing.T
	ns *namespace.MemoryStore
}

func newTestCluster(t *testing.T) *testCluster {
	return &testCluster{t: t, ns: namespace.NewMemoryStore()}
}

func newTestConfig(role config.Role, addr string) *config.Config {
	cfg := config.DefaultConfig(role, addr)
	cfg.Server.GRPCAddress = addr
	cfg.Server.Monitoring.EnablePrometheus = false
	cfg.Server.Propagation.PollInterval = 20 * time.Millisecond
	cfg.Server.Propagation.CallTimeout = time.Second
	cfg.Server.Propagation.ReadTimeout = time.Second
	cfg.Server.Discovery.SearchAttempts = 3
	cfg.Server.Discovery.SearchBackoff = 20 * time.Millisecond
	cfg.Server.Discovery.AssignBackoff = 20 * time.Millisecond
	cfg.Server.Reliability.ShutdownTimeout = 5 * time.Second
	return cfg
}

// start launches a node whose address is its own gRPC listener address.
// A non-empty root makes it a leaf that asks root for a parent.
func (c *testCluster) start(root string) *Server {
	c.t.Helper()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(c.t, err)
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(c.t, err)

	addr := grpcLis.Addr().String()
	cfg := newTestConfig(config.RoleRoot, addr)
	if root != "" {
		cfg.Server.Role = config.RoleLeaf
		cfg.Server.RootAddress = root
		cfg.Server.Discovery.Mode = config.DiscoveryAssign
	}

	s, err := NewServer(context.Background(), ServerConfig{
		Config:       cfg,
		Logger:       zap.NewNop(),
		Namespace:    c.ns.Session(),
		GRPCListener: grpcLis,
		HTTPListener: httpLis,
	})
	require.NoError(c.t, err)
	s.Start(context.Background())
	c.t.Cleanup(s.Stop)
	return s
}

func httpDo(t *testing.T, method, url string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTreeFormsInLevelOrder(t *testing.T) {
	c := newTestCluster(t)
	root := c.start("")
	rootAddr := root.GRPCAddress()

	a := c.start(rootAddr)
	b := c.start(rootAddr)
	d := c.start(rootAddr)

	assert.Equal(t, rootAddr, a.Node().Parent())
	assert.Equal(t, rootAddr, b.Node().Parent())
	assert.Equal(t, a.GRPCAddress(), d.Node().Parent(), "third leaf goes under the first child")

	base := "/treecache"
	assert.Equal(t, base+"/"+rootAddr, root.Registration().Path)
	assert.Equal(t, base+"/"+rootAddr+"/"+a.GRPCAddress()+"/"+d.GRPCAddress(), d.Registration().Path)

	tree, err := root.Node().Topology()
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	require.Len(t, tree.Children[0].Children, 1)
}

func TestWritesPropagateAndReadsThrough(t *testing.T) {
	c := newTestCluster(t)
	root := c.start("")
	a := c.start(root.GRPCAddress())
	b := c.start(root.GRPCAddress())
	deep := c.start(root.GRPCAddress())
	require.Equal(t, a.GRPCAddress(), deep.Node().Parent())

	code, body := httpDo(t, http.MethodPut, "http://"+deep.HTTPAddress()+"/store/?key=k&value=v")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "200", body)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		v, ok, _ := root.Node().Get(ctx, "k")
		return ok && v == "v"
	}, 3*time.Second, 20*time.Millisecond, "write travels leaf -> mid -> root")

	// b never saw the write; it reads through to the root and keeps a copy
	code, body = httpDo(t, http.MethodGet, "http://"+b.HTTPAddress()+"/receive/?key=k")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v", body)
	assert.Len(t, b.Node().Keys(), 1)

	code, _ = httpDo(t, http.MethodDelete, "http://"+deep.HTTPAddress()+"/remove/?key=k")
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		_, ok, _ := root.Node().Get(ctx, "k")
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGetParentOnlyOnRoot(t *testing.T) {
	c := newTestCluster(t)
	root := c.start("")
	leaf := c.start(root.GRPCAddress())
	require.Equal(t, root.GRPCAddress(), leaf.Node().Parent())

	code, body := httpDo(t, http.MethodGet, "http://"+root.HTTPAddress()+"/getParent/?nodeName=10.1.1.1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, root.GRPCAddress(), body, "root still has a free slot")

	code, _ = httpDo(t, http.MethodGet, "http://"+leaf.HTTPAddress()+"/getParent/?nodeName=10.1.1.2")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestLeafEntryVanishesOnStop(t *testing.T) {
	c := newTestCluster(t)
	root := c.start("")
	leaf := c.start(root.GRPCAddress())

	observer := c.ns.Session()
	defer observer.Close()
	ctx := context.Background()

	p := leaf.Registration().Path
	exists, err := observer.Exists(ctx, p)
	require.NoError(t, err)
	require.True(t, exists)

	leaf.Stop()
	exists, err = observer.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, exists)

	// the root entry is durable
	exists, err = observer.Exists(ctx, root.Registration().Path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestCluster(t)
	root := c.start("")

	leaf := c.start(root.GRPCAddress())

	code, body := httpDo(t, http.MethodGet, "http://"+leaf.HTTPAddress()+"/health")
	assert.Equal(t, http.StatusOK, code)
	var rep health.Report
	require.NoError(t, json.Unmarshal([]byte(body), &rep))
	assert.Equal(t, health.StatusHealthy, rep.Status)
	assert.Equal(t, "leaf", rep.Role)
	assert.Equal(t, leaf.GRPCAddress(), rep.Address)
	assert.Equal(t, root.GRPCAddress(), rep.Parent)

	code, body = httpDo(t, http.MethodGet, "http://"+root.HTTPAddress()+"/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Alive\n", body)
}

func TestLeafFailsWhenRootUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := lis.Addr().String()
	require.NoError(t, lis.Close())

	cfg := newTestConfig(config.RoleLeaf, "127.0.0.1:0")
	cfg.Server.RootAddress = dead
	cfg.Server.Discovery.AssignAttempts = 2
	cfg.Server.HTTPAddress = "127.0.0.1:0"

	_, err = NewServer(context.Background(), ServerConfig{
		Config:    cfg,
		Logger:    zap.NewNop(),
		Namespace: namespace.NewMemoryStore().Session(),
	})
	assert.Error(t, err)
}

func TestStaticParentWithoutCoordination(t *testing.T) {
	c := newTestCluster(t)
	root := c.start("")

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := newTestConfig(config.RoleLeaf, grpcLis.Addr().String())
	cfg.Server.Discovery.Mode = config.DiscoveryStatic
	cfg.Server.ParentAddress = root.GRPCAddress()
	cfg.Server.Coordination.Backend = config.BackendNone

	leaf, err := NewServer(context.Background(), ServerConfig{
		Config:       cfg,
		Logger:       zap.NewNop(),
		GRPCListener: grpcLis,
		HTTPListener: httpLis,
	})
	require.NoError(t, err)
	leaf.Start(context.Background())
	defer leaf.Stop()

	assert.Equal(t, root.GRPCAddress(), leaf.Node().Parent())
	assert.Empty(t, leaf.Registration().Path)

	require.NoError(t, leaf.Node().Put(context.Background(), "s", "1"))
	require.Eventually(t, func() bool {
		_, ok, _ := root.Node().Get(context.Background(), "s")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPortOf(t *testing.T) {
	assert.Equal(t, "5001", portOf(":5001"))
	assert.Equal(t, "7000", portOf("0.0.0.0:7000"))
	assert.Equal(t, "5001", portOf("127.0.0.1:0"))
	assert.Equal(t, "5001", portOf("garbage"))
}
