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

package etcdns

import (
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"treeCache/internal/namespace"
	"treeCache/internal/namespace/namespacetest"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
)

func freeURL(t *testing.T) url.URL {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	u, err := url.Parse(fmt.Sprintf("http://%s", addr))
	require.NoError(t, err)
	return *u
}

// startEtcd runs a single member etcd in a temp dir for the test.
func startEtcd(t *testing.T) string {
	t.Helper()

	cfg := embed.NewConfig()
	cfg.Name = "treecache-test"
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"

	client, peer := freeURL(t), freeURL(t)
	cfg.ListenClientUrls = []url.URL{client}
	cfg.AdvertiseClientUrls = []url.URL{client}
	cfg.ListenPeerUrls = []url.URL{peer}
	cfg.AdvertisePeerUrls = []url.URL{peer}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(30 * time.Second):
		e.Server.Stop()
		t.Fatal("etcd took too long to start")
	}
	return client.Host
}

func TestEtcdNamespace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded etcd test in short mode")
	}

	endpoint := startEtcd(t)
	open := func(t *testing.T) (namespace.Namespace, namespace.Namespace) {
		cfg := Config{
			Endpoints:   []string{endpoint},
			DialTimeout: 5 * time.Second,
			SessionTTL:  5,
		}
		a, err := New(cfg, zap.NewNop())
		require.NoError(t, err)
		b, err := New(cfg, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = a.Close()
			_ = b.Close()
		})
		return a, b
	}

	namespacetest.Run(t, open)
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
