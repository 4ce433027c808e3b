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

// Package etcdns implements the coordination namespace on etcd v3.
//
// Every namespace path is stored as an etcd key of the same name. The
// hierarchy is implied by the '/' separator: the children of a path are the
// distinct next segments of all keys under "path/". Ephemeral entries are
// attached to a lease owned by the session and vanish when it is revoked or
// expires.
package etcdns

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"
	"time"

	"treeCache/internal/namespace"
	"treeCache/pkg/concurrency"
	"treeCache/pkg/log"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Config etcd connection settings
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	// SessionTTL is the lease TTL in seconds backing ephemeral entries.
	SessionTTL int
	TLS        *transport.TLSInfo
}

// Namespace is a namespace.Namespace session on etcd.
type Namespace struct {
	client     *clientv3.Client
	ownsClient bool
	ttl        int
	logger     *zap.Logger

	mu      sync.Mutex
	session *concurrency.Session
	closed  bool
}

var _ namespace.Namespace = (*Namespace)(nil)

// New dials etcd and returns a session on it.
func New(cfg Config, logger *zap.Logger) (*Namespace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcdns: no endpoints")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	var tlsCfg *tls.Config
	if cfg.TLS != nil && !cfg.TLS.Empty() {
		c, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("etcdns: failed to load TLS config: %w", err)
		}
		tlsCfg = c
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		TLS:         tlsCfg,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, fmt.Errorf("etcdns: failed to connect: %w", err)
	}

	ns := NewWithClient(client, cfg.SessionTTL, logger)
	ns.ownsClient = true
	return ns, nil
}

// NewWithClient wraps an existing client. The client is not closed by Close.
func NewWithClient(client *clientv3.Client, sessionTTL int, logger *zap.Logger) *Namespace {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionTTL <= 0 {
		sessionTTL = 10
	}
	return &Namespace{
		client: client,
		ttl:    sessionTTL,
		logger: logger.With(log.Component("etcd-namespace")),
	}
}

// lease returns the session lease, granting it on first use.
func (n *Namespace) lease(ctx context.Context) (clientv3.LeaseID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return 0, namespace.ErrClosed
	}
	if n.session != nil && !n.session.Expired() {
		return n.session.Lease(), nil
	}

	s, err := concurrency.NewSession(n.client, concurrency.WithTTL(n.ttl), concurrency.WithContext(n.client.Ctx()))
	if err != nil {
		return 0, err
	}
	if n.session != nil {
		n.logger.Warn("session expired, granted a new lease", zap.Int64("lease", int64(s.Lease())))
	}
	n.session = s
	return s.Lease(), nil
}

func (n *Namespace) check(p string) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return namespace.ErrClosed
	}
	return namespace.Validate(p)
}

// Exists implements namespace.Namespace.
func (n *Namespace) Exists(ctx context.Context, p string) (bool, error) {
	if err := n.check(p); err != nil {
		return false, err
	}
	if p == namespace.Root {
		return true, nil
	}
	resp, err := n.client.Get(ctx, p, clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}

// Create implements namespace.Namespace. Creation is a transaction guarded
// by the key's create revision, so two sessions racing on one path cannot
// both succeed.
func (n *Namespace) Create(ctx context.Context, p string, data []byte, opts namespace.CreateOptions) error {
	if err := n.check(p); err != nil {
		return err
	}
	if p == namespace.Root {
		return fmt.Errorf("%w: %s", namespace.ErrNodeExists, p)
	}

	if opts.MakePath {
		for _, a := range namespace.Ancestors(p) {
			if _, err := n.putIfAbsent(ctx, a, nil); err != nil {
				return err
			}
		}
	}

	var putOpts []clientv3.OpOption
	if opts.Ephemeral {
		id, err := n.lease(ctx)
		if err != nil {
			return err
		}
		putOpts = append(putOpts, clientv3.WithLease(id))
	}

	cmps := []clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(p), "=", 0)}
	parent := namespace.Dir(p)
	if parent != namespace.Root {
		cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(parent), ">", 0))
	}

	resp, err := n.client.Txn(ctx).
		If(cmps...).
		Then(clientv3.OpPut(p, string(data), putOpts...)).
		Commit()
	if err != nil {
		return err
	}
	if resp.Succeeded {
		return nil
	}

	exists, err := n.Exists(ctx, p)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", namespace.ErrNodeExists, p)
	}
	return fmt.Errorf("%w: parent of %s", namespace.ErrNoNode, p)
}

// putIfAbsent creates a durable key unless it already exists.
func (n *Namespace) putIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	resp, err := n.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// Get implements namespace.Namespace.
func (n *Namespace) Get(ctx context.Context, p string) ([]byte, namespace.Stat, error) {
	if err := n.check(p); err != nil {
		return nil, namespace.Stat{}, err
	}

	children, err := n.children(ctx, p)
	if err != nil {
		return nil, namespace.Stat{}, err
	}
	if p == namespace.Root {
		return nil, namespace.Stat{NumChildren: len(children)}, nil
	}

	resp, err := n.client.Get(ctx, p)
	if err != nil {
		return nil, namespace.Stat{}, err
	}
	if len(resp.Kvs) == 0 {
		return nil, namespace.Stat{}, fmt.Errorf("%w: %s", namespace.ErrNoNode, p)
	}

	kv := resp.Kvs[0]
	stat := statOf(kv)
	stat.NumChildren = len(children)
	return kv.Value, stat, nil
}

func statOf(kv *mvccpb.KeyValue) namespace.Stat {
	return namespace.Stat{
		Ephemeral:      kv.Lease != 0,
		CreateRevision: kv.CreateRevision,
	}
}

// Children implements namespace.Namespace.
func (n *Namespace) Children(ctx context.Context, p string) ([]string, error) {
	if err := n.check(p); err != nil {
		return nil, err
	}
	if p != namespace.Root {
		ok, err := n.Exists(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", namespace.ErrNoNode, p)
		}
	}
	return n.children(ctx, p)
}

func (n *Namespace) children(ctx context.Context, p string) ([]string, error) {
	resp, err := n.client.Get(ctx, namespace.ChildPrefix(p), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, kv := range resp.Kvs {
		if name, ok := namespace.ChildName(p, string(kv.Key)); ok {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks that etcd answers and that the session lease, if any, is alive.
func (n *Namespace) Ping(ctx context.Context) error {
	n.mu.Lock()
	closed, s := n.closed, n.session
	n.mu.Unlock()

	if closed {
		return namespace.ErrClosed
	}
	if s != nil && s.Expired() {
		return fmt.Errorf("etcdns: session lease %x expired", int64(s.Lease()))
	}
	_, err := n.client.Get(ctx, namespace.Root, clientv3.WithCountOnly())
	return err
}

// Close implements namespace.Namespace. The session lease is revoked, which
// deletes every ephemeral entry created through this session.
func (n *Namespace) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	s := n.session
	n.mu.Unlock()

	var err error
	if s != nil {
		err = s.Close()
	}
	if n.ownsClient {
		if cerr := n.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
