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

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Session is a lease kept alive in the background. Keys attached to the
// lease are deleted when the session ends.
type Session struct {
	client  *clientv3.Client
	leaseID clientv3.LeaseID
	ttl     int
	donec   chan struct{}
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewSession grants a lease and starts keeping it alive.
func NewSession(client *clientv3.Client, opts ...SessionOption) (*Session, error) {
	cfg := &sessionConfig{
		ttl: 60,
		ctx: client.Ctx(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be > 0, got %d", cfg.ttl)
	}

	grantCtx, grantCancel := context.WithTimeout(cfg.ctx, time.Duration(cfg.ttl)*time.Second)
	resp, err := client.Grant(grantCtx, int64(cfg.ttl))
	grantCancel()
	if err != nil {
		return nil, fmt.Errorf("failed to grant lease: %w", err)
	}
	id := resp.ID

	ctx, cancel := context.WithCancel(cfg.ctx)
	keepAlive, err := client.KeepAlive(ctx, id)
	if err != nil {
		cancel()
		_, _ = client.Revoke(context.Background(), id)
		return nil, fmt.Errorf("failed to keep lease alive: %w", err)
	}

	s := &Session{
		client:  client,
		leaseID: id,
		ttl:     cfg.ttl,
		donec:   make(chan struct{}),
		cancel:  cancel,
	}

	// the keep-alive channel closes when the lease expires or ctx ends
	go func() {
		defer close(s.donec)
		for range keepAlive {
		}
	}()

	return s, nil
}

// Lease returns the lease ID.
func (s *Session) Lease() clientv3.LeaseID {
	return s.leaseID
}

// Expired reports whether the session has ended.
func (s *Session) Expired() bool {
	select {
	case <-s.donec:
		return true
	default:
		return false
	}
}

// Close stops the keep-alive and revokes the lease.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.ttl)*time.Second)
		defer cancel()
		if _, err := s.client.Revoke(ctx, s.leaseID); err != nil {
			s.closeErr = fmt.Errorf("failed to revoke lease %x: %w", int64(s.leaseID), err)
		}
		<-s.donec
	})
	return s.closeErr
}

// SessionOption configures NewSession.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	ttl int
	ctx context.Context
}

// WithTTL sets the lease TTL in seconds.
func WithTTL(ttl int) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.ttl = ttl
	}
}

// WithContext sets the context the keep-alive runs under.
func WithContext(ctx context.Context) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.ctx = ctx
	}
}
