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

// Package node is the operation set a cache node serves. Both the HTTP API
// and the inter-node RPC server call into a Service; it owns role checks and
// input validation so the transports stay thin.
package node

import (
	"context"
	"errors"
	"fmt"

	"treeCache/internal/coherence"
	"treeCache/internal/store"
	"treeCache/internal/topology"
	"treeCache/pkg/config"
	"treeCache/pkg/log"
	"treeCache/pkg/metrics"
	"treeCache/pkg/reliability"

	"go.uber.org/zap"
)

var (
	// ErrNotRoot is returned when a root-only operation reaches a leaf.
	ErrNotRoot = errors.New("node: operation is only served by the root")

	// ErrInvalidArgument is returned for empty or oversized keys and values.
	ErrInvalidArgument = errors.New("node: invalid argument")
)

// Propagator forwards local mutations upstream and serves local misses.
// *coherence.Worker implements it.
type Propagator interface {
	Enqueue(job coherence.Job)
	ReadThrough(ctx context.Context, key string) (string, bool)
}

// Options configure a Service.
type Options struct {
	Role    config.Role
	Address string
	// Parent is the resolved parent address of a leaf.
	Parent string

	Store *store.Store
	// Topology is required on the root.
	Topology *topology.Manager
	// Propagator is required on a leaf.
	Propagator Propagator
	// Validator defaults to the standard key and value limits.
	Validator *reliability.DataValidator

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Service serves cache operations for one node.
type Service struct {
	role      config.Role
	address   string
	parent    string
	store     *store.Store
	topology  *topology.Manager
	prop      Propagator
	validator *reliability.DataValidator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("node: store is required")
	}
	switch opts.Role {
	case config.RoleRoot:
		if opts.Topology == nil {
			return nil, errors.New("node: root requires a topology manager")
		}
	case config.RoleLeaf:
		if opts.Propagator == nil {
			return nil, errors.New("node: leaf requires a propagator")
		}
		if opts.Parent == "" {
			return nil, errors.New("node: leaf requires a parent address")
		}
	default:
		return nil, fmt.Errorf("node: unknown role %q", opts.Role)
	}
	if opts.Validator == nil {
		opts.Validator = reliability.NewDataValidator(reliability.DefaultMaxKeySize, reliability.DefaultMaxValueSize)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		role:      opts.Role,
		address:   opts.Address,
		parent:    opts.Parent,
		store:     opts.Store,
		topology:  opts.Topology,
		prop:      opts.Propagator,
		validator: opts.Validator,
		logger:    opts.Logger.With(log.Component("node"), log.Role(string(opts.Role))),
		metrics:   opts.Metrics,
	}, nil
}

// Role returns the node's role.
func (s *Service) Role() config.Role { return s.role }

// Address returns the node's own address.
func (s *Service) Address() string { return s.address }

// Parent returns the parent address, empty on the root.
func (s *Service) Parent() string { return s.parent }

// IsRoot reports whether the node is the tree root.
func (s *Service) IsRoot() bool { return s.role == config.RoleRoot }

// Put stores value under key. On a leaf the write is also queued for the
// parent; the caller never waits for it.
func (s *Service) Put(_ context.Context, key, value string) error {
	if err := s.validator.ValidateKeyValue(key, value); err != nil {
		s.metrics.RecordCacheOperation("put", "invalid")
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s.store.Put(key, value)
	if !s.IsRoot() {
		s.prop.Enqueue(coherence.StoreJob(key, value))
	}

	s.metrics.RecordCacheOperation("put", "ok")
	s.metrics.SetCacheKeys(s.store.Len())
	s.logger.Debug("stored", log.KeyString(key), log.ValueString(value))
	return nil
}

// Get returns the value of key. A leaf that misses locally reads through to
// its parent; an unreachable parent counts as a miss.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.validator.ValidateKey(key); err != nil {
		s.metrics.RecordCacheOperation("get", "invalid")
		return "", false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if v, ok := s.store.Get(key); ok {
		s.metrics.RecordCacheOperation("get", "hit")
		return v, true, nil
	}
	s.metrics.RecordCacheOperation("get", "miss")
	if s.IsRoot() {
		return "", false, nil
	}

	v, ok := s.prop.ReadThrough(ctx, key)
	if ok {
		s.metrics.SetCacheKeys(s.store.Len())
	}
	return v, ok, nil
}

// Remove deletes key locally and reports whether it was present. On a leaf
// the delete is queued for the parent either way, since the parent may hold
// a key this node never cached.
func (s *Service) Remove(_ context.Context, key string) (bool, error) {
	if err := s.validator.ValidateKey(key); err != nil {
		s.metrics.RecordCacheOperation("remove", "invalid")
		return false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	removed := s.store.Remove(key)
	if !s.IsRoot() {
		s.prop.Enqueue(coherence.RemoveJob(key))
	}

	if removed {
		s.metrics.RecordCacheOperation("remove", "ok")
	} else {
		s.metrics.RecordCacheOperation("remove", "miss")
	}
	s.metrics.SetCacheKeys(s.store.Len())
	return removed, nil
}

// AssignParent places candidate in the tree. Only the root serves it.
func (s *Service) AssignParent(_ context.Context, candidate string) (string, error) {
	if !s.IsRoot() {
		return "", ErrNotRoot
	}

	before := s.topology.Size()
	parent, err := s.topology.AssignParent(candidate)
	switch {
	case errors.Is(err, topology.ErrInvalidAddress):
		s.metrics.RecordAssignment("invalid", s.topology.Size(), s.topology.Depth())
		return "", err
	case errors.Is(err, topology.ErrInvariantViolation):
		s.metrics.RecordAssignment("invariant", s.topology.Size(), s.topology.Depth())
		s.logger.Error("topology invariant violated", zap.String("candidate", candidate), zap.Error(err))
		return "", err
	case err != nil:
		return "", err
	}

	result := "placed"
	if s.topology.Size() == before {
		result = "rejoined"
	}
	s.metrics.RecordAssignment(result, s.topology.Size(), s.topology.Depth())
	return parent, nil
}

// Topology returns a snapshot of the tree. Only the root serves it.
func (s *Service) Topology() (topology.Tree, error) {
	if !s.IsRoot() {
		return topology.Tree{}, ErrNotRoot
	}
	return s.topology.Snapshot(), nil
}

// Keys returns the locally cached pairs in key order.
func (s *Service) Keys() []store.KV {
	return s.store.Snapshot()
}
