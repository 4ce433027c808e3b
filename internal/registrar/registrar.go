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

// Package registrar records a node's position in the coordination namespace
// at startup.
//
// The root owns <base>/<root>. A leaf resolves its parent address, finds the
// namespace path ending in that address with a breadth-first sweep from
// <base>, and creates <parentPath>/<self> beneath it. The namespace mirrors
// the cache tree, so the path of a node spells out its ancestry.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"treeCache/internal/namespace"
	"treeCache/pkg/log"
	"treeCache/pkg/metrics"

	"go.uber.org/zap"
)

// ErrDiscoveryExhausted is returned when the parent never appeared in the
// namespace within the configured number of sweeps.
var ErrDiscoveryExhausted = errors.New("registrar: parent not found in coordination namespace")

// Config controls registration.
type Config struct {
	// BasePath is where the tree is rooted in the namespace.
	BasePath string
	// Self is this node's address; it becomes the last path segment.
	Self string
	// Ephemeral binds a leaf's entry to the namespace session.
	Ephemeral bool
	// SearchAttempts is the number of full breadth-first sweeps.
	SearchAttempts int
	// SearchBackoff is the pause between sweeps.
	SearchBackoff time.Duration
}

// Registration is the outcome of a successful registration.
type Registration struct {
	// Parent is empty for the root.
	Parent string
	Path   string
}

// Registrar registers one node.
type Registrar struct {
	ns      namespace.Namespace
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Registrar. m may be nil.
func New(ns namespace.Namespace, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Registrar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BasePath == "" {
		cfg.BasePath = namespace.Root
	}
	if err := namespace.Validate(cfg.BasePath); err != nil {
		return nil, err
	}
	if !namespace.ValidSegment(cfg.Self) {
		return nil, fmt.Errorf("registrar: %q cannot be used as a namespace segment", cfg.Self)
	}
	if cfg.SearchAttempts <= 0 {
		cfg.SearchAttempts = 1
	}
	return &Registrar{
		ns:      ns,
		cfg:     cfg,
		logger:  logger.With(log.Component("registrar"), log.Address(cfg.Self)),
		metrics: m,
	}, nil
}

// RegisterRoot creates <base>/<self> as a durable entry unless it exists.
func (r *Registrar) RegisterRoot(ctx context.Context) (Registration, error) {
	p := namespace.Join(r.cfg.BasePath, r.cfg.Self)

	err := r.ns.Create(ctx, p, nil, namespace.CreateOptions{MakePath: true})
	switch {
	case err == nil:
		r.logger.Info("registered root", log.Path(p))
	case errors.Is(err, namespace.ErrNodeExists):
		r.logger.Info("root already registered", log.Path(p))
	default:
		r.metrics.RecordRegistration("root", "error")
		return Registration{}, fmt.Errorf("registrar: register root: %w", err)
	}

	r.metrics.RecordRegistration("root", "ok")
	return Registration{Path: p}, nil
}

// RegisterLeaf resolves the parent, locates it in the namespace and creates
// this node's entry beneath it.
func (r *Registrar) RegisterLeaf(ctx context.Context, resolver ParentResolver) (Registration, error) {
	parent, err := resolver.ResolveParent(ctx, r.cfg.Self)
	if err != nil {
		r.metrics.RecordRegistration("leaf", "unresolved")
		return Registration{}, err
	}
	if parent == r.cfg.Self {
		r.metrics.RecordRegistration("leaf", "error")
		return Registration{}, fmt.Errorf("registrar: %s cannot be its own parent", parent)
	}

	parentPath, err := r.Discover(ctx, parent)
	if err != nil {
		r.metrics.RecordRegistration("leaf", "exhausted")
		return Registration{}, err
	}

	p := namespace.Join(parentPath, r.cfg.Self)
	err = r.ns.Create(ctx, p, nil, namespace.CreateOptions{Ephemeral: r.cfg.Ephemeral})
	switch {
	case err == nil:
		r.logger.Info("registered leaf",
			log.Parent(parent),
			log.Path(p),
			zap.Bool("ephemeral", r.cfg.Ephemeral))
	case errors.Is(err, namespace.ErrNodeExists):
		r.logger.Info("leaf already registered", log.Path(p))
	default:
		r.metrics.RecordRegistration("leaf", "error")
		return Registration{}, fmt.Errorf("registrar: register leaf: %w", err)
	}

	r.metrics.RecordRegistration("leaf", "ok")
	return Registration{Parent: parent, Path: p}, nil
}

// Discover sweeps the namespace for the path of address, retrying up to
// SearchAttempts times with SearchBackoff in between.
func (r *Registrar) Discover(ctx context.Context, address string) (string, error) {
	for attempt := 1; attempt <= r.cfg.SearchAttempts; attempt++ {
		r.metrics.RecordDiscoverySweep()

		p, found, err := r.Find(ctx, address)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Warn("namespace sweep failed",
				log.Attempt(attempt, r.cfg.SearchAttempts),
				zap.Error(err))
		}
		if found {
			r.logger.Debug("parent located",
				log.Parent(address),
				log.Path(p),
				log.Attempt(attempt, r.cfg.SearchAttempts))
			return p, nil
		}

		r.logger.Info("parent not yet registered",
			log.Parent(address),
			log.Attempt(attempt, r.cfg.SearchAttempts))

		if attempt < r.cfg.SearchAttempts {
			if err := sleep(ctx, r.cfg.SearchBackoff); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrDiscoveryExhausted, address, r.cfg.SearchAttempts)
}

// Find runs one breadth-first sweep from the base path and returns the first
// path whose last segment is address. Entries that vanish mid-sweep are
// skipped.
func (r *Registrar) Find(ctx context.Context, address string) (string, bool, error) {
	if _, _, err := r.ns.Get(ctx, r.cfg.BasePath); err != nil {
		if errors.Is(err, namespace.ErrNoNode) {
			return "", false, nil
		}
		return "", false, err
	}

	queue := []string{r.cfg.BasePath}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := r.ns.Children(ctx, cur)
		if err != nil {
			if errors.Is(err, namespace.ErrNoNode) {
				continue
			}
			return "", false, err
		}
		for _, name := range children {
			child := namespace.Join(cur, name)
			if name == address {
				return child, true, nil
			}
			queue = append(queue, child)
		}
	}
	return "", false, nil
}
