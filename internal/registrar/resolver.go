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

package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"treeCache/internal/topology"
	"treeCache/pkg/log"

	"go.uber.org/zap"
)

// ParentResolver yields the address a leaf attaches under.
type ParentResolver interface {
	ResolveParent(ctx context.Context, self string) (string, error)
}

// StaticResolver returns a parent address fixed by configuration.
type StaticResolver struct {
	Parent string
}

// ResolveParent implements ParentResolver.
func (s StaticResolver) ResolveParent(context.Context, string) (string, error) {
	if s.Parent == "" {
		return "", errors.New("registrar: no static parent configured")
	}
	return s.Parent, nil
}

// Assigner asks the root for a parent. rpc.Client satisfies it.
type Assigner interface {
	AssignParent(ctx context.Context, address string) (string, error)
}

// AssignmentResolver asks the root's topology manager for a parent,
// retrying up to Attempts times.
type AssignmentResolver struct {
	Assigner Assigner
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

// ResolveParent implements ParentResolver. An invalid address is never
// retried since the root would reject it every time.
func (a *AssignmentResolver) ResolveParent(ctx context.Context, self string) (string, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := a.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		parent, err := a.Assigner.AssignParent(ctx, self)
		if err == nil {
			logger.Info("parent assigned by root",
				log.Parent(parent),
				log.Attempt(i, attempts))
			return parent, nil
		}
		lastErr = err
		logger.Warn("parent assignment failed",
			log.Attempt(i, attempts),
			zap.Error(err))

		if errors.Is(err, topology.ErrInvalidAddress) {
			break
		}
		if i < attempts {
			if err := sleep(ctx, a.Backoff); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("registrar: root did not assign a parent: %w", lastErr)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
