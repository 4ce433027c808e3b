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

package grpc

import (
	"context"
	"errors"
	"testing"

	"treeCache/pkg/config"
	"treeCache/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/treecache.Tree/Store"}

func ok(context.Context, interface{}) (interface{}, error) { return "ok", nil }

func TestRateLimiter(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	rl := NewRateLimiter(1, 2, zap.NewNop(), m).UnaryServerInterceptor()

	for i := 0; i < 2; i++ {
		_, err := rl(context.Background(), nil, info, ok)
		require.NoError(t, err)
	}
	_, err := rl(context.Background(), nil, info, ok)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues(info.FullMethod)))
}

func TestConnectionTracker(t *testing.T) {
	ct := NewConnectionTracker(1, zap.NewNop(), nil)
	require.NoError(t, ct.Track())
	assert.Equal(t, int64(1), ct.Count())

	err := ct.Track()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, int64(1), ct.Count())

	ct.Untrack()
	assert.Equal(t, int64(0), ct.Count())

	resp, err := ct.UnaryServerInterceptor()(context.Background(), nil, info, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, int64(0), ct.Count())
}

func TestPanicRecovery(t *testing.T) {
	pri := NewPanicRecoveryInterceptor(zap.NewNop()).UnaryServerInterceptor()

	_, err := pri(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("handler exploded")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	handlerErr := status.Error(codes.InvalidArgument, "bad key")
	_, err = pri(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, handlerErr
	})
	assert.True(t, errors.Is(err, handlerErr) || status.Code(err) == codes.InvalidArgument)
}

func TestBuildInterceptorChain(t *testing.T) {
	cfg := config.DefaultConfig(config.RoleRoot, "10.0.0.1")
	cfg.Server.GRPC.EnableRateLimit = true
	cfg.Server.GRPC.RateLimitQPS = 100
	cfg.Server.GRPC.RateLimitBurst = 100

	b := NewServerOptionsBuilder(cfg, zap.NewNop()).WithMetrics(metrics.New(prometheus.NewRegistry()))
	// metrics, panic recovery, slow log, connection tracking, rate limit
	assert.Len(t, b.buildUnaryInterceptors(), 5)

	cfg.Server.Tracing.Enable = true
	assert.Len(t, b.buildUnaryInterceptors(), 6)

	assert.NotEmpty(t, b.Build())
}
