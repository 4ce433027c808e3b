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
	"fmt"
	"sync/atomic"
	"time"

	"treeCache/pkg/log"
	"treeCache/pkg/metrics"
	"treeCache/pkg/reliability"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// ConnectionTracker limits the number of concurrently served calls.
type ConnectionTracker struct {
	maxConnections int64
	activeConns    atomic.Int64
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// NewConnectionTracker creates a connection tracker
// maxConnections: calls beyond this many in flight are rejected
func NewConnectionTracker(maxConnections int, logger *zap.Logger, m *metrics.Metrics) *ConnectionTracker {
	return &ConnectionTracker{
		maxConnections: int64(maxConnections),
		logger:         logger,
		metrics:        m,
	}
}

// Track admits a call, or returns ResourceExhausted past the limit.
func (ct *ConnectionTracker) Track() error {
	current := ct.activeConns.Add(1)
	if current > ct.maxConnections {
		ct.activeConns.Add(-1)
		ct.metrics.RecordConnectionRejected("limit_exceeded")
		ct.logger.Warn("connection limit reached",
			zap.Int64("current", current-1),
			zap.Int64("max", ct.maxConnections))
		return status.Errorf(codes.ResourceExhausted,
			"connection limit reached: %d/%d", current-1, ct.maxConnections)
	}
	if ct.metrics != nil {
		ct.metrics.ActiveConnections.Inc()
		ct.metrics.TotalConnections.Inc()
	}
	return nil
}

// Untrack releases a call admitted by Track.
func (ct *ConnectionTracker) Untrack() {
	ct.activeConns.Add(-1)
	if ct.metrics != nil {
		ct.metrics.ActiveConnections.Dec()
	}
}

// Count returns the number of calls in flight.
func (ct *ConnectionTracker) Count() int64 {
	return ct.activeConns.Load()
}

// UnaryServerInterceptor returns a unary RPC connection tracking interceptor
func (ct *ConnectionTracker) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := ct.Track(); err != nil {
			return nil, err
		}
		defer ct.Untrack()

		return handler(ctx, req)
	}
}

// RateLimiter is a global token bucket over all tree service calls.
type RateLimiter struct {
	globalLimiter *rate.Limiter
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewRateLimiter creates a rate limiter
// qps: average calls per second, burst: token bucket size
func NewRateLimiter(qps int, burst int, logger *zap.Logger, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(qps), burst),
		logger:        logger,
		metrics:       m,
	}
}

// UnaryServerInterceptor returns a unary RPC rate limiting interceptor
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !rl.globalLimiter.Allow() {
			rl.metrics.RecordRateLimitHit(info.FullMethod)
			rl.logger.Warn("rate limit exceeded",
				log.Method(info.FullMethod),
				log.RemoteAddr(extractClientInfo(ctx)))
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for method: %s", info.FullMethod)
		}

		return handler(ctx, req)
	}
}

// LoggingInterceptor logs calls slower than a threshold
type LoggingInterceptor struct {
	slowThreshold time.Duration
	logger        *zap.Logger
}

// NewLoggingInterceptor creates a slow request logging interceptor
func NewLoggingInterceptor(slowThreshold time.Duration, logger *zap.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{
		slowThreshold: slowThreshold,
		logger:        logger,
	}
}

// UnaryServerInterceptor returns a unary RPC logging interceptor
func (li *LoggingInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if duration > li.slowThreshold {
			fields := []zap.Field{
				log.Method(info.FullMethod),
				zap.Duration("duration", duration),
				log.RemoteAddr(extractClientInfo(ctx)),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			li.logger.Warn("slow request detected", fields...)
		}

		return resp, err
	}
}

// PanicRecoveryInterceptor turns a handler panic into an Internal status
type PanicRecoveryInterceptor struct {
	logger *zap.Logger
}

// NewPanicRecoveryInterceptor creates a panic recovery interceptor
func NewPanicRecoveryInterceptor(logger *zap.Logger) *PanicRecoveryInterceptor {
	return &PanicRecoveryInterceptor{
		logger: logger,
	}
}

// UnaryServerInterceptor returns a unary RPC panic recovery interceptor
func (pri *PanicRecoveryInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var (
			resp     interface{}
			err      error
			panicErr error
		)
		func() {
			defer reliability.RecoverPanicErr("grpc "+info.FullMethod, &panicErr)
			resp, err = handler(ctx, req)
		}()

		if panicErr != nil {
			pri.logger.Error("panic recovered in unary RPC",
				log.Method(info.FullMethod),
				log.RemoteAddr(extractClientInfo(ctx)),
				zap.Error(panicErr))
			return nil, status.Errorf(codes.Internal, "internal server error")
		}
		return resp, err
	}
}

// extractClientInfo returns the peer address or user agent of the caller
func extractClientInfo(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if userAgent := md.Get("user-agent"); len(userAgent) > 0 {
			return fmt.Sprintf("user-agent:%s", userAgent[0])
		}
	}

	return "unknown"
}
