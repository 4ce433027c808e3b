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

// Package grpc builds the gRPC server that carries the inter-node tree
// service.
package grpc

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"treeCache/pkg/config"
	"treeCache/pkg/metrics"
	"treeCache/pkg/tracing"
)

// ServerOptionsBuilder builds gRPC server options from configuration
type ServerOptionsBuilder struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewServerOptionsBuilder creates a server options builder
func NewServerOptionsBuilder(cfg *config.Config, logger *zap.Logger) *ServerOptionsBuilder {
	return &ServerOptionsBuilder{
		cfg:    cfg,
		logger: logger,
	}
}

// WithMetrics sets the metrics collector for the builder
func (b *ServerOptionsBuilder) WithMetrics(m *metrics.Metrics) *ServerOptionsBuilder {
	b.metrics = m
	return b
}

// Build builds gRPC server options
func (b *ServerOptionsBuilder) Build() []grpc.ServerOption {
	g := b.cfg.Server.GRPC
	opts := []grpc.ServerOption{
		// 1. Message size limits
		grpc.MaxRecvMsgSize(g.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(g.MaxSendMsgSize),

		// 2. Concurrent stream limits
		grpc.MaxConcurrentStreams(g.MaxConcurrentStreams),

		// 3. Keepalive parameters
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:                  g.KeepaliveTime,
			Timeout:               g.KeepaliveTimeout,
			MaxConnectionIdle:     g.MaxConnectionIdle,
			MaxConnectionAge:      g.MaxConnectionAge,
			MaxConnectionAgeGrace: g.MaxConnectionAgeGrace,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             g.KeepaliveTime,
			PermitWithoutStream: true,
		}),
	}

	if interceptors := b.buildUnaryInterceptors(); len(interceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(interceptors...))
	}

	return opts
}

// buildUnaryInterceptors builds the unary interceptor chain
// Order: Metrics -> Tracing -> Panic Recovery -> Logging -> Connection Tracking -> Rate Limiting -> Handler
func (b *ServerOptionsBuilder) buildUnaryInterceptors() []grpc.UnaryServerInterceptor {
	var interceptors []grpc.UnaryServerInterceptor
	s := b.cfg.Server

	// 1. Metrics (first, to measure everything including panic recovery overhead)
	if s.Monitoring.EnablePrometheus && b.metrics != nil {
		interceptors = append(interceptors, b.metrics.UnaryServerInterceptor())
	}

	// 2. Tracing
	if s.Tracing.Enable {
		interceptors = append(interceptors, tracing.UnaryServerInterceptor())
	}

	// 3. Panic Recovery
	if s.Reliability.EnablePanicRecovery {
		interceptors = append(interceptors, NewPanicRecoveryInterceptor(b.logger).UnaryServerInterceptor())
	}

	// 4. Slow request logging
	if s.Monitoring.SlowRequestThreshold > 0 {
		interceptors = append(interceptors, NewLoggingInterceptor(s.Monitoring.SlowRequestThreshold, b.logger).UnaryServerInterceptor())
	}

	// 5. Connection tracking
	if s.Limits.MaxConnections > 0 {
		interceptors = append(interceptors, NewConnectionTracker(s.Limits.MaxConnections, b.logger, b.metrics).UnaryServerInterceptor())
	}

	// 6. Rate limiting (close to the handler, quickly rejects excessive requests)
	if s.GRPC.EnableRateLimit && s.GRPC.RateLimitQPS > 0 && s.GRPC.RateLimitBurst > 0 {
		rl := NewRateLimiter(s.GRPC.RateLimitQPS, s.GRPC.RateLimitBurst, b.logger, b.metrics)
		interceptors = append(interceptors, rl.UnaryServerInterceptor())
	}

	return interceptors
}

// BuildServer builds a complete gRPC server
func BuildServer(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *grpc.Server {
	opts := NewServerOptionsBuilder(cfg, logger).WithMetrics(m).Build()

	g := cfg.Server.GRPC
	logger.Info("creating gRPC server",
		zap.String("addr", cfg.Server.GRPCAddress),
		zap.Int("max_recv_msg_size", g.MaxRecvMsgSize),
		zap.Uint32("max_concurrent_streams", g.MaxConcurrentStreams),
		zap.Duration("keepalive_time", g.KeepaliveTime),
		zap.Bool("enable_rate_limit", g.EnableRateLimit),
		zap.Int("max_connections", cfg.Server.Limits.MaxConnections),
		zap.Bool("enable_panic_recovery", cfg.Server.Reliability.EnablePanicRecovery),
		zap.Duration("slow_request_threshold", cfg.Server.Monitoring.SlowRequestThreshold))

	return grpc.NewServer(opts...)
}
