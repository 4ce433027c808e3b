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

package health

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCBridge publishes the aggregated report through the standard gRPC
// health service so peers and load balancers can check the RPC port.
type GRPCBridge struct {
	rep      *Reporter
	server   *grpchealth.Server
	services []string
	logger   *zap.Logger
}

// NewGRPCBridge creates a bridge reporting for the overall server ("") and
// each named service.
func NewGRPCBridge(rep *Reporter, services ...string) *GRPCBridge {
	return &GRPCBridge{
		rep:      rep,
		server:   grpchealth.NewServer(),
		services: append([]string{""}, services...),
		logger:   rep.logger,
	}
}

// Register attaches the health service to gs.
func (b *GRPCBridge) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, b.server)
}

// Sync copies the current report into the gRPC health service.
func (b *GRPCBridge) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if b.rep.Report(ctx).Status == StatusUnhealthy {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, svc := range b.services {
		b.server.SetServingStatus(svc, st)
	}
	return st
}

// Run syncs every interval until ctx is done, then marks everything as not
// serving.
func (b *GRPCBridge) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := b.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			b.server.Shutdown()
			return
		case <-ticker.C:
			if st := b.Sync(ctx); st != last {
				b.logger.Info("grpc serving status changed", zap.String("status", st.String()))
				last = st
			}
		}
	}
}

// Shutdown marks every service as not serving.
func (b *GRPCBridge) Shutdown() {
	b.server.Shutdown()
}
