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

// Package server assembles a cache node: the coordination session, parent
// discovery, the propagation worker, the node service and its listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	apihttp "treeCache/api/http"
	"treeCache/internal/coherence"
	"treeCache/internal/namespace"
	"treeCache/internal/namespace/etcdns"
	"treeCache/internal/node"
	"treeCache/internal/registrar"
	"treeCache/internal/rpc"
	"treeCache/internal/store"
	"treeCache/internal/topology"
	"treeCache/pkg/config"
	grpcpkg "treeCache/pkg/grpc"
	"treeCache/pkg/health"
	"treeCache/pkg/log"
	"treeCache/pkg/metrics"
	"treeCache/pkg/reliability"
	"treeCache/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"go.etcd.io/etcd/client/pkg/v3/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	defaultGRPCPort = "5001"
	// health degrades when the propagation backlog grows past this
	maxPropagationBacklog = 10000
	healthSyncInterval    = 5 * time.Second
)

// Server is one running cache node.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry        *prometheus.Registry
	metrics         *metrics.Metrics
	tracingShutdown tracing.ShutdownFunc

	store        *store.Store
	topology     *topology.Manager  // root only
	worker       *coherence.Worker  // leaf only
	parent       *rpc.Client        // leaf only
	root         *rpc.Client        // leaf with discovery.mode=assign
	ns           namespace.Namespace // nil with backend=none
	registration registrar.Registration
	node         *node.Service

	grpcSrv    *grpc.Server
	grpcLis    net.Listener
	httpSrv    *apihttp.Server
	httpLis    net.Listener
	metricsSrv *metrics.MetricsServer

	healthSrv *health.Reporter
	bridge    *health.GRPCBridge

	shutdownMgr *reliability.GracefulShutdown
	cancel      context.CancelFunc
}

// ServerConfig configures NewServer.
type ServerConfig struct {
	Config *config.Config // required

	Logger   *zap.Logger          // defaults to the global logger
	Registry *prometheus.Registry // defaults to a new registry

	// Namespace overrides coordination.backend. Sessions of one shared
	// MemoryStore let several nodes form a tree in one process.
	Namespace namespace.Namespace

	// Listeners are opened from the config addresses when unset.
	GRPCListener net.Listener
	HTTPListener net.Listener
}

// NewServer builds the node in startup order: metrics, tracing, coordination
// session, parent resolution and registration (leaf), worker, node service,
// listeners. A failed registration, including exhausted discovery, is
// returned as an error.
func NewServer(ctx context.Context, sc ServerConfig) (*Server, error) {
	if sc.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := sc.Config
	sv := &cfg.Server

	logger := sc.Logger
	if logger == nil {
		logger = log.GetLogger().Zap()
	}
	registry := sc.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		metrics:     metrics.New(registry),
		store:       store.New(),
		shutdownMgr: reliability.NewGracefulShutdown(sv.Reliability.ShutdownTimeout),
	}
	s.registerShutdownHooks()

	// release whatever was built if a later step fails
	ok := false
	defer func() {
		if !ok {
			s.shutdownMgr.Shutdown()
		}
	}()

	tracingShutdown, err := tracing.Init(sv.Tracing, sv.NodeAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.tracingShutdown = tracingShutdown

	ns, local, err := s.openNamespace(sc.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to open coordination session: %w", err)
	}
	s.ns = ns

	var parent string
	if cfg.IsRoot() {
		s.topology = topology.NewManager(sv.NodeAddress, logger)
		if err := s.registerRoot(ctx); err != nil {
			return nil, err
		}
	} else {
		if parent, err = s.registerLeaf(ctx, local); err != nil {
			return nil, err
		}
		s.parent, err = rpc.Dial(rpc.Target(parent, portOf(sv.GRPCAddress)), sv.Propagation.CallTimeout)
		if err != nil {
			return nil, err
		}
		s.worker = coherence.New(coherence.Config{
			PollInterval: sv.Propagation.PollInterval,
			CallTimeout:  sv.Propagation.CallTimeout,
			ReadTimeout:  sv.Propagation.ReadTimeout,
			FillOnRead:   sv.Propagation.ShouldFillOnRead(),
		}, s.parent, s.store, rpc.Classify, logger, s.metrics)
	}

	opts := node.Options{
		Role:      sv.Role,
		Address:   sv.NodeAddress,
		Parent:    parent,
		Store:     s.store,
		Topology:  s.topology,
		Validator: reliability.NewDataValidator(sv.Limits.MaxKeySize, sv.Limits.MaxValueSize),
		Logger:    logger,
		Metrics:   s.metrics,
	}
	if s.worker != nil {
		opts.Propagator = s.worker
	}
	if s.node, err = node.New(opts); err != nil {
		return nil, err
	}

	s.setupHealth()

	s.grpcSrv = grpcpkg.BuildServer(cfg, logger, s.metrics)
	rpc.NewServer(s.node, logger).Register(s.grpcSrv)
	s.bridge.Register(s.grpcSrv)

	if s.grpcLis, err = listen(sc.GRPCListener, sv.GRPCAddress); err != nil {
		return nil, err
	}
	if s.httpLis, err = listen(sc.HTTPListener, sv.HTTPAddress); err != nil {
		return nil, err
	}
	s.httpSrv = apihttp.NewServer(apihttp.Config{
		Node:    s.node,
		Health:  s.healthSrv,
		Metrics: s.metrics,
		Tracing: sv.Tracing.Enable,
		Logger:  logger,
	})

	if sv.Monitoring.EnablePrometheus {
		s.metricsSrv = metrics.NewMetricsServer(fmt.Sprintf(":%d", sv.Monitoring.PrometheusPort), registry, logger)
	}

	ok = true
	return s, nil
}

// openNamespace opens the coordination session. local reports whether the
// namespace is only visible inside this process.
func (s *Server) openNamespace(injected namespace.Namespace) (namespace.Namespace, bool, error) {
	if injected != nil {
		return injected, false, nil
	}

	c := s.cfg.Server.Coordination
	switch c.Backend {
	case config.BackendNone:
		s.logger.Info("coordination service disabled", log.Component("server"))
		return nil, false, nil
	case config.BackendMemory:
		return namespace.NewMemoryStore().Session(), true, nil
	case config.BackendEtcd:
		ecfg := etcdns.Config{
			Endpoints:   c.Endpoints,
			DialTimeout: c.DialTimeout,
			SessionTTL:  c.SessionTTL,
		}
		if c.TLS.Enabled() {
			ecfg.TLS = &transport.TLSInfo{
				CertFile:      c.TLS.CertFile,
				KeyFile:       c.TLS.KeyFile,
				TrustedCAFile: c.TLS.TrustedCAFile,
			}
		}
		ns, err := etcdns.New(ecfg, s.logger)
		if err != nil {
			return nil, false, err
		}
		return ns, false, nil
	default:
		return nil, false, fmt.Errorf("unknown coordination backend %q", c.Backend)
	}
}

func (s *Server) newRegistrar() (*registrar.Registrar, error) {
	sv := &s.cfg.Server
	return registrar.New(s.ns, registrar.Config{
		BasePath:       sv.Coordination.BasePath,
		Self:           sv.NodeAddress,
		Ephemeral:      sv.Coordination.IsEphemeral(),
		SearchAttempts: sv.Discovery.SearchAttempts,
		SearchBackoff:  sv.Discovery.SearchBackoff,
	}, s.logger, s.metrics)
}

func (s *Server) registerRoot(ctx context.Context) error {
	if s.ns == nil {
		return nil
	}
	reg, err := s.newRegistrar()
	if err != nil {
		return err
	}
	s.registration, err = reg.RegisterRoot(ctx)
	return err
}

// registerLeaf resolves the parent, registers under it and returns the
// parent address.
func (s *Server) registerLeaf(ctx context.Context, local bool) (string, error) {
	sv := &s.cfg.Server

	var resolver registrar.ParentResolver
	switch sv.Discovery.Mode {
	case config.DiscoveryStatic:
		resolver = registrar.StaticResolver{Parent: sv.ParentAddress}
	default:
		root, err := rpc.Dial(rpc.Target(sv.RootAddress, portOf(sv.GRPCAddress)), sv.Propagation.CallTimeout)
		if err != nil {
			return "", err
		}
		s.root = root
		resolver = &registrar.AssignmentResolver{
			Assigner: root,
			Attempts: sv.Discovery.AssignAttempts,
			Backoff:  sv.Discovery.AssignBackoff,
			Logger:   s.logger,
		}
	}

	if s.ns == nil {
		parent, err := resolver.ResolveParent(ctx, sv.NodeAddress)
		if err != nil {
			return "", err
		}
		s.logger.Info("parent resolved without registration", log.Parent(parent), log.Component("server"))
		return parent, nil
	}

	if local {
		resolver = seedingResolver{ParentResolver: resolver, ns: s.ns, base: sv.Coordination.BasePath}
	}
	reg, err := s.newRegistrar()
	if err != nil {
		return "", err
	}
	if s.registration, err = reg.RegisterLeaf(ctx, resolver); err != nil {
		return "", err
	}
	return s.registration.Parent, nil
}

// seedingResolver is used with a process-local namespace. The parent entry
// lives in another process, so a durable copy is created for discovery.
type seedingResolver struct {
	registrar.ParentResolver
	ns   namespace.Namespace
	base string
}

func (r seedingResolver) ResolveParent(ctx context.Context, self string) (string, error) {
	parent, err := r.ParentResolver.ResolveParent(ctx, self)
	if err != nil {
		return "", err
	}
	err = r.ns.Create(ctx, namespace.Join(r.base, parent), nil, namespace.CreateOptions{MakePath: true})
	if err != nil && !errors.Is(err, namespace.ErrNodeExists) {
		return "", err
	}
	return parent, nil
}

func (s *Server) setupHealth() {
	sv := &s.cfg.Server

	id := health.Node{
		Role:    string(sv.Role),
		Address: sv.NodeAddress,
		Parent:  s.node.Parent(),
		Cache:   s.store,
	}
	if s.worker != nil {
		id.Queue = s.worker
	}
	s.healthSrv = health.NewReporter(id, s.logger)
	if s.ns != nil {
		s.healthSrv.Register("coordination", health.SessionCheck(s.ns))
	}
	if s.worker != nil {
		s.healthSrv.Register("propagation", health.PropagationCheck(s.worker, maxPropagationBacklog))
	}
	s.healthSrv.Register("lifecycle", health.ErrorCheck(func(context.Context) error {
		if s.shutdownMgr.IsShuttingDown() {
			return errors.New("shutting down")
		}
		return nil
	}))

	s.bridge = health.NewGRPCBridge(s.healthSrv, rpc.ServiceName)
}

// registerShutdownHooks registers the per-phase hooks. Hooks must cope with
// components that were never built.
func (s *Server) registerShutdownHooks() {
	s.shutdownMgr.RegisterHook(reliability.PhaseStopAccepting, func(ctx context.Context) error {
		if s.bridge != nil {
			s.bridge.Shutdown()
		}
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				s.logger.Warn("HTTP server shutdown failed", zap.Error(err))
			}
		}
		if s.httpLis != nil {
			_ = s.httpLis.Close()
		}
		return nil
	})

	s.shutdownMgr.RegisterHook(reliability.PhaseStopAccepting, func(ctx context.Context) error {
		if s.grpcSrv != nil {
			done := make(chan struct{})
			go func() {
				s.grpcSrv.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				s.grpcSrv.Stop()
			}
		}
		if s.grpcLis != nil {
			_ = s.grpcLis.Close()
		}
		return nil
	})

	s.shutdownMgr.RegisterHook(reliability.PhaseStopPropagation, func(ctx context.Context) error {
		if s.worker != nil {
			s.worker.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		var errs []error
		if s.parent != nil {
			errs = append(errs, s.parent.Close())
		}
		if s.root != nil {
			errs = append(errs, s.root.Close())
		}
		return errors.Join(errs...)
	})

	s.shutdownMgr.RegisterHook(reliability.PhaseCloseSession, func(ctx context.Context) error {
		if s.ns == nil {
			return nil
		}
		return s.ns.Close()
	})

	s.shutdownMgr.RegisterHook(reliability.PhaseFlush, func(ctx context.Context) error {
		var errs []error
		if s.metricsSrv != nil {
			errs = append(errs, s.metricsSrv.Shutdown(ctx))
		}
		if s.tracingShutdown != nil {
			errs = append(errs, s.tracingShutdown(ctx))
		}
		_ = s.logger.Sync()
		return errors.Join(errs...)
	})
}

// Start launches the worker and the listeners and returns.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.worker != nil {
		s.worker.Start(ctx)
	}

	reliability.SafeGo("grpc-server", func() {
		s.logger.Info("Starting tree gRPC server", log.Address(s.grpcLis.Addr().String()), log.Component("server"))
		if err := s.grpcSrv.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server failed", zap.Error(err))
		}
	})
	reliability.SafeGo("http-server", func() {
		if err := s.httpSrv.Serve(s.httpLis); err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	})
	if s.metricsSrv != nil {
		reliability.SafeGo("metrics-server", func() {
			if err := s.metricsSrv.Start(); err != nil {
				s.logger.Error("metrics server failed", zap.Error(err))
			}
		})
	}
	reliability.SafeGo("grpc-health", func() {
		s.bridge.Run(ctx, healthSyncInterval)
	})
	reliability.SafeGo("shutdown-listener", func() {
		s.shutdownMgr.Wait(ctx)
	})

	s.logger.Info("Cache node started",
		log.Role(string(s.cfg.Server.Role)),
		log.Address(s.cfg.Server.NodeAddress),
		log.Parent(s.node.Parent()),
		log.Path(s.registration.Path),
		log.Component("server"))
}

// Stop shuts the node down and waits for it.
func (s *Server) Stop() {
	s.logger.Info("Triggering graceful shutdown", log.Component("server"))
	s.shutdownMgr.Shutdown()
}

// WaitForShutdown blocks until a signal, ctx or Stop has shut the node down.
func (s *Server) WaitForShutdown() {
	<-s.shutdownMgr.Done()
	// a second Shutdown blocks until the first completes
	s.shutdownMgr.Shutdown()
	s.logger.Info("Server shutdown complete", log.Component("server"))
}

// Node returns the node service.
func (s *Server) Node() *node.Service { return s.node }

// Registration returns where the node registered.
func (s *Server) Registration() registrar.Registration { return s.registration }

func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

func (s *Server) Health() *health.Reporter { return s.healthSrv }

// GRPCAddress returns the bound gRPC address.
func (s *Server) GRPCAddress() string { return s.grpcLis.Addr().String() }

// HTTPAddress returns the bound HTTP address.
func (s *Server) HTTPAddress() string { return s.httpLis.Addr().String() }

func listen(pre net.Listener, addr string) (net.Listener, error) {
	if pre != nil {
		return pre, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return lis, nil
}

// portOf returns the port of addr. Other nodes are assumed to serve gRPC on
// the same port.
func portOf(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil && port != "" && port != "0" {
		return port
	}
	return defaultGRPCPort
}
