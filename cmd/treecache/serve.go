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

package main

import (
	"context"
	"fmt"

	"treeCache/internal/server"
	"treeCache/pkg/config"
	"treeCache/pkg/log"
	"treeCache/pkg/reliability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveFlags struct {
	configPath string
	role       string
	address    string
	root       string
	parent     string
	httpAddr   string
	grpcAddr   string
	backend    string
	endpoints  []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a cache node",
	Long: `Start a cache node. Settings come from the config file, then the
environment (PARENT_NODE, NODE_ADDRESS, ZOO_SERVERS and TREECACHE_*), then flags.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.configPath, "config", "c", "", "path to the YAML config file")
	f.StringVar(&serveFlags.role, "role", "", "node role: root or leaf")
	f.StringVarP(&serveFlags.address, "address", "a", "", "address other nodes use to reach this node")
	f.StringVar(&serveFlags.root, "root", "", "root address to ask for a parent")
	f.StringVar(&serveFlags.parent, "parent", "", "fixed parent address (skips asking the root)")
	f.StringVar(&serveFlags.httpAddr, "http", "", "HTTP listen address")
	f.StringVar(&serveFlags.grpcAddr, "grpc", "", "gRPC listen address")
	f.StringVar(&serveFlags.backend, "coordination", "", "coordination backend: etcd, memory or none")
	f.StringSliceVar(&serveFlags.endpoints, "endpoints", nil, "etcd endpoints")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.ReadConfig(serveFlags.configPath)
	if err != nil {
		return nil, err
	}

	s := &cfg.Server
	flags := cmd.Flags()
	if flags.Changed("role") {
		s.Role = config.Role(serveFlags.role)
	}
	if flags.Changed("address") {
		s.NodeAddress = serveFlags.address
	}
	if flags.Changed("root") {
		s.RootAddress = serveFlags.root
		s.Discovery.Mode = config.DiscoveryAssign
		if !flags.Changed("role") {
			s.Role = config.RoleLeaf
		}
	}
	if flags.Changed("parent") {
		s.ParentAddress = serveFlags.parent
		s.Discovery.Mode = config.DiscoveryStatic
		if !flags.Changed("role") {
			s.Role = config.RoleLeaf
		}
	}
	if flags.Changed("http") {
		s.HTTPAddress = serveFlags.httpAddr
	}
	if flags.Changed("grpc") {
		s.GRPCAddress = serveFlags.grpcAddr
	}
	if flags.Changed("coordination") {
		s.Coordination.Backend = serveFlags.backend
	}
	if flags.Changed("endpoints") {
		s.Coordination.Endpoints = serveFlags.endpoints
		if !flags.Changed("coordination") {
			s.Coordination.Backend = config.BackendEtcd
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := log.InitFromConfig(&cfg.Server.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting treecache node",
		log.Role(string(cfg.Server.Role)),
		log.Address(cfg.Server.NodeAddress),
		zap.String("coordination", cfg.Server.Coordination.Backend),
		zap.String("discovery", cfg.Server.Discovery.Mode),
		log.Component("main"))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	srv, err := server.NewServer(ctx, server.ServerConfig{
		Config: cfg,
		Logger: logger.Zap(),
	})
	if err != nil {
		logger.Error("Failed to start node", log.Err(err), log.Component("main"))
		return err
	}

	reliability.PanicHandler = func(name string, _ interface{}, _ []byte) {
		srv.Metrics().RecordPanicRecovered(name)
	}

	srv.Start(ctx)
	srv.WaitForShutdown()
	return nil
}
