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

package rpc

import (
	"treeCache/pkg/log"

	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Backend is the operation set the server exposes. *node.Service
// implements it.
type Backend interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	AssignParent(ctx context.Context, candidate string) (string, error)
}

// Server serves the tree service on top of a Backend. Writes from a child
// are applied through the backend, so a mid-tree node forwards them further
// up to its own parent.
type Server struct {
	backend Backend
	logger  *zap.Logger
}

var _ TreeServer = (*Server)(nil)

// NewServer creates a Server.
func NewServer(backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		backend: backend,
		logger:  logger.With(log.Component("rpc-server")),
	}
}

// Register registers the tree service on gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	RegisterTreeServer(gs, s)
}

// Store implements TreeServer.
func (s *Server) Store(ctx context.Context, req *StoreRequest) (*Empty, error) {
	if err := s.backend.Put(ctx, req.Key, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Remove implements TreeServer.
func (s *Server) Remove(ctx context.Context, req *RemoveRequest) (*Empty, error) {
	if _, err := s.backend.Remove(ctx, req.Key); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Fetch implements TreeServer.
func (s *Server) Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	v, found, err := s.backend.Get(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FetchResponse{Value: v, Found: found}, nil
}

// AssignParent implements TreeServer.
func (s *Server) AssignParent(ctx context.Context, req *AssignParentRequest) (*AssignParentResponse, error) {
	parent, err := s.backend.AssignParent(ctx, req.Address)
	if err != nil {
		s.logger.Warn("parent assignment rejected",
			log.Address(req.Address),
			zap.Error(err))
		return nil, toStatus(err)
	}
	return &AssignParentResponse{Parent: parent}, nil
}
