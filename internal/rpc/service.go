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

// Package rpc is the inter-node transport: children forward writes and
// read misses to their parent, and joining nodes ask the root for a parent.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "treecache.Tree"

const (
	methodStore        = "/" + ServiceName + "/Store"
	methodRemove       = "/" + ServiceName + "/Remove"
	methodFetch        = "/" + ServiceName + "/Fetch"
	methodAssignParent = "/" + ServiceName + "/AssignParent"
)

type StoreRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RemoveRequest struct {
	Key string `json:"key"`
}

type FetchRequest struct {
	Key string `json:"key"`
}

type FetchResponse struct {
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

type AssignParentRequest struct {
	Address string `json:"address"`
}

type AssignParentResponse struct {
	Parent string `json:"parent"`
}

type Empty struct{}

// TreeServer is the server API of the tree service.
type TreeServer interface {
	Store(context.Context, *StoreRequest) (*Empty, error)
	Remove(context.Context, *RemoveRequest) (*Empty, error)
	Fetch(context.Context, *FetchRequest) (*FetchResponse, error)
	AssignParent(context.Context, *AssignParentRequest) (*AssignParentResponse, error)
}

// RegisterTreeServer registers srv on s.
func RegisterTreeServer(s grpc.ServiceRegistrar, srv TreeServer) {
	s.RegisterService(&treeServiceDesc, srv)
}

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](fullMethod string, call func(TreeServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TreeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TreeServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var treeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TreeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Store", Handler: unary(methodStore, TreeServer.Store)},
		{MethodName: "Remove", Handler: unary(methodRemove, TreeServer.Remove)},
		{MethodName: "Fetch", Handler: unary(methodFetch, TreeServer.Fetch)},
		{MethodName: "AssignParent", Handler: unary(methodAssignParent, TreeServer.AssignParent)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "treecache/tree.json",
}
