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
	"context"
	"fmt"
	"net"
	"time"

	"treeCache/internal/coherence"
	"treeCache/pkg/tracing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Client talks to one parent (or to the root, for AssignParent).
type Client struct {
	conn    *grpc.ClientConn
	target  string
	timeout time.Duration
}

var _ coherence.ParentClient = (*Client)(nil)

// Target returns addr as a dialable host:port, appending defaultPort to a
// bare host.
func Target(addr, defaultPort string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}

// Dial creates a client for target. The connection is established lazily on
// the first call. timeout bounds each call that carries no deadline of its
// own; zero disables it.
func Dial(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithUnaryInterceptor(tracing.UnaryClientInterceptor()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, target, err)
	}
	return &Client{conn: conn, target: target, timeout: timeout}, nil
}

// Target returns the address this client dials.
func (c *Client) Target() string { return c.target }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.conn.Invoke(ctx, method, req, resp)
}

// Store forwards a write to the parent.
func (c *Client) Store(ctx context.Context, key, value string) error {
	return fromStatus(c.invoke(ctx, methodStore, &StoreRequest{Key: key, Value: value}, &Empty{}))
}

// Remove forwards a delete to the parent.
func (c *Client) Remove(ctx context.Context, key string) error {
	return fromStatus(c.invoke(ctx, methodRemove, &RemoveRequest{Key: key}, &Empty{}))
}

// Fetch reads key from the parent.
func (c *Client) Fetch(ctx context.Context, key string) (string, bool, error) {
	resp := &FetchResponse{}
	if err := c.invoke(ctx, methodFetch, &FetchRequest{Key: key}, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, fromStatus(err)
	}
	return resp.Value, resp.Found, nil
}

// AssignParent asks the root where address should join the tree.
func (c *Client) AssignParent(ctx context.Context, address string) (string, error) {
	resp := &AssignParentResponse{}
	if err := c.invoke(ctx, methodAssignParent, &AssignParentRequest{Address: address}, resp); err != nil {
		return "", fromAssignStatus(err)
	}
	return resp.Parent, nil
}
