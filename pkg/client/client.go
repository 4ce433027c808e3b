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

// Package client talks to a cache node's HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"treeCache/internal/node"
	"treeCache/internal/topology"

	json "github.com/goccy/go-json"
)

// DefaultHTTPPort is appended to node addresses given without a port.
const DefaultHTTPPort = "5000"

// ErrBadRequest is returned when the node rejects the arguments.
var ErrBadRequest = errors.New("client: bad request")

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Client is a client for one node.
type Client struct {
	base string
	hc   *http.Client
}

// New creates a client for node, given as host, host:port or a URL.
func New(nodeAddr string, timeout time.Duration) *Client {
	return &Client{
		base: BaseURL(nodeAddr),
		hc:   &http.Client{Timeout: timeout},
	}
}

// BaseURL turns a node address into the URL of its HTTP API.
func BaseURL(nodeAddr string) string {
	if strings.HasPrefix(nodeAddr, "http://") || strings.HasPrefix(nodeAddr, "https://") {
		return strings.TrimSuffix(nodeAddr, "/")
	}
	if _, _, err := net.SplitHostPort(nodeAddr); err != nil {
		nodeAddr = net.JoinHostPort(nodeAddr, DefaultHTTPPort)
	}
	return "http://" + nodeAddr
}

// URL returns the node's base URL.
func (c *Client) URL() string { return c.base }

func (c *Client) do(ctx context.Context, method, route string, q url.Values) (int, string, error) {
	u := c.base + route
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

// Put stores value under key on the node.
func (c *Client) Put(ctx context.Context, key, value string) error {
	code, body, err := c.do(ctx, http.MethodPut, "/store/", url.Values{"key": {key}, "value": {value}})
	if err != nil {
		return err
	}
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(body))
	default:
		return &StatusError{Code: code, Body: body}
	}
}

// Get reads key from the node.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/receive/", url.Values{"key": {key}})
	if err != nil {
		return "", false, err
	}
	switch code {
	case http.StatusOK:
		return body, true, nil
	case http.StatusNoContent:
		return "", false, nil
	case http.StatusBadRequest:
		return "", false, fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(body))
	default:
		return "", false, &StatusError{Code: code, Body: body}
	}
}

// Delete removes key from the node and reports whether the node held it.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	code, body, err := c.do(ctx, http.MethodDelete, "/remove/", url.Values{"key": {key}})
	if err != nil {
		return false, err
	}
	switch code {
	case http.StatusOK:
		return true, nil
	case http.StatusNoContent:
		return false, nil
	case http.StatusBadRequest:
		return false, fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(body))
	default:
		return false, &StatusError{Code: code, Body: body}
	}
}

// AssignParent asks the root to place address in the tree.
func (c *Client) AssignParent(ctx context.Context, address string) (string, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/getParent/", url.Values{"nodeName": {address}})
	if err != nil {
		return "", err
	}
	switch code {
	case http.StatusOK:
		return body, nil
	case http.StatusMethodNotAllowed:
		return "", node.ErrNotRoot
	case http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", topology.ErrInvalidAddress, strings.TrimSpace(body))
	case http.StatusTeapot:
		return "", topology.ErrInvariantViolation
	default:
		return "", &StatusError{Code: code, Body: body}
	}
}

// Keys lists the pairs cached on the node.
func (c *Client) Keys(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if err := c.getJSON(ctx, "/admin/keys", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Topology returns the tree as seen by the root.
func (c *Client) Topology(ctx context.Context) (topology.Tree, error) {
	var tree topology.Tree
	err := c.getJSON(ctx, "/admin/topology", &tree)
	if errors.Is(err, errMethodNotAllowed) {
		return topology.Tree{}, node.ErrNotRoot
	}
	return tree, err
}

var errMethodNotAllowed = errors.New("method not allowed")

func (c *Client) getJSON(ctx context.Context, route string, v interface{}) error {
	code, body, err := c.do(ctx, http.MethodGet, route, nil)
	if err != nil {
		return err
	}
	switch code {
	case http.StatusOK:
		return json.Unmarshal([]byte(body), v)
	case http.StatusMethodNotAllowed:
		return errMethodNotAllowed
	default:
		return &StatusError{Code: code, Body: body}
	}
}
