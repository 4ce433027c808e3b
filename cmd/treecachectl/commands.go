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
	"io"

	"treeCache/internal/topology"
	"treeCache/pkg/client"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <node> <key> <value>",
	Short: "Store a value on a node",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(args[0])
		if err != nil {
			return err
		}
		return put(cmd.Context(), cmd.OutOrStdout(), c, args[1], args[2])
	},
}

var getCmd = &cobra.Command{
	Use:   "get <node> <key>",
	Short: "Read a value through a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(args[0])
		if err != nil {
			return err
		}
		return get(cmd.Context(), cmd.OutOrStdout(), c, args[1])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <node> <key>",
	Short: "Remove a key through a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(args[0])
		if err != nil {
			return err
		}
		return remove(cmd.Context(), cmd.OutOrStdout(), c, args[1])
	},
}

var parentCmd = &cobra.Command{
	Use:   "parent <root> <address>",
	Short: "Ask the root where address belongs in the tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(args[0])
		if err != nil {
			return err
		}
		parent, err := c.AssignParent(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), parent)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys <node>",
	Short: "List the pairs cached on a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(args[0])
		if err != nil {
			return err
		}
		keys, err := c.Keys(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), keys)
	},
}

var topologyCmd = &cobra.Command{
	Use:   "topology <root>",
	Short: "Print the tree as placed by the root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(args[0])
		if err != nil {
			return err
		}
		tree, err := c.Topology(cmd.Context())
		if err != nil {
			return err
		}
		printTree(cmd.OutOrStdout(), tree, 0)
		return nil
	},
}

func put(ctx context.Context, out io.Writer, c *client.Client, key, value string) error {
	if err := c.Put(ctx, key, value); err != nil {
		return err
	}
	fmt.Fprintln(out, "200")
	return nil
}

func get(ctx context.Context, out io.Writer, c *client.Client, key string) error {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "None")
		return nil
	}
	fmt.Fprintln(out, v)
	return nil
}

func remove(ctx context.Context, out io.Writer, c *client.Client, key string) error {
	removed, err := c.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintln(out, "None")
		return nil
	}
	fmt.Fprintln(out, "200")
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printTree(out io.Writer, t topology.Tree, depth int) {
	for i := 0; i < depth; i++ {
		fmt.Fprint(out, "  ")
	}
	fmt.Fprintln(out, t.Address)
	for _, child := range t.Children {
		printTree(out, child, depth+1)
	}
}
