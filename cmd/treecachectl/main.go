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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"treeCache/pkg/client"

	"github.com/spf13/cobra"
)

var (
	nodes   []string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "treecachectl",
	Short: "Control client for treecache nodes",
	Long: `treecachectl sends requests to the HTTP API of treecache nodes. A node is
given as an address (host or host:port) or as an index into --nodes, which
defaults to the comma separated TREECACHE_NODES variable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&nodes, "nodes", splitNodes(os.Getenv("TREECACHE_NODES")), "known node addresses")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	rootCmd.AddCommand(putCmd, getCmd, deleteCmd, parentCmd, keysCmd, topologyCmd, shellCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "treecachectl:", err)
		os.Exit(1)
	}
}

func splitNodes(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveNode maps an index into known to its address; anything else is
// taken as an address.
func resolveNode(ref string, known []string) (string, error) {
	idx, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	if idx < 0 || idx >= len(known) {
		return "", fmt.Errorf("node id %d out of range, %d nodes known", idx, len(known))
	}
	return known[idx], nil
}

func clientFor(ref string) (*client.Client, error) {
	addr, err := resolveNode(ref, nodes)
	if err != nil {
		return nil, err
	}
	return client.New(addr, timeout), nil
}
