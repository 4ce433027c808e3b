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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"treeCache/pkg/client"

	"github.com/spf13/cobra"
)

const shellUsage = `Possible usages:
put <node_id> <key> <value>
get <node_id> <key>
delete <node_id> <key>
exit

<value> may contain spaces. <node_id> is an index into the known nodes or a
node address.`

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session against the known nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runShell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), nodes, timeout)
	},
}

var errExit = errors.New("exit")

// runShell reads commands line by line until exit or end of input. A failing
// command is reported and the session goes on.
func runShell(ctx context.Context, in io.Reader, out io.Writer, known []string, timeout time.Duration) error {
	fmt.Fprintf(out, "Known nodes: %s\n%s\n", strings.Join(known, ", "), shellUsage)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := execLine(ctx, out, line, known, timeout)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func execLine(ctx context.Context, out io.Writer, line string, known []string, timeout time.Duration) error {
	tokens := strings.SplitN(line, " ", 4)
	action := tokens[0]

	if action == "exit" || action == "quit" {
		return errExit
	}

	want := map[string]int{"put": 4, "get": 3, "delete": 3}[action]
	if want == 0 || len(tokens) != want {
		return fmt.Errorf("invalid input\n%s", shellUsage)
	}

	addr, err := resolveNode(tokens[1], known)
	if err != nil {
		return err
	}
	c := client.New(addr, timeout)

	switch action {
	case "put":
		return put(ctx, out, c, tokens[2], tokens[3])
	case "get":
		return get(ctx, out, c, tokens[2])
	default:
		return remove(ctx, out, c, tokens[2])
	}
}
