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

package topology

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const rootAddr = "10.0.0.1"

func nodeAddr(i int) string {
	return fmt.Sprintf("10.0.1.%d", i)
}

func TestLevelOrderFill(t *testing.T) {
	m := NewManager(rootAddr, zap.NewNop())

	// joins 1..7 land under root, root, c1, c1, c2, c2, c3
	want := []string{rootAddr, rootAddr, nodeAddr(1), nodeAddr(1), nodeAddr(2), nodeAddr(2), nodeAddr(3)}
	for i := 1; i <= 7; i++ {
		parent, err := m.AssignParent(nodeAddr(i))
		require.NoError(t, err)
		assert.Equal(t, want[i-1], parent, "join %d", i)
	}

	assert.Equal(t, 8, m.Size())
	assert.Equal(t, 4, m.Depth())
}

func TestIdempotentJoin(t *testing.T) {
	m := NewManager(rootAddr, zap.NewNop())

	for i := 1; i <= 4; i++ {
		_, err := m.AssignParent(nodeAddr(i))
		require.NoError(t, err)
	}

	first, err := m.AssignParent("10.0.0.5")
	require.NoError(t, err)
	size := m.Size()

	second, err := m.AssignParent("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, size, m.Size())

	count := 0
	var walk func(Tree)
	walk = func(tr Tree) {
		if tr.Address == "10.0.0.5" {
			count++
		}
		for _, c := range tr.Children {
			walk(c)
		}
	}
	walk(m.Snapshot())
	assert.Equal(t, 1, count)
}

func TestFanOutNeverExceeded(t *testing.T) {
	m := NewManager(rootAddr, zap.NewNop())
	for i := 1; i <= 100; i++ {
		_, err := m.AssignParent(fmt.Sprintf("node-%d:5001", i))
		require.NoError(t, err)
	}
	assertFanOut(t, m.Snapshot())
	assert.Equal(t, 101, m.Size())
	// complete binary tree with 101 nodes has 7 levels
	assert.Equal(t, 7, m.Depth())
}

func TestConcurrentJoins(t *testing.T) {
	m := NewManager(rootAddr, zap.NewNop())

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		for r := 0; r < 3; r++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := m.AssignParent(fmt.Sprintf("10.1.0.%d", i))
				assert.NoError(t, err)
			}(i)
		}
	}
	wg.Wait()

	assert.Equal(t, 65, m.Size(), "every address is inserted exactly once")
	assertFanOut(t, m.Snapshot())
	assert.Equal(t, 7, m.Depth())
}

func TestInvalidCandidates(t *testing.T) {
	m := NewManager(rootAddr, zap.NewNop())

	for _, addr := range []string{"", "not-an-ip", "10.0.0.300", "host:notaport"} {
		_, err := m.AssignParent(addr)
		assert.True(t, errors.Is(err, ErrInvalidAddress), "%q: %v", addr, err)
	}

	_, err := m.AssignParent(rootAddr)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, 1, m.Size())
}

func TestCorruptTree(t *testing.T) {
	m := NewManager(rootAddr, zap.NewNop())
	m.root = nil

	_, err := m.AssignParent("10.0.0.2")
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestParentOf(t *testing.T) {
	m := NewManager(rootAddr, nil)
	_, err := m.AssignParent("10.0.0.2")
	require.NoError(t, err)

	parent, ok := m.ParentOf("10.0.0.2")
	assert.True(t, ok)
	assert.Equal(t, rootAddr, parent)

	_, ok = m.ParentOf(rootAddr)
	assert.False(t, ok)
	_, ok = m.ParentOf("10.9.9.9")
	assert.False(t, ok)
}

func assertFanOut(t *testing.T, tr Tree) {
	t.Helper()
	assert.LessOrEqual(t, len(tr.Children), MaxChildren, tr.Address)
	for _, c := range tr.Children {
		assertFanOut(t, c)
	}
}
