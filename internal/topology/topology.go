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

// Package topology keeps the root's view of the cache tree and decides where
// joining nodes are attached.
//
// Placement is level-order: a joining node becomes the child of the first
// node, scanning level by level and left to right in join order, that still
// has a free slot. With a fan-out of two the tree fills like a complete
// binary tree, so depth stays logarithmic in the number of nodes.
package topology

import (
	"errors"
	"fmt"
	"sync"

	"treeCache/pkg/log"
	"treeCache/pkg/reliability"

	"go.uber.org/zap"
)

// MaxChildren is the fan-out of every tree node.
const MaxChildren = 2

var (
	// ErrInvalidAddress is returned for a malformed candidate address or for
	// the root's own address, which can never be given a parent.
	ErrInvalidAddress = errors.New("topology: invalid node address")

	// ErrInvariantViolation is returned when no placeable node exists. The
	// root is created with the manager, so this means the tree is corrupt.
	ErrInvariantViolation = errors.New("topology: no placeable node found")
)

// TreeNode is one joined cache node. Nodes are never removed.
type TreeNode struct {
	Address  string
	parent   *TreeNode
	children []*TreeNode
}

// Parent returns the node this one is attached to, nil for the root.
func (n *TreeNode) Parent() *TreeNode { return n.parent }

// canHoldChildren reports whether the node has a free slot.
func (n *TreeNode) canHoldChildren() bool {
	return len(n.children) < MaxChildren
}

func (n *TreeNode) addChild(address string) *TreeNode {
	child := &TreeNode{Address: address, parent: n}
	n.children = append(n.children, child)
	return child
}

// Tree is a read-only copy of the topology, suitable for JSON encoding.
type Tree struct {
	Address  string `json:"address"`
	Children []Tree `json:"children,omitempty"`
}

// Manager owns the tree. Search and insert run under one mutex so concurrent
// joins can never claim the same slot.
type Manager struct {
	mu     sync.Mutex
	root   *TreeNode
	size   int
	logger *zap.Logger
}

// NewManager creates a tree holding only the root.
func NewManager(rootAddress string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		root:   &TreeNode{Address: rootAddress},
		size:   1,
		logger: logger.With(log.Component("topology")),
	}
}

// AssignParent attaches candidate to the tree and returns the address of its
// parent. Asking again for an already joined address returns its existing
// parent without changing the tree.
func (m *Manager) AssignParent(candidate string) (string, error) {
	if err := reliability.ValidateAddress(candidate); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root == nil {
		return "", ErrInvariantViolation
	}
	if candidate == m.root.Address {
		return "", fmt.Errorf("%w: %s is the tree root", ErrInvalidAddress, candidate)
	}

	if existing := m.find(candidate); existing != nil {
		m.logger.Info("node rejoined",
			log.Address(candidate),
			log.Parent(existing.parent.Address))
		return existing.parent.Address, nil
	}

	slot := m.firstFreeSlot()
	if slot == nil {
		m.logger.Error("no placeable node found", log.Address(candidate), zap.Int("size", m.size))
		return "", ErrInvariantViolation
	}

	slot.addChild(candidate)
	m.size++

	m.logger.Info("assigned parent",
		log.Address(candidate),
		log.Parent(slot.Address),
		zap.Int("size", m.size))

	return slot.Address, nil
}

// find returns the node with the given address, breadth first.
func (m *Manager) find(address string) *TreeNode {
	var found *TreeNode
	m.walk(func(n *TreeNode) bool {
		if n.Address == address {
			found = n
			return false
		}
		return true
	})
	return found
}

// firstFreeSlot returns the first node in level order with fewer than
// MaxChildren children.
func (m *Manager) firstFreeSlot() *TreeNode {
	var slot *TreeNode
	m.walk(func(n *TreeNode) bool {
		if n.canHoldChildren() {
			slot = n
			return false
		}
		return true
	})
	return slot
}

// walk visits nodes in level order until visit returns false.
func (m *Manager) walk(visit func(*TreeNode) bool) {
	queue := []*TreeNode{m.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !visit(n) {
			return
		}
		queue = append(queue, n.children...)
	}
}

// ParentOf returns the parent address of a joined node.
func (m *Manager) ParentOf(address string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.find(address)
	if n == nil || n.parent == nil {
		return "", false
	}
	return n.parent.Address, true
}

// Size returns the number of nodes including the root.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Depth returns the number of levels in the tree.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return depth(m.root)
}

func depth(n *TreeNode) int {
	if n == nil {
		return 0
	}
	d := 0
	for _, c := range n.children {
		if cd := depth(c); cd > d {
			d = cd
		}
	}
	return d + 1
}

// Snapshot returns a copy of the whole tree.
func (m *Manager) Snapshot() Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTree(m.root)
}

func copyTree(n *TreeNode) Tree {
	if n == nil {
		return Tree{}
	}
	t := Tree{Address: n.Address}
	for _, c := range n.children {
		t.Children = append(t.Children, copyTree(c))
	}
	return t
}
