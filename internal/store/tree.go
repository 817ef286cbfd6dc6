// Package store implements the in-memory hierarchical path/value tree that
// backs an Apteryx daemon: set, get, search (one level of children) and
// prune (subtree removal), all synchronous and safe for concurrent use.
package store

import (
	"bytes"
	"sort"
	"sync"

	"github.com/isaac129/apteryx/internal/pathutil"
)

// Removed describes a node that prune took out of the tree, carried along so
// the caller can fan out watch notifications for it.
type Removed struct {
	Path  string
	Value []byte
}

// Tree is a path-keyed value store. A path with a zero-length value is
// absent; storing an empty value deletes the node. The tree has no notion
// of a distinguished "interior" node: a path such as "/a/b" may have
// children even though it was never itself set.
type Tree struct {
	mu       sync.RWMutex
	values   map[string][]byte
	children map[string]map[string]struct{} // parent path ("" = root) -> direct children
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		values:   make(map[string][]byte),
		children: make(map[string]map[string]struct{}),
	}
}

// Set stores value at path, or deletes path when value is empty. It returns
// the value previously stored there (nil if absent) and whether the new
// value differs from the old one under the "absent equals empty"
// equivalence. Callers use this to decide whether to fan out watch
// notifications.
func (t *Tree) Set(path string, value []byte) (old []byte, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, existed := t.values[path]
	changed = !bytes.Equal(old, value)

	if len(value) == 0 {
		if existed {
			delete(t.values, path)
			if _, hasKids := t.children[path]; !hasKids {
				t.detach(path)
			}
		}
		return old, changed
	}

	stored := append([]byte(nil), value...)
	t.values[path] = stored
	if !existed {
		t.attach(path)
	}
	return old, changed
}

// Get returns the value stored at path, if any.
func (t *Tree) Get(path string) (value []byte, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Search returns the sorted, de-duplicated set of direct children of
// directory ("" addresses the root).
func (t *Tree) Search(directory string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kids := t.children[directory]
	out := make([]string, 0, len(kids))
	for child := range kids {
		out = append(out, child)
	}
	sort.Strings(out)
	return out
}

// Prune removes path and every descendant, returning the removed nodes (for
// notification purposes). Pruning a path with no stored entries, including a
// wholly absent subtree, succeeds as a no-op and returns nil.
func (t *Tree) Prune(path string) []Removed {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.detach(path)

	var removed []Removed
	stack := []string{path}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if v, ok := t.values[p]; ok {
			removed = append(removed, Removed{Path: p, Value: v})
			delete(t.values, p)
		}
		if kids, ok := t.children[p]; ok {
			for child := range kids {
				stack = append(stack, child)
			}
			delete(t.children, p)
		}
	}
	return removed
}

// attach records path as a child of its parent, and each ancestor as a
// child of its own parent, up to the root. Must be called with mu held.
func (t *Tree) attach(path string) {
	for path != "" {
		parent := pathutil.Parent(path)
		kids := t.children[parent]
		if kids == nil {
			kids = make(map[string]struct{})
			t.children[parent] = kids
		}
		if _, linked := kids[path]; linked {
			return
		}
		kids[path] = struct{}{}
		path = parent
	}
}

// detach removes path from its parent's child set, collapsing the parent
// entry if it becomes empty, and repeats for each ancestor left with no
// children and no value. Must be called with mu held.
func (t *Tree) detach(path string) {
	for path != "" {
		parent := pathutil.Parent(path)
		kids, ok := t.children[parent]
		if !ok {
			return
		}
		delete(kids, path)
		if len(kids) > 0 {
			return
		}
		delete(t.children, parent)
		if _, held := t.values[parent]; held {
			return
		}
		path = parent
	}
}

// Size reports how many nodes currently hold a value; used by telemetry.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}
