// Package tree implements the ordered index tree: an unbalanced binary
// search tree from record values to arbitrary payloads.
//
// Insertion order decides the shape. Sorted input degrades the tree to a
// list (O(n) depth), so every walk is iterative and never recurses.
package tree

import (
	"errors"
	"fmt"

	"github.com/tobsdb/recstore/internal/record"
)

var (
	ErrKeyTypeMismatch = errors.New("key type does not match tree key type")
	ErrUnsupportedKey  = errors.New("unsupported key type")
)

type node[V any] struct {
	key   any
	value V
	left  *node[V]
	right *node[V]
}

type Entry[V any] struct {
	Key   any
	Value V
}

type Tree[V any] struct {
	root *node[V]
	size int
	kind record.Kind
}

func New[V any]() *Tree[V] { return &Tree[V]{} }

// KeyKind is the kind fixed by the first inserted key, KindNil while empty.
func (t *Tree[V]) KeyKind() record.Kind { return t.kind }

func (t *Tree[V]) checkKey(key any) error {
	kind := record.KindOf(key)
	if kind == record.KindNil || kind == record.KindOther {
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if t.kind != record.KindNil && t.kind != kind {
		return fmt.Errorf("%w: tree holds %s keys, got %s", ErrKeyTypeMismatch, t.kind, kind)
	}
	return nil
}

func compare(a, b any) int {
	// both keys passed checkKey so Compare cannot fail
	c, _ := record.Compare(a, b)
	return c
}

// Insert binds value to key, overwriting the value of an existing key.
func (t *Tree[V]) Insert(key any, value V) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	t.kind = record.KindOf(key)

	if t.root == nil {
		t.root = &node[V]{key: key, value: value}
		t.size++
		return nil
	}

	n := t.root
	for {
		c := compare(key, n.key)
		switch {
		case c == 0:
			n.value = value
			return nil
		case c < 0:
			if n.left == nil {
				n.left = &node[V]{key: key, value: value}
				t.size++
				return nil
			}
			n = n.left
		default:
			if n.right == nil {
				n.right = &node[V]{key: key, value: value}
				t.size++
				return nil
			}
			n = n.right
		}
	}
}

func (t *Tree[V]) find(key any) *node[V] {
	if t.checkKey(key) != nil {
		return nil
	}
	n := t.root
	for n != nil {
		c := compare(key, n.key)
		switch {
		case c == 0:
			return n
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	return nil
}

// Search returns the value bound to key. Keys of another kind are never found.
func (t *Tree[V]) Search(key any) (V, bool) {
	n := t.find(key)
	if n == nil {
		var zero V
		return zero, false
	}
	return n.value, true
}

func (t *Tree[V]) Contains(key any) bool { return t.find(key) != nil }

// Delete removes key. A node with two children takes its in-order
// successor's key and value, and the successor is removed from the right subtree.
func (t *Tree[V]) Delete(key any) bool {
	if t.checkKey(key) != nil {
		return false
	}

	var parent *node[V]
	n := t.root
	for n != nil {
		c := compare(key, n.key)
		if c == 0 {
			break
		}
		parent = n
		if c < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	if n == nil {
		return false
	}

	if n.left != nil && n.right != nil {
		succ_parent := n
		succ := n.right
		for succ.left != nil {
			succ_parent = succ
			succ = succ.left
		}
		n.key, n.value = succ.key, succ.value
		// the successor has no left child
		if succ_parent == n {
			succ_parent.right = succ.right
		} else {
			succ_parent.left = succ.right
		}
	} else {
		child := n.left
		if child == nil {
			child = n.right
		}
		switch {
		case parent == nil:
			t.root = child
		case parent.left == n:
			parent.left = child
		default:
			parent.right = child
		}
	}

	t.size--
	if t.size == 0 {
		t.kind = record.KindNil
	}
	return true
}

func (t *Tree[V]) Min() (any, bool) {
	if t.root == nil {
		return nil, false
	}
	n := t.root
	for n.left != nil {
		n = n.left
	}
	return n.key, true
}

func (t *Tree[V]) Max() (any, bool) {
	if t.root == nil {
		return nil, false
	}
	n := t.root
	for n.right != nil {
		n = n.right
	}
	return n.key, true
}

// Walk visits entries in ascending key order until f returns false.
func (t *Tree[V]) Walk(f func(key any, value V) bool) {
	stack := []*node[V]{}
	n := t.root
	for n != nil || len(stack) > 0 {
		for n != nil {
			stack = append(stack, n)
			n = n.left
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !f(n.key, n.value) {
			return
		}
		n = n.right
	}
}

// InOrder returns every entry in ascending key order.
func (t *Tree[V]) InOrder() []Entry[V] {
	out := make([]Entry[V], 0, t.size)
	t.Walk(func(key any, value V) bool {
		out = append(out, Entry[V]{key, value})
		return true
	})
	return out
}

// PreOrder returns every entry with each node before its subtrees.
func (t *Tree[V]) PreOrder() []Entry[V] {
	out := make([]Entry[V], 0, t.size)
	if t.root == nil {
		return out
	}
	stack := []*node[V]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, Entry[V]{n.key, n.value})
		if n.right != nil {
			stack = append(stack, n.right)
		}
		if n.left != nil {
			stack = append(stack, n.left)
		}
	}
	return out
}

// PostOrder returns every entry with each node after its subtrees.
func (t *Tree[V]) PostOrder() []Entry[V] {
	out := make([]Entry[V], 0, t.size)
	if t.root == nil {
		return out
	}
	// node, right, left reversed is left, right, node
	stack := []*node[V]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, Entry[V]{n.key, n.value})
		if n.left != nil {
			stack = append(stack, n.left)
		}
		if n.right != nil {
			stack = append(stack, n.right)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ToMap returns every key bound to its value.
func (t *Tree[V]) ToMap() map[any]V {
	out := make(map[any]V, t.size)
	t.Walk(func(key any, value V) bool {
		out[key] = value
		return true
	})
	return out
}

// Range returns entries with min <= key <= max in ascending order.
func (t *Tree[V]) Range(min, max any) ([]Entry[V], error) {
	if err := t.checkKey(min); err != nil {
		return nil, err
	}
	if err := t.checkKey(max); err != nil {
		return nil, err
	}
	out := []Entry[V]{}
	t.Walk(func(key any, value V) bool {
		if compare(key, max) > 0 {
			return false
		}
		if compare(key, min) >= 0 {
			out = append(out, Entry[V]{key, value})
		}
		return true
	})
	return out, nil
}

func (t *Tree[V]) Len() int { return t.size }

func (t *Tree[V]) IsEmpty() bool { return t.root == nil }

// Height is the number of nodes on the longest root-to-leaf path.
func (t *Tree[V]) Height() int {
	if t.root == nil {
		return 0
	}
	type level struct {
		n     *node[V]
		depth int
	}
	height := 0
	queue := []level{{t.root, 1}}
	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]
		if l.depth > height {
			height = l.depth
		}
		if l.n.left != nil {
			queue = append(queue, level{l.n.left, l.depth + 1})
		}
		if l.n.right != nil {
			queue = append(queue, level{l.n.right, l.depth + 1})
		}
	}
	return height
}

func (t *Tree[V]) Clear() {
	t.root = nil
	t.size = 0
	t.kind = record.KindNil
}
