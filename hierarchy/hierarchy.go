// Package hierarchy provides the composed node tree built from adapter
// controllers and the path-filter resolution used to gather sets of nodes
// for aggregation. The tree is built once during initialisation; structure
// is stable afterward while leaf values keep changing.
package hierarchy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/DiamondLightSource/odinmirror/errors"
)

// Node is one node in the composed hierarchy: named children below it and
// named leaf values of type V on it.
type Node[V any] struct {
	children map[string]*Node[V]
	values   map[string]V
}

// NewNode creates an empty node.
func NewNode[V any]() *Node[V] {
	return &Node[V]{
		children: make(map[string]*Node[V]),
		values:   make(map[string]V),
	}
}

// AddChild attaches a named child node. Adding a duplicate name is an
// invalid-configuration error, since structure must be stable once built.
func (n *Node[V]) AddChild(name string, child *Node[V]) error {
	if _, exists := n.children[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: child %q", errors.ErrDuplicateName, name),
			"Node", "AddChild", "attach child")
	}
	n.children[name] = child
	return nil
}

// AddValue attaches a named leaf value.
func (n *Node[V]) AddValue(name string, value V) error {
	if _, exists := n.values[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: value %q", errors.ErrDuplicateName, name),
			"Node", "AddValue", "attach value")
	}
	n.values[name] = value
	return nil
}

// Child returns the named child node.
func (n *Node[V]) Child(name string) (*Node[V], bool) {
	child, ok := n.children[name]
	return child, ok
}

// Value returns the named leaf value.
func (n *Node[V]) Value(name string) (V, bool) {
	value, ok := n.values[name]
	return value, ok
}

// ChildNames returns the sorted names of all children.
func (n *Node[V]) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValueNames returns the sorted names of all leaf values.
func (n *Node[V]) ValueNames() []string {
	names := make([]string, 0, len(n.values))
	for name := range n.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Walk visits this node and every descendant depth-first in sorted child
// order.
func (n *Node[V]) Walk(visit func(path []string, node *Node[V])) {
	n.walk(nil, visit)
}

func (n *Node[V]) walk(path []string, visit func(path []string, node *Node[V])) {
	visit(path, n)
	for _, name := range n.ChildNames() {
		child := n.children[name]
		childPath := make([]string, len(path)+1)
		copy(childPath, path)
		childPath[len(path)] = name
		child.walk(childPath, visit)
	}
}

// Step is one element of a path filter, matched against the child names of
// one level of the hierarchy.
type Step interface {
	// Select returns the sorted child names matched at this node, or a
	// NotFound error when the step matches nothing.
	Select(node childSet) ([]string, error)
	String() string
}

// childSet is the minimal node surface a step matches against.
type childSet interface {
	ChildNames() []string
	hasChild(name string) bool
}

func (n *Node[V]) hasChild(name string) bool {
	_, ok := n.children[name]
	return ok
}

// literalStep selects exactly one named child.
type literalStep struct {
	key string
}

// Key creates a filter step selecting the single child with this name.
func Key(name string) Step {
	return literalStep{key: name}
}

func (s literalStep) Select(node childSet) ([]string, error) {
	if !node.hasChild(s.key) {
		return nil, fmt.Errorf("%w: child %q", errors.ErrNotFound, s.key)
	}
	return []string{s.key}, nil
}

func (s literalStep) String() string {
	return s.key
}

// setStep selects each named child of a fixed set.
type setStep struct {
	keys []string
}

// Keys creates a filter step selecting every named child of the set. Each
// name must exist.
func Keys(names ...string) Step {
	return setStep{keys: names}
}

func (s setStep) Select(node childSet) ([]string, error) {
	selected := make([]string, 0, len(s.keys))
	for _, key := range s.keys {
		if !node.hasChild(key) {
			return nil, fmt.Errorf("%w: child %q", errors.ErrNotFound, key)
		}
		selected = append(selected, key)
	}
	sort.Strings(selected)
	return selected, nil
}

func (s setStep) String() string {
	return "(" + strings.Join(s.keys, "|") + ")"
}

// patternStep selects every child whose name matches the pattern.
type patternStep struct {
	pattern *regexp.Regexp
}

// Match creates a filter step selecting every child whose name matches the
// regular expression. The pattern is anchored at the start of the name.
// Match panics on an invalid pattern; filters are static declarations.
func Match(pattern string) Step {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^(?:" + pattern + ")"
	}
	return patternStep{pattern: regexp.MustCompile(pattern)}
}

func (s patternStep) Select(node childSet) ([]string, error) {
	var selected []string
	for _, name := range node.ChildNames() {
		if s.pattern.MatchString(name) {
			selected = append(selected, name)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no child matching %q", errors.ErrNotFound, s.pattern)
	}
	return selected, nil
}

func (s patternStep) String() string {
	return s.pattern.String()
}

// Resolve walks the filter steps depth-first against the hierarchy and
// returns every node at depth len(filter) selected by the final step. Any
// step that matches nothing aborts the whole resolution: a static filter
// failing to match the live topology is a structural error the caller must
// see, never a condition to swallow.
func Resolve[V any](root *Node[V], filter []Step) ([]*Node[V], error) {
	if len(filter) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty path filter", errors.ErrInvalidData),
			"hierarchy", "Resolve", "validate filter")
	}
	return resolve(root, filter, nil)
}

func resolve[V any](node *Node[V], filter []Step, path []string) ([]*Node[V], error) {
	step := filter[0]
	names, err := step.Select(node)
	if err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%v at %q: %w", step, "/"+strings.Join(path, "/"), err),
			"hierarchy", "Resolve", "match step")
	}

	var matched []*Node[V]
	for _, name := range names {
		child := node.children[name]
		if len(filter) == 1 {
			matched = append(matched, child)
			continue
		}

		childPath := make([]string, len(path)+1)
		copy(childPath, path)
		childPath[len(path)] = name

		deeper, err := resolve(child, filter[1:], childPath)
		if err != nil {
			return nil, err
		}
		matched = append(matched, deeper...)
	}
	return matched, nil
}
