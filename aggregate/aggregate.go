// Package aggregate composes cache-backed leaves into higher-level values:
// read-side status summaries reducing many leaves to one, and write-side
// fan-outs broadcasting one value or command to many leaves. Both are bound
// against the composed hierarchy once, at initialisation; a filter that
// fails to match the live topology is fatal to the aggregate, not retried.
package aggregate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/DiamondLightSource/odinmirror/binding"
	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/hierarchy"
	"github.com/DiamondLightSource/odinmirror/metric"
)

// Option configures instrumentation on a fan.
type Option func(*instrumentation)

// instrumentation carries the optional metric hooks of a fan.
type instrumentation struct {
	metrics *metric.Metrics
}

// WithMetrics records every fan-out broadcast on the core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(i *instrumentation) {
		i.metrics = m
	}
}

// observeFanOut counts one completed broadcast by outcome.
func (i instrumentation) observeFanOut(name string, err error) {
	if i.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	i.metrics.FanOutWrites.WithLabelValues(name, status).Inc()
}

// Tree is the composed hierarchy aggregates resolve against.
type Tree = hierarchy.Node[*binding.Leaf]

// Summary is a read-only composite: the named leaf of every node matched by
// the path filter, folded by a reducer. The leaf set is bound once at
// construction; the reduction is recomputed on every read, with freshness
// coming entirely from the underlying leaf caches.
type Summary struct {
	Name   string
	leaves []*binding.Leaf
	reduce Reducer
}

// NewSummary resolves the filter against root and binds the named leaf from
// every matched node. A filter step matching nothing, or a matched node
// lacking the leaf, aborts construction with a NotFound error: the static
// declaration no longer matches the device topology.
func NewSummary(name string, root *Tree, filter []hierarchy.Step, leafName string, reduce Reducer) (*Summary, error) {
	nodes, err := hierarchy.Resolve(root, filter)
	if err != nil {
		return nil, err
	}

	leaves := make([]*binding.Leaf, 0, len(nodes))
	for _, node := range nodes {
		leaf, ok := node.Value(leafName)
		if !ok {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: attribute %q required by summary %q", errors.ErrNotFound, leafName, name),
				"Summary", "NewSummary", "bind leaf")
		}
		leaves = append(leaves, leaf)
	}

	return &Summary{Name: name, leaves: leaves, reduce: reduce}, nil
}

// Targets returns the number of bound leaves.
func (s *Summary) Targets() int {
	return len(s.leaves)
}

// Read reads every bound leaf concurrently and reduces the collected values.
func (s *Summary) Read(ctx context.Context) (any, error) {
	values, err := readAll(ctx, s.leaves)
	if err != nil {
		return nil, err
	}
	return s.reduce(values)
}

// ConfigFan is a read-write composite over a fixed list of target leaves,
// bound once at construction. Writes broadcast to every target; reads report
// the common value, or the configured fallback when the targets have
// drifted apart.
type ConfigFan struct {
	Name     string
	Fallback any

	targets []*binding.Leaf
	instr   instrumentation
}

// NewConfigFan creates a fan over the target leaves. Every target must be
// writeable.
func NewConfigFan(name string, targets []*binding.Leaf, fallback any, opts ...Option) (*ConfigFan, error) {
	if len(targets) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: fan %q", errors.ErrNoTargets, name),
			"ConfigFan", "NewConfigFan", "bind targets")
	}
	for _, target := range targets {
		if !target.Writeable {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: fan %q target %s", errors.ErrNotWriteable, name, target.Name),
				"ConfigFan", "NewConfigFan", "bind targets")
		}
	}
	fan := &ConfigFan{Name: name, Fallback: fallback, targets: targets}
	for _, opt := range opts {
		opt(&fan.instr)
	}
	return fan, nil
}

// Targets returns the bound target leaves.
func (f *ConfigFan) Targets() []*binding.Leaf {
	return f.targets
}

// Write broadcasts value to every target concurrently. The broadcast is not
// atomic: a failed target does not roll back the others, and the first error
// is reported only after every attempt has completed.
func (f *ConfigFan) Write(ctx context.Context, value any) error {
	var group errgroup.Group
	for _, target := range f.targets {
		target := target
		group.Go(func() error {
			return target.Write(ctx, value)
		})
	}
	err := group.Wait()
	f.instr.observeFanOut(f.Name, err)
	return err
}

// Read reads every target concurrently. If all targets agree the common
// value is returned; if they diverge the fallback is returned instead of
// guessing, surfacing the drift to the caller.
func (f *ConfigFan) Read(ctx context.Context) (any, error) {
	values, err := readAll(ctx, f.targets)
	if err != nil {
		return nil, err
	}

	first := values[0]
	for _, value := range values[1:] {
		if value != first {
			return f.Fallback, nil
		}
	}
	return first, nil
}

// Action is a bound zero-argument command invocation.
type Action func(ctx context.Context) error

// CommandFan invokes a named action on a fixed set of targets. All targets
// must resolve to an invocable action when the fan is constructed.
type CommandFan struct {
	Name    string
	actions []Action
	instr   instrumentation
}

// NewCommandFan creates a fan over bound actions. A nil action means a
// target could not be resolved to something invocable, which fails the
// whole construction.
func NewCommandFan(name string, actions []Action, opts ...Option) (*CommandFan, error) {
	if len(actions) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: command fan %q", errors.ErrNoTargets, name),
			"CommandFan", "NewCommandFan", "bind actions")
	}
	for i, action := range actions {
		if action == nil {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: command fan %q target %d is not invocable", errors.ErrNotFound, name, i),
				"CommandFan", "NewCommandFan", "bind actions")
		}
	}
	fan := &CommandFan{Name: name, actions: actions}
	for _, opt := range opts {
		opt(&fan.instr)
	}
	return fan, nil
}

// Invoke runs every bound action concurrently and fails if any invocation
// fails.
func (f *CommandFan) Invoke(ctx context.Context) error {
	var group errgroup.Group
	for _, action := range f.actions {
		action := action
		group.Go(func() error {
			return action(ctx)
		})
	}
	err := group.Wait()
	f.instr.observeFanOut(f.Name, err)
	if err != nil {
		return errors.Wrap(err, "CommandFan", "Invoke", f.Name)
	}
	return nil
}

// readAll reads every leaf concurrently, preserving input order.
func readAll(ctx context.Context, leaves []*binding.Leaf) ([]any, error) {
	if len(leaves) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNoTargets, "aggregate", "readAll", "collect values")
	}

	values := make([]any, len(leaves))
	var group errgroup.Group
	for i, leaf := range leaves {
		i, leaf := i, leaf
		group.Go(func() error {
			value, err := leaf.Read(ctx)
			if err != nil {
				return err
			}
			values[i] = value
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}
