// Package binding turns flattened parameters into cache-backed leaves: a
// closed, typed table mapping parameter names to read/write functions over a
// shared subtree cache. The table is the boundary consumed by the layer that
// exposes parameters as control-system endpoints.
package binding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/param"
	"github.com/DiamondLightSource/odinmirror/treecache"
)

// DefaultUpdatePeriod is the staleness budget applied to leaf reads when the
// builder is not configured with one.
const DefaultUpdatePeriod = 200 * time.Millisecond

// Leaf is one bound parameter: a descriptor plus read/write access backed by
// the subtree cache owning the parameter's prefix.
type Leaf struct {
	Name          string
	Type          param.ValueType
	Writeable     bool
	Group         string
	AllowedValues map[int]string

	path         string
	cache        *treecache.Cache
	updatePeriod time.Duration
}

// Path returns the slash-separated path of the leaf relative to its cache
// prefix.
func (l *Leaf) Path() string {
	return l.path
}

// Read returns the current value of the leaf, coerced to its declared type.
// The read is served from the cache within the leaf's update period.
func (l *Leaf) Read(ctx context.Context) (any, error) {
	value, err := l.cache.Get(ctx, l.path, l.updatePeriod)
	if err != nil {
		return nil, err
	}

	coerced, err := l.Type.Coerce(value)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Leaf", "Read", "coerce "+l.Name)
	}
	return coerced, nil
}

// Write writes a value through the cache to the server. Writing to a
// non-writeable leaf fails without contacting the server.
func (l *Leaf) Write(ctx context.Context, value any) error {
	if !l.Writeable {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrNotWriteable, l.Name),
			"Leaf", "Write", "check writeability")
	}

	coerced, err := l.Type.Coerce(value)
	if err != nil {
		return errors.WrapInvalid(err, "Leaf", "Write", "coerce "+l.Name)
	}
	return l.cache.Put(ctx, l.path, coerced)
}

// Builder produces a closed leaf table from flattened parameters. Every leaf
// shares the builder's cache; one builder exists per adapter prefix.
type Builder struct {
	cache        *treecache.Cache
	updatePeriod time.Duration
	log          *slog.Logger
}

// NewBuilder creates a Builder binding leaves to the given cache. An
// updatePeriod of zero falls back to DefaultUpdatePeriod.
func NewBuilder(cache *treecache.Cache, updatePeriod time.Duration, log *slog.Logger) *Builder {
	if updatePeriod <= 0 {
		updatePeriod = DefaultUpdatePeriod
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		cache:        cache,
		updatePeriod: updatePeriod,
		log:          log,
	}
}

// Bind creates a leaf for a single parameter.
func (b *Builder) Bind(p *param.Parameter) *Leaf {
	return &Leaf{
		Name:          p.Name(),
		Type:          p.Metadata.Type,
		Writeable:     p.Metadata.Writeable,
		Group:         groupOf(p),
		AllowedValues: p.Metadata.AllowedValues,
		path:          strings.Join(p.URI, "/"),
		cache:         b.cache,
		updatePeriod:  b.updatePeriod,
	}
}

// Build creates the leaf table for a list of parameters. Parameter names must
// be unique within the table; a collision is an invalid-configuration error
// since two leaves would shadow each other at the endpoint layer.
func (b *Builder) Build(parameters []*param.Parameter) (map[string]*Leaf, error) {
	leaves := make(map[string]*Leaf, len(parameters))
	for _, p := range parameters {
		name := p.Name()
		if _, exists := leaves[name]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrDuplicateName, name),
				"Builder", "Build", "bind parameter")
		}
		leaves[name] = b.Bind(p)
	}
	return leaves, nil
}

// groupOf derives the display group from the first reduced path segment when
// the path has at least two segments.
func groupOf(p *param.Parameter) string {
	path := p.Path()
	if len(path) < 2 {
		return ""
	}
	return snakeToPascal(path[0])
}

// snakeToPascal converts a snake_case segment to PascalCase.
func snakeToPascal(s string) string {
	var out strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			out.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}
