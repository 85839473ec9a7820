// Package adapters builds the controller hierarchy mirroring the adapters of
// an odin control server: one controller per adapter, with sub controllers
// for sharded processing applications and their plugins. Each controller
// binds its parameters into a shared composed tree that aggregation filters
// resolve against.
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DiamondLightSource/odinmirror/aggregate"
	"github.com/DiamondLightSource/odinmirror/binding"
	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/hierarchy"
	"github.com/DiamondLightSource/odinmirror/httpconn"
	"github.com/DiamondLightSource/odinmirror/metric"
	"github.com/DiamondLightSource/odinmirror/param"
	"github.com/DiamondLightSource/odinmirror/treecache"
)

// Tree is the composed hierarchy of bound leaves.
type Tree = hierarchy.Node[*binding.Leaf]

// CommandTree mirrors the leaf tree with the zero-argument command actions
// discovered on each controller.
type CommandTree = hierarchy.Node[aggregate.Action]

// Controller is one node of the adapter controller hierarchy.
type Controller interface {
	// Initialise introspects the remote adapter and binds its parameters.
	Initialise(ctx context.Context) error
	// Base returns the embedded SubController carrying the bound trees.
	Base() *SubController
}

// env carries the shared collaborators every controller in one hierarchy
// uses: the server connection, the per-prefix cache pool and the binding
// defaults.
type env struct {
	conn         *httpconn.Connection
	pool         *cachePool
	updatePeriod time.Duration
	log          *slog.Logger
	metrics      *metric.Metrics
}

// fanOptions returns the instrumentation to apply to every fan built in this
// hierarchy.
func (e env) fanOptions() []aggregate.Option {
	if e.metrics == nil {
		return nil
	}
	return []aggregate.Option{aggregate.WithMetrics(e.metrics)}
}

// cachePool hands out the subtree cache owning each remote prefix. Every
// controller bound under the same prefix shares one cache, and with it one
// in-flight fetch at a time.
type cachePool struct {
	mu      sync.Mutex
	fetcher treecache.Fetcher
	opts    []treecache.Option
	caches  map[string]*treecache.Cache
}

func newCachePool(fetcher treecache.Fetcher, opts ...treecache.Option) *cachePool {
	return &cachePool{
		fetcher: fetcher,
		opts:    opts,
		caches:  make(map[string]*treecache.Cache),
	}
}

func (p *cachePool) get(prefix string) *treecache.Cache {
	p.mu.Lock()
	defer p.mu.Unlock()

	cache, found := p.caches[prefix]
	if !found {
		cache = treecache.New(prefix, p.fetcher, p.opts...)
		p.caches[prefix] = cache
	}
	return cache
}

func (p *cachePool) prefixes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.caches))
	for name := range p.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubController is the base controller exposing the parameters of one remote
// prefix. Concrete controllers embed it and override Initialise to reshape
// their parameters before binding.
type SubController struct {
	env        env
	prefix     string
	parameters []*param.Parameter

	cache   *treecache.Cache
	builder *binding.Builder
	node    *Tree
	cmds    *CommandTree
	subs    map[string]Controller
}

func newSubController(e env, parameters []*param.Parameter, prefix string) *SubController {
	cache := e.pool.get(prefix)
	return &SubController{
		env:        e,
		prefix:     prefix,
		parameters: parameters,
		cache:      cache,
		builder:    binding.NewBuilder(cache, e.updatePeriod, e.log),
		node:       hierarchy.NewNode[*binding.Leaf](),
		cmds:       hierarchy.NewNode[aggregate.Action](),
		subs:       make(map[string]Controller),
	}
}

// Initialise binds every parameter of the controller into its node.
func (c *SubController) Initialise(ctx context.Context) error {
	return c.bindParameters()
}

// Base returns the controller itself.
func (c *SubController) Base() *SubController {
	return c
}

// Node returns the controller's leaf tree.
func (c *SubController) Node() *Tree {
	return c.node
}

// Commands returns the controller's command tree.
func (c *SubController) Commands() *CommandTree {
	return c.cmds
}

// Parameters returns the parameters still owned by this controller, after
// any partitioning into sub controllers.
func (c *SubController) Parameters() []*param.Parameter {
	return c.parameters
}

// Leaf returns the named bound leaf of this controller.
func (c *SubController) Leaf(name string) (*binding.Leaf, bool) {
	return c.node.Value(name)
}

// Descendants returns every controller below this one, depth-first in sorted
// name order.
func (c *SubController) Descendants() []Controller {
	names := make([]string, 0, len(c.subs))
	for name := range c.subs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Controller
	for _, name := range names {
		child := c.subs[name]
		out = append(out, child)
		out = append(out, child.Base().Descendants()...)
	}
	return out
}

// attach registers a named sub controller, linking its leaf and command trees
// below this controller's.
func (c *SubController) attach(name string, child Controller) error {
	base := child.Base()
	if err := c.node.AddChild(name, base.node); err != nil {
		return err
	}
	if err := c.cmds.AddChild(name, base.cmds); err != nil {
		return err
	}
	c.subs[name] = child
	return nil
}

// bindParameters creates a leaf per remaining parameter. A name clash keeps
// the first leaf and drops the later one with a warning, matching the
// tolerance of the server trees this mirrors.
func (c *SubController) bindParameters() error {
	for _, p := range c.parameters {
		name := p.Name()
		if _, exists := c.node.Value(name); exists {
			c.env.log.Warn("Dropping parameter shadowed by an earlier leaf",
				"prefix", c.prefix, "parameter", name)
			continue
		}
		if err := c.node.AddValue(name, c.builder.Bind(p)); err != nil {
			return err
		}
	}
	return nil
}

// bindStatic binds an explicitly declared leaf ahead of the introspected
// parameters, so the static declaration wins any name clash.
func (c *SubController) bindStatic(name string, uri []string, valueType param.ValueType, writeable bool) error {
	p := &param.Parameter{
		URI:      uri,
		Metadata: param.Metadata{Type: valueType, Writeable: writeable},
	}
	p.SetPath([]string{name})
	return c.node.AddValue(name, c.builder.Bind(p))
}

// reduceShardPaths re-homes the controller's parameters under its per-shard
// prefix: the leading shard index moves from the URI into the prefix, and the
// redundant status/config section is dropped from the display path.
func (c *SubController) reduceShardPaths() {
	for _, p := range c.parameters {
		p.URI = p.URI[1:]
		p.SetPath(p.URI[1:])
	}
}

// discoverCommands asks the adapter which commands the target supports and
// binds one action per allowed command. Adapters without command support
// reject the request; that is not an error, just no commands.
func (c *SubController) discoverCommands(ctx context.Context, target string) error {
	response, err := c.env.conn.Get(ctx, c.prefix+"/command/"+target+"/allowed")
	if err != nil {
		c.env.log.Debug("No commands discovered",
			"prefix", c.prefix, "target", target, "error", err)
		return nil
	}

	allowed, ok := response["allowed"].([]any)
	if !ok {
		return nil
	}

	for _, entry := range allowed {
		name, ok := entry.(string)
		if !ok {
			continue
		}
		if err := c.cmds.AddValue(name, c.commandAction(target, name)); err != nil {
			return err
		}
	}
	return nil
}

// commandAction builds the zero-argument action submitting a named command
// for execution on the adapter.
func (c *SubController) commandAction(target, command string) aggregate.Action {
	uri := c.prefix + "/command/" + target + "/execute"
	return func(ctx context.Context) error {
		c.env.log.Info("Executing command", "target", target, "command", command)
		response, err := c.env.conn.Put(ctx, uri, command)
		if err != nil {
			return err
		}
		if message, found := response["error"]; found {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrAdapterResponse, message),
				"SubController", "commandAction", "execute "+command)
		}
		return nil
	}
}

// Option configures the controller hierarchy built by NewRoot.
type Option func(*rootConfig)

type rootConfig struct {
	updatePeriod time.Duration
	timerWindow  int
	log          *slog.Logger
	metrics      *metric.Registry
}

// WithUpdatePeriod sets the staleness budget applied to every leaf read.
func WithUpdatePeriod(period time.Duration) Option {
	return func(c *rootConfig) {
		if period > 0 {
			c.updatePeriod = period
		}
	}
}

// WithLogger sets the logger shared by the controller hierarchy.
func WithLogger(log *slog.Logger) Option {
	return func(c *rootConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTimerWindow sets the rolling window size of the cache fetch timers.
func WithTimerWindow(samples int) Option {
	return func(c *rootConfig) {
		if samples > 0 {
			c.timerWindow = samples
		}
	}
}

// WithMetrics exposes cache and fan-out metrics on the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(c *rootConfig) {
		c.metrics = registry
	}
}
