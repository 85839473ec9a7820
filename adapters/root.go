package adapters

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DiamondLightSource/odinmirror/aggregate"
	"github.com/DiamondLightSource/odinmirror/binding"
	"github.com/DiamondLightSource/odinmirror/hierarchy"
	"github.com/DiamondLightSource/odinmirror/httpconn"
	"github.com/DiamondLightSource/odinmirror/param"
	"github.com/DiamondLightSource/odinmirror/treecache"
)

// Module names reported by the server for the adapter types with dedicated
// controllers. Anything else gets the generic controller.
const (
	AdapterFrameProcessor = "FrameProcessorAdapter"
	AdapterFrameReceiver  = "FrameReceiverAdapter"
	AdapterMetaListener   = "MetaListenerAdapter"
	AdapterEigerFan       = "EigerFanAdapter"
	AdapterOdinData       = "OdinDataAdapter"
)

// Root is the top of the controller hierarchy for one odin control server.
// Initialise discovers the loaded adapters, introspects each one's parameter
// tree and builds a controller per adapter.
type Root struct {
	env       env
	flattener *param.Flattener

	node        *Tree
	cmds        *CommandTree
	controllers map[string]Controller
}

// NewRoot creates a Root over the given server connection.
func NewRoot(conn *httpconn.Connection, opts ...Option) *Root {
	cfg := rootConfig{
		updatePeriod: binding.DefaultUpdatePeriod,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cacheOpts := []treecache.Option{treecache.WithLogger(cfg.log)}
	if cfg.metrics != nil {
		cacheOpts = append(cacheOpts, treecache.WithMetrics(cfg.metrics))
	}
	if cfg.timerWindow > 0 {
		cacheOpts = append(cacheOpts, treecache.WithTimerWindow(cfg.timerWindow))
	}

	e := env{
		conn:         conn,
		pool:         newCachePool(conn, cacheOpts...),
		updatePeriod: cfg.updatePeriod,
		log:          cfg.log,
	}
	if cfg.metrics != nil {
		e.metrics = cfg.metrics.CoreMetrics()
	}

	return &Root{
		env: e,
		flattener:   param.NewFlattener(cfg.log),
		node:        hierarchy.NewNode[*binding.Leaf](),
		cmds:        hierarchy.NewNode[aggregate.Action](),
		controllers: make(map[string]Controller),
	}
}

// Initialise discovers the server's adapters and builds a controller for each
// one. Any adapter failing to initialise fails the whole hierarchy; a half
// mirrored server is worse than an absent one.
func (r *Root) Initialise(ctx context.Context) error {
	adapters, err := r.env.conn.GetAdapters(ctx)
	if err != nil {
		return err
	}

	for _, adapter := range adapters {
		response, err := r.env.conn.GetMetadata(ctx, adapter)
		if err != nil {
			return err
		}

		controller := r.createController(moduleOf(response), r.flattener.Flatten(response), adapter)
		name := strings.ToUpper(adapter)

		base := controller.Base()
		if err := r.node.AddChild(name, base.node); err != nil {
			return err
		}
		if err := r.cmds.AddChild(name, base.cmds); err != nil {
			return err
		}
		r.controllers[name] = controller

		if err := controller.Initialise(ctx); err != nil {
			return err
		}
		r.env.log.Info("Initialised adapter controller",
			"adapter", adapter, "module", moduleOf(response),
			"parameters", len(base.Parameters()))
	}
	return nil
}

// createController picks the controller type for an adapter from the module
// name it reports.
func (r *Root) createController(module string, parameters []*param.Parameter, adapter string) Controller {
	switch module {
	case AdapterFrameProcessor:
		return newFrameProcessorAdapterController(r.env, parameters, adapter)
	case AdapterFrameReceiver:
		return newFrameReceiverAdapterController(r.env, parameters, adapter)
	case AdapterMetaListener:
		return newMetaWriterController(r.env, parameters, adapter)
	case AdapterEigerFan:
		return newEigerFanController(r.env, parameters, adapter)
	case AdapterOdinData:
		// Combined odin-data adapter without a specialised controller: plain
		// OD shards, no per-shard unique config declared.
		return newOdinDataAdapterController(r.env, parameters, adapter,
			"OD", newOdinDataController, nil)
	default:
		return newSubController(r.env, parameters, adapter)
	}
}

// Node returns the composed leaf tree of every adapter.
func (r *Root) Node() *Tree {
	return r.node
}

// Commands returns the composed command tree of every adapter.
func (r *Root) Commands() *CommandTree {
	return r.cmds
}

// Controller returns the controller of the named (uppercased) adapter.
func (r *Root) Controller(name string) (Controller, bool) {
	controller, found := r.controllers[name]
	return controller, found
}

// Table flattens the composed tree into one closed table of leaves, keyed by
// the node path and leaf name joined with dots.
func (r *Root) Table() map[string]*binding.Leaf {
	table := make(map[string]*binding.Leaf)
	r.node.Walk(func(path []string, node *Tree) {
		for _, name := range node.ValueNames() {
			leaf, _ := node.Value(name)
			table[strings.Join(append(path, name), ".")] = leaf
		}
	})
	return table
}

// Summaries gathers the status summaries of every adapter, keyed by adapter
// and summary name.
func (r *Root) Summaries() map[string]*aggregate.Summary {
	out := make(map[string]*aggregate.Summary)
	for name, controller := range r.controllers {
		fp, ok := controller.(*FrameProcessorAdapterController)
		if !ok {
			continue
		}
		for summaryName, summary := range fp.Summaries() {
			out[name+"."+summaryName] = summary
		}
	}
	return out
}

// ConfigFans gathers the config fan-outs of every sharded adapter, keyed by
// adapter and parameter name.
func (r *Root) ConfigFans() map[string]*aggregate.ConfigFan {
	out := make(map[string]*aggregate.ConfigFan)
	for name, controller := range r.controllers {
		fanned, ok := controller.(interface {
			ConfigFans() map[string]*aggregate.ConfigFan
		})
		if !ok {
			continue
		}
		for fanName, fan := range fanned.ConfigFans() {
			out[name+"."+fanName] = fan
		}
	}
	return out
}

// CommandFans gathers the command fans of every adapter, keyed by adapter and
// command name.
func (r *Root) CommandFans() map[string]*aggregate.CommandFan {
	out := make(map[string]*aggregate.CommandFan)
	for name, controller := range r.controllers {
		fanned, ok := controller.(interface {
			CommandFans() map[string]*aggregate.CommandFan
		})
		if !ok {
			continue
		}
		for fanName, fan := range fanned.CommandFans() {
			out[name+"."+fanName] = fan
		}
	}
	return out
}

// CacheStats snapshots the statistics of every subtree cache, keyed by
// prefix.
func (r *Root) CacheStats() map[string]treecache.StatsSummary {
	out := make(map[string]treecache.StatsSummary)
	for _, prefix := range r.env.pool.prefixes() {
		out[prefix] = r.env.pool.get(prefix).Stats().Summary()
	}
	return out
}

// moduleOf extracts the module name an adapter reports in its metadata.
func moduleOf(response map[string]any) string {
	leaf, ok := response["module"].(map[string]any)
	if !ok {
		return ""
	}
	module, _ := leaf["value"].(string)
	return module
}
