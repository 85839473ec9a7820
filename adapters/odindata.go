package adapters

import (
	"context"
	"fmt"
	"sort"
	"unicode"

	"github.com/DiamondLightSource/odinmirror/aggregate"
	"github.com/DiamondLightSource/odinmirror/binding"
	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/hierarchy"
	"github.com/DiamondLightSource/odinmirror/param"
)

// OdinDataController exposes the parameters of one odin-data processing
// application, re-homed under the application's per-shard prefix.
type OdinDataController struct {
	*SubController
}

func newOdinDataController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &OdinDataController{SubController: newSubController(e, parameters, prefix)}
}

func (c *OdinDataController) Initialise(ctx context.Context) error {
	c.reduceShardPaths()
	return c.bindParameters()
}

// shardConstructor builds the controller for one shard of an odin-data
// adapter.
type shardConstructor func(e env, parameters []*param.Parameter, prefix string) Controller

// OdinDataAdapterController mirrors an adapter fronting N identical
// processing applications. Parameters under a leading integer segment are
// partitioned into one sub controller per shard; config parameters shared by
// every shard additionally get a fan-out writing all shards at once.
type OdinDataAdapterController struct {
	*SubController

	label    string
	newShard shardConstructor
	unique   map[string]struct{}

	fans map[string]*aggregate.ConfigFan
}

func newOdinDataAdapterController(
	e env,
	parameters []*param.Parameter,
	prefix string,
	label string,
	newShard shardConstructor,
	uniqueConfig []string,
) *OdinDataAdapterController {
	unique := make(map[string]struct{}, len(uniqueConfig))
	for _, key := range uniqueConfig {
		unique[key] = struct{}{}
	}
	return &OdinDataAdapterController{
		SubController: newSubController(e, parameters, prefix),
		label:         label,
		newShard:      newShard,
		unique:        unique,
		fans:          make(map[string]*aggregate.ConfigFan),
	}
}

func (c *OdinDataAdapterController) Initialise(ctx context.Context) error {
	if err := c.initialiseShards(ctx); err != nil {
		return err
	}
	if err := c.bindParameters(); err != nil {
		return err
	}
	return c.createConfigFans()
}

// ConfigFans returns the fan-outs over config parameters shared by every
// shard, keyed by parameter name.
func (c *OdinDataAdapterController) ConfigFans() map[string]*aggregate.ConfigFan {
	return c.fans
}

// initialiseShards splits off the parameters under each leading integer
// segment into a per-shard sub controller labelled <label><idx>.
func (c *OdinDataAdapterController) initialiseShards(ctx context.Context) error {
	idxParameters, rest := param.Partition(c.parameters, func(p *param.Parameter) bool {
		return len(p.URI) > 0 && isInteger(p.URI[0])
	})
	c.parameters = rest

	for len(idxParameters) > 0 {
		idx := idxParameters[0].URI[0]
		var shardParameters []*param.Parameter
		shardParameters, idxParameters = param.Partition(idxParameters, func(p *param.Parameter) bool {
			return p.URI[0] == idx
		})

		shard := c.newShard(c.env, shardParameters, c.prefix+"/"+idx)
		if err := c.attach(c.label+idx, shard); err != nil {
			return err
		}
		if err := shard.Initialise(ctx); err != nil {
			return err
		}
	}
	return nil
}

// createConfigFans searches every sub controller for config parameters shared
// across shards and builds one fan-out per parameter name. Per-shard unique
// config keys are skipped: broadcasting a rank or endpoint to every shard
// would corrupt the deployment.
func (c *OdinDataAdapterController) createConfigFans() error {
	type fanSpec struct {
		parameter *param.Parameter
		targets   []*binding.Leaf
	}
	specs := make(map[string]*fanSpec)

	for _, sub := range c.Descendants() {
		base := sub.Base()
		for _, p := range base.Parameters() {
			if len(p.URI) == 0 {
				continue
			}
			mode, key := p.URI[0], p.URI[len(p.URI)-1]
			if mode != "config" {
				continue
			}
			if _, skip := c.unique[key]; skip {
				continue
			}

			leaf, found := base.Leaf(p.Name())
			if !found {
				c.env.log.Warn("Controller has a config parameter but no bound leaf",
					"prefix", base.prefix, "parameter", p.Name())
				continue
			}

			spec, exists := specs[p.Name()]
			if !exists {
				spec = &fanSpec{parameter: p}
				specs[p.Name()] = spec
			}
			spec.targets = append(spec.targets, leaf)
		}
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := specs[name]
		fan, err := aggregate.NewConfigFan(name, spec.targets,
			spec.parameter.Metadata.Type.Zero(), c.env.fanOptions()...)
		if err != nil {
			return err
		}
		c.fans[name] = fan
	}
	return nil
}

// collectCommandFan binds the named command from every node matched by the
// filter into one fan. A node missing the command while its siblings have it
// is a topology error; no node having it at all just means the fan does not
// exist on this deployment.
func (c *OdinDataAdapterController) collectCommandFan(name string, filter []hierarchy.Step) (*aggregate.CommandFan, error) {
	nodes, err := hierarchy.Resolve(c.cmds, filter)
	if err != nil {
		return nil, err
	}

	var actions []aggregate.Action
	missing := 0
	for _, node := range nodes {
		action, found := node.Value(name)
		if !found {
			missing++
			continue
		}
		actions = append(actions, action)
	}

	if len(actions) == 0 {
		c.env.log.Warn("No targets expose command, skipping fan",
			"prefix", c.prefix, "command", name)
		return nil, nil
	}
	if missing > 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: command %q missing on %d of %d fan targets",
				errors.ErrNotFound, name, missing, len(nodes)),
			"OdinDataAdapterController", "collectCommandFan", "bind commands")
	}
	return aggregate.NewCommandFan(name, actions, c.env.fanOptions()...)
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
