package adapters

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/DiamondLightSource/odinmirror/aggregate"
	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/hierarchy"
	"github.com/DiamondLightSource/odinmirror/param"
)

// frameProcessorUniqueConfig lists the config keys that are deliberately
// different on every frame processor shard and must never be fanned out.
var frameProcessorUniqueConfig = []string{
	"rank",
	"number",
	"ctrl_endpoint",
	"meta_endpoint",
	"fr_ready_cnxn",
	"fr_release_cnxn",
}

// frameProcessorShardFilter matches the HDF plugin of every frame processor
// shard below the adapter controller.
var frameProcessorShardFilter = []hierarchy.Step{
	hierarchy.Match("FP[0-9]+"),
	hierarchy.Key("HDF"),
}

// FrameProcessorController exposes one frameProcessor application: the
// plugins reported by the application each become a sub controller holding
// their parameters.
type FrameProcessorController struct {
	*SubController
}

func newFrameProcessorController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &FrameProcessorController{SubController: newSubController(e, parameters, prefix)}
}

func (c *FrameProcessorController) Initialise(ctx context.Context) error {
	plugins, err := c.discoverPlugins(ctx)
	if err != nil {
		return err
	}

	c.reduceShardPaths()

	for _, plugin := range plugins {
		pluginParameters, rest := param.Partition(c.parameters, func(p *param.Parameter) bool {
			path := p.Path()
			return len(path) > 0 && path[0] == plugin
		})
		c.parameters = rest

		pluginController := newFrameProcessorPluginController(c.env, pluginParameters, c.prefix, plugin)
		if err := c.attach(strings.ToUpper(plugin), pluginController); err != nil {
			return err
		}
		if err := pluginController.Initialise(ctx); err != nil {
			return err
		}
	}

	return c.bindParameters()
}

// discoverPlugins asks the application which plugins are loaded.
func (c *FrameProcessorController) discoverPlugins(ctx context.Context) ([]string, error) {
	response, err := c.env.conn.Get(ctx, c.prefix+"/status/plugins/names")
	if err != nil {
		return nil, err
	}

	list, ok := response["names"].([]any)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no plugins in response %v", errors.ErrBadResponse, response),
			"FrameProcessorController", "discoverPlugins", "parse plugins list")
	}

	plugins := make([]string, 0, len(list))
	for _, entry := range list {
		name, ok := entry.(string)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: invalid plugins list %v", errors.ErrBadResponse, list),
				"FrameProcessorController", "discoverPlugins", "parse plugins list")
		}
		plugins = append(plugins, name)
	}
	return plugins, nil
}

// FrameProcessorPluginController exposes one plugin of a frameProcessor
// application, with its commands and any dataset parameters split into a
// nested DS controller.
type FrameProcessorPluginController struct {
	*SubController

	plugin string
}

func newFrameProcessorPluginController(e env, parameters []*param.Parameter, prefix, plugin string) *FrameProcessorPluginController {
	return &FrameProcessorPluginController{
		SubController: newSubController(e, parameters, prefix),
		plugin:        plugin,
	}
}

func (c *FrameProcessorPluginController) Initialise(ctx context.Context) error {
	if err := c.discoverCommands(ctx, c.plugin); err != nil {
		return err
	}
	if err := c.createDatasetController(ctx); err != nil {
		return err
	}

	for _, p := range c.parameters {
		c.reducePluginPath(p)
	}
	return c.bindParameters()
}

// reducePluginPath drops the plugin name already present in the controller's
// position, and renames the two status leaves of the file writer that would
// otherwise clash with their config counterparts.
func (c *FrameProcessorPluginController) reducePluginPath(p *param.Parameter) {
	p.SetPath(p.Path()[1:])

	switch {
	case slices.Equal(p.URI, []string{"status", "hdf", "file_path"}):
		p.SetPath([]string{"current_file_path"})
	case slices.Equal(p.URI, []string{"status", "hdf", "acquisition_id"}):
		p.SetPath([]string{"current_acquisition_id"})
	}
}

// createDatasetController splits any dataset parameters into a DS sub
// controller.
func (c *FrameProcessorPluginController) createDatasetController(ctx context.Context) error {
	datasetParameters, rest := param.Partition(c.parameters, func(p *param.Parameter) bool {
		return slices.Contains(p.Path(), "dataset")
	})
	if len(datasetParameters) == 0 {
		return nil
	}
	c.parameters = rest

	datasetController := newFrameProcessorDatasetController(c.env, datasetParameters, c.prefix)
	if err := c.attach("DS", datasetController); err != nil {
		return err
	}
	return datasetController.Initialise(ctx)
}

// FrameProcessorDatasetController exposes the datasets of the HDF plugin.
type FrameProcessorDatasetController struct {
	*SubController
}

func newFrameProcessorDatasetController(e env, parameters []*param.Parameter, prefix string) *FrameProcessorDatasetController {
	return &FrameProcessorDatasetController{SubController: newSubController(e, parameters, prefix)}
}

func (c *FrameProcessorDatasetController) Initialise(ctx context.Context) error {
	for _, p := range c.parameters {
		p.SetPath(p.URI[3:])
	}
	return c.bindParameters()
}

// FrameProcessorAdapterController mirrors a frame processor adapter: sharded
// sub controllers plus whole-adapter summaries and writing command fans over
// the HDF plugin of every shard.
type FrameProcessorAdapterController struct {
	*OdinDataAdapterController

	summaries   map[string]*aggregate.Summary
	commandFans map[string]*aggregate.CommandFan
}

func newFrameProcessorAdapterController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &FrameProcessorAdapterController{
		OdinDataAdapterController: newOdinDataAdapterController(
			e, parameters, prefix,
			"FP", newFrameProcessorController, frameProcessorUniqueConfig,
		),
		summaries:   make(map[string]*aggregate.Summary),
		commandFans: make(map[string]*aggregate.CommandFan),
	}
}

func (c *FrameProcessorAdapterController) Initialise(ctx context.Context) error {
	if err := c.OdinDataAdapterController.Initialise(ctx); err != nil {
		return err
	}
	if err := c.createSummaries(); err != nil {
		return err
	}
	return c.createCommandFans()
}

// Summaries returns the whole-adapter status summaries, keyed by name.
func (c *FrameProcessorAdapterController) Summaries() map[string]*aggregate.Summary {
	return c.summaries
}

// CommandFans returns the whole-adapter command fans, keyed by name.
func (c *FrameProcessorAdapterController) CommandFans() map[string]*aggregate.CommandFan {
	return c.commandFans
}

func (c *FrameProcessorAdapterController) createSummaries() error {
	declarations := []struct {
		name   string
		leaf   string
		reduce aggregate.Reducer
	}{
		{"frames_written", "frames_written", aggregate.Sum},
		{"writing", "writing", aggregate.Any},
	}

	for _, d := range declarations {
		summary, err := aggregate.NewSummary(d.name, c.node, frameProcessorShardFilter, d.leaf, d.reduce)
		if err != nil {
			return err
		}
		c.summaries[d.name] = summary
	}
	return nil
}

func (c *FrameProcessorAdapterController) createCommandFans() error {
	for _, name := range []string{"start_writing", "stop_writing"} {
		fan, err := c.collectCommandFan(name, frameProcessorShardFilter)
		if err != nil {
			return err
		}
		if fan != nil {
			c.commandFans[name] = fan
		}
	}
	return nil
}
