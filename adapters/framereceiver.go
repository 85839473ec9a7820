package adapters

import (
	"context"
	"strings"

	"github.com/DiamondLightSource/odinmirror/param"
)

// frameReceiverUniqueConfig lists the config keys that are deliberately
// different on every frame receiver shard.
var frameReceiverUniqueConfig = []string{
	"rank",
	"number",
	"ctrl_endpoint",
	"fr_ready_cnxn",
	"fr_release_cnxn",
	"frame_ready_endpoint",
	"frame_release_endpoint",
	"shared_buffer_name",
	"rx_address",
	"rx_ports",
}

// FrameReceiverController exposes one frameReceiver application. The decoder
// and decoder_config sections of the tree describe the same decoder, so both
// are folded under a single decoder group.
type FrameReceiverController struct {
	*SubController
}

func newFrameReceiverController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &FrameReceiverController{SubController: newSubController(e, parameters, prefix)}
}

func (c *FrameReceiverController) Initialise(ctx context.Context) error {
	c.reduceShardPaths()

	for _, p := range c.parameters {
		path := p.Path()
		if len(path) > 1 && strings.Contains(path[0], "decoder") {
			merged := make([]string, len(path))
			copy(merged, path)
			merged[0] = "decoder"
			p.SetPath(merged)
		}
	}

	return c.bindParameters()
}

// FrameReceiverAdapterController mirrors a frame receiver adapter.
type FrameReceiverAdapterController struct {
	*OdinDataAdapterController
}

func newFrameReceiverAdapterController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &FrameReceiverAdapterController{
		OdinDataAdapterController: newOdinDataAdapterController(
			e, parameters, prefix,
			"FR", newFrameReceiverController, frameReceiverUniqueConfig,
		),
	}
}
