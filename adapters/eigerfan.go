package adapters

import (
	"context"

	"github.com/DiamondLightSource/odinmirror/param"
)

// EigerFanController mirrors an eigerfan adapter: the introspected tree plus
// the two config parameters the fan aliases at fixed paths.
type EigerFanController struct {
	*SubController
}

func newEigerFanController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &EigerFanController{SubController: newSubController(e, parameters, prefix)}
}

func (c *EigerFanController) Initialise(ctx context.Context) error {
	statics := []struct {
		name      string
		uri       []string
		valueType param.ValueType
	}{
		{"acquisition_id", []string{"0", "config", "acqid"}, param.TypeString},
		{"block_size", []string{"0", "config", "block_size"}, param.TypeInt},
	}
	for _, s := range statics {
		if err := c.bindStatic(s.name, s.uri, s.valueType, true); err != nil {
			return err
		}
	}

	return c.bindParameters()
}
