package adapters

import (
	"context"
	"fmt"
	"slices"

	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/param"
)

// MetaWriterController mirrors the meta writer adapter. The adapter fronts a
// single application, so the leading 0 index and the status/config section
// are dropped from every display path. The parameters the server aliases at
// well-known top-level paths are declared statically and win any clash with
// the introspected tree.
type MetaWriterController struct {
	*SubController
}

func newMetaWriterController(e env, parameters []*param.Parameter, prefix string) Controller {
	return &MetaWriterController{SubController: newSubController(e, parameters, prefix)}
}

func (c *MetaWriterController) Initialise(ctx context.Context) error {
	if err := c.bindStaticLeaves(); err != nil {
		return err
	}

	kept := c.parameters[:0]
	for _, p := range c.parameters {
		if slices.Contains(p.URI, "acquisitions") {
			// Per-acquisition subtrees appear and disappear at runtime and
			// cannot be mirrored as a stable parameter set.
			continue
		}
		if len(p.URI) >= 2 && p.URI[0] == "0" && (p.URI[1] == "status" || p.URI[1] == "config") {
			p.SetPath(p.Path()[2:])
		}
		kept = append(kept, p)
	}
	c.parameters = kept

	if err := c.bindParameters(); err != nil {
		return err
	}

	return c.cmds.AddValue("stop", c.stopAction())
}

func (c *MetaWriterController) bindStaticLeaves() error {
	statics := []struct {
		name      string
		uri       []string
		valueType param.ValueType
		writeable bool
	}{
		{"acquisition_id", []string{"config", "acquisition_id"}, param.TypeString, true},
		{"directory", []string{"config", "directory"}, param.TypeString, true},
		{"file_prefix", []string{"config", "file_prefix"}, param.TypeString, true},
		{"writing", []string{"status", "writing"}, param.TypeBool, false},
		{"written", []string{"status", "written"}, param.TypeInt, false},
	}

	for _, s := range statics {
		if err := c.bindStatic(s.name, s.uri, s.valueType, s.writeable); err != nil {
			return err
		}
	}
	return nil
}

// stopAction stops the writer by setting the stop flag, the adapter's
// command convention.
func (c *MetaWriterController) stopAction() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		c.env.log.Info("Stopping meta writer", "prefix", c.prefix)
		response, err := c.env.conn.Put(ctx, c.prefix+"/config/stop", true)
		if err != nil {
			return err
		}
		if message, found := response["error"]; found {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrAdapterResponse, message),
				"MetaWriterController", "stopAction", "stop writer")
		}
		return nil
	}
}
