package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/phil-mansfield/vlsv/lib/amr"
	"github.com/phil-mansfield/vlsv/lib/format"
)

var validate = validator.New()

// Validate checks the struct tag rules, then the rules which need the mesh
// geometry, and expands the block lists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	g, err := amr.NewGrid(c.BoundingBox(), c.Mesh.MaxLevel)
	if err != nil {
		return fmt.Errorf("mesh: %s", err.Error())
	}

	c.refine, err = blockList(g, "refine", c.Run.Refine)
	if err != nil {
		return err
	}
	c.coarsen, err = blockList(g, "coarsen", c.Run.Coarsen)
	if err != nil {
		return err
	}
	return nil
}

func blockList(g *amr.Grid, name, seq string) ([]amr.GlobalID, error) {
	if seq == "" {
		return nil, nil
	}
	ids, err := format.ExpandUint64s(seq)
	if err != nil {
		return nil, fmt.Errorf("run.%s: %s", name, err.Error())
	}

	out := make([]amr.GlobalID, len(ids))
	for i := range ids {
		out[i] = amr.GlobalID(ids[i])
		if _, ok := g.Indices(out[i]); !ok {
			return nil, fmt.Errorf("run.%s: block %d is outside a mesh with "+
				"%d blocks", name, ids[i], g.End())
		}
	}
	return out, nil
}

// formatValidationError reduces validator errors to the first failure.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
