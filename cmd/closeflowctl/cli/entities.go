package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
)

// EntitiesOptions defines the flags of the entities command.
type EntitiesOptions struct {
	Output
}

// EntitiesCommand lists the entities known to the backend.
func (c *OpsCLI) EntitiesCommand(ctx context.Context, opts EntitiesOptions) int {
	opts.defaults()
	entities, err := c.backend.ListEntities(ctx)
	if err != nil {
		return opts.fail("entities", err)
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(entities); err != nil {
			return opts.fail("entities", fmt.Errorf("encode json: %w", err))
		}
		return ExitOK
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CODE\tSHORT\tNAME")
	for _, e := range entities {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Code, e.ShortCode, e.Name)
	}
	_ = tw.Flush()
	return ExitOK
}
