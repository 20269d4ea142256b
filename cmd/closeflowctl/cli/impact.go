package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/impact"
)

// ImpactOptions defines the flags of the impact command.
type ImpactOptions struct {
	Entity         string
	Classification string
	// CSV writes the category drill-down as CSV instead of a table.
	CSV bool
	Output
}

// ImpactCommand prints the adjustment impact, optionally filtered by
// classification.
func (c *OpsCLI) ImpactCommand(ctx context.Context, opts ImpactOptions) int {
	opts.defaults()
	entity := strings.TrimSpace(opts.Entity)
	if entity == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "impact: --entity is required")
		return ExitFailure
	}

	var (
		analysis backend.AdjustmentAnalysis
		summary  backend.ImpactSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		analysis, err = c.backend.AdjustmentAnalysis(gctx, entity)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = c.backend.ImpactSummary(gctx, entity)
		return err
	})
	if err := g.Wait(); err != nil {
		return opts.fail("impact", err)
	}

	view := impact.BuildView(summary, analysis.Adjustments, opts.Classification, nil)
	switch {
	case opts.JSONOutput:
		if err := json.NewEncoder(opts.Stdout).Encode(view); err != nil {
			return opts.fail("impact", fmt.Errorf("encode json: %w", err))
		}
	case opts.CSV:
		if err := impact.WriteCSV(opts.Stdout, view); err != nil {
			return opts.fail("impact", fmt.Errorf("write csv: %w", err))
		}
	default:
		label := view.Classification
		if label == "" {
			label = "all classifications"
		}
		_, _ = fmt.Fprintf(opts.Stdout, "%s: %d adjustments, %s\n", entity, view.TotalAdjustments, label)
		for _, cat := range view.Categories {
			_, _ = fmt.Fprintf(opts.Stdout, "  %-28s %14s -> %14s  (%s, %d GLs changed)\n",
				cat.Category, cat.Before.StringFixed(2), cat.After.StringFixed(2), cat.Change.StringFixed(2), cat.ChangedCount)
		}
	}
	return ExitOK
}
