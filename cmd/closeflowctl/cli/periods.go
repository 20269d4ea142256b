package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/closeflow/internal/period"
)

// PeriodsOptions defines the flags of the periods command.
type PeriodsOptions struct {
	Entity string
	// Stored simulates a persisted client selection when resolving.
	Stored string
	Output
}

// PeriodRow is one period in the JSON output.
type PeriodRow struct {
	Key      string `json:"key"`
	Column   string `json:"column"`
	Display  string `json:"display,omitempty"`
	Current  bool   `json:"current"`
	Resolved bool   `json:"resolved"`
}

// PeriodsSummary describes the JSON response of the periods command.
type PeriodsSummary struct {
	Entity   string      `json:"entity"`
	Current  string      `json:"current"`
	Resolved string      `json:"resolved"`
	Periods  []PeriodRow `json:"periods"`
}

// PeriodsCommand lists the periods of an entity and shows which one a new
// session would select.
func (c *OpsCLI) PeriodsCommand(ctx context.Context, opts PeriodsOptions) int {
	opts.defaults()
	entity := strings.TrimSpace(opts.Entity)
	if entity == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "periods: --entity is required")
		return ExitFailure
	}
	resp, err := c.backend.ListPeriods(ctx, entity)
	if err != nil {
		return opts.fail("periods", err)
	}
	resolved, _ := period.Resolve(resp.AvailablePeriods, opts.Stored, resp.CurrentPeriod)
	summary := buildPeriodsSummary(entity, resp.AvailablePeriods, resp.PeriodDisplayNames, resp.CurrentPeriod, resolved)

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			return opts.fail("periods", fmt.Errorf("encode json: %w", err))
		}
		return ExitOK
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\tKEY\tCOLUMN\tDISPLAY")
	for _, row := range summary.Periods {
		marker := ""
		if row.Resolved {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, row.Key, row.Column, row.Display)
	}
	_ = tw.Flush()
	return ExitOK
}

// buildPeriodsSummary orders periods newest first; keys without a
// recognisable month and year sort last by name.
func buildPeriodsSummary(entity string, available, display map[string]string, current, resolved string) PeriodsSummary {
	rows := make([]PeriodRow, 0, len(available))
	for key, column := range available {
		rows = append(rows, PeriodRow{
			Key:      key,
			Column:   column,
			Display:  display[key],
			Current:  key == current,
			Resolved: key == resolved,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		oi, iok := period.ParseKey(rows[i].Key)
		oj, jok := period.ParseKey(rows[j].Key)
		switch {
		case iok && jok && oi != oj:
			return oi > oj
		case iok != jok:
			return iok
		}
		return rows[i].Key < rows[j].Key
	})
	return PeriodsSummary{Entity: entity, Current: current, Resolved: resolved, Periods: rows}
}
