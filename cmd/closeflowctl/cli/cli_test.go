package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/impact"
)

type stubBackend struct {
	entities  []backend.Entity
	periods   backend.PeriodsResponse
	listing   backend.FileListing
	analysis  backend.AdjustmentAnalysis
	summary   backend.ImpactSummary
	readyFrom int32
	checks    atomic.Int32
	err       error
}

func (s *stubBackend) ListEntities(context.Context) ([]backend.Entity, error) {
	return s.entities, s.err
}

func (s *stubBackend) ListPeriods(context.Context, string) (backend.PeriodsResponse, error) {
	return s.periods, s.err
}

func (s *stubBackend) CheckReadiness(_ context.Context, _, _ string) (backend.Readiness, error) {
	n := s.checks.Add(1)
	if s.err != nil {
		return backend.Readiness{}, s.err
	}
	if s.readyFrom > 0 && n >= s.readyFrom {
		return backend.Readiness{IsReady: true, TotalFound: 5, TotalRequired: 5, CompletenessPercentage: 100}, nil
	}
	return backend.Readiness{TotalFound: 3, TotalRequired: 5, CompletenessPercentage: 60, MissingNotes: []backend.Ident{"4", "5A"}}, nil
}

func (s *stubBackend) ListFiles(context.Context, string) (backend.FileListing, error) {
	return s.listing, s.err
}

func (s *stubBackend) AdjustmentAnalysis(context.Context, string) (backend.AdjustmentAnalysis, error) {
	return s.analysis, s.err
}

func (s *stubBackend) ImpactSummary(context.Context, string) (backend.ImpactSummary, error) {
	return s.summary, s.err
}

func newOps(t *testing.T, b *stubBackend) *OpsCLI {
	t.Helper()
	c, err := NewOpsCLI(b, nil)
	require.NoError(t, err)
	return c
}

func output(asJSON bool) (Output, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return Output{JSONOutput: asJSON, Stdout: stdout, Stderr: stderr}, stdout, stderr
}

func TestEntitiesCommandTable(t *testing.T) {
	c := newOps(t, &stubBackend{entities: []backend.Entity{{Code: "IN01", Name: "Acme India", ShortCode: "AIN"}}})
	out, stdout, stderr := output(false)

	require.Equal(t, ExitOK, c.EntitiesCommand(context.Background(), EntitiesOptions{Output: out}))
	require.Empty(t, stderr.String())
	require.Contains(t, stdout.String(), "IN01")
	require.Contains(t, stdout.String(), "Acme India")
}

func TestPeriodsCommandResolvesLikeANewSession(t *testing.T) {
	b := &stubBackend{periods: backend.PeriodsResponse{
		AvailablePeriods: map[string]string{"mar_2025": "Total Mar'25", "feb_2025": "Total Feb'25", "custom": "Custom"},
		CurrentPeriod:    "feb_2025",
	}}
	c := newOps(t, b)

	out, stdout, _ := output(true)
	require.Equal(t, ExitOK, c.PeriodsCommand(context.Background(), PeriodsOptions{Entity: "IN01", Output: out}))
	var summary PeriodsSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, "feb_2025", summary.Resolved)
	keys := make([]string, 0, len(summary.Periods))
	for _, p := range summary.Periods {
		keys = append(keys, p.Key)
	}
	require.Equal(t, []string{"mar_2025", "feb_2025", "custom"}, keys)

	out, stdout, _ = output(true)
	require.Equal(t, ExitOK, c.PeriodsCommand(context.Background(), PeriodsOptions{Entity: "IN01", Stored: "mar_2025", Output: out}))
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, "mar_2025", summary.Resolved)
}

func TestPeriodsCommandRequiresEntity(t *testing.T) {
	c := newOps(t, &stubBackend{})
	out, _, stderr := output(false)
	require.Equal(t, ExitFailure, c.PeriodsCommand(context.Background(), PeriodsOptions{Output: out}))
	require.Contains(t, stderr.String(), "--entity is required")
}

func TestReadinessCommandNotReady(t *testing.T) {
	c := newOps(t, &stubBackend{})
	out, stdout, _ := output(false)

	code := c.ReadinessCommand(context.Background(), ReadinessOptions{Entity: "IN01", Statement: "balance_sheet", Output: out})
	require.Equal(t, ExitNotReady, code)
	require.Contains(t, stdout.String(), "3/5 notes")
	require.Contains(t, stdout.String(), "missing: 4, 5A")
}

func TestReadinessCommandWatchUntilReady(t *testing.T) {
	b := &stubBackend{readyFrom: 3}
	c := newOps(t, b)
	out, stdout, _ := output(false)

	code := c.ReadinessCommand(context.Background(), ReadinessOptions{
		Entity:    "IN01",
		Statement: "pnl",
		Watch:     true,
		Interval:  10 * time.Millisecond,
		Timeout:   5 * time.Second,
		Output:    out,
	})
	require.Equal(t, ExitOK, code)
	require.GreaterOrEqual(t, b.checks.Load(), int32(3))
	require.Contains(t, stdout.String(), "ready 5/5 notes")
}

func TestReadinessCommandUnknownStatementAndBackendFailure(t *testing.T) {
	c := newOps(t, &stubBackend{})
	out, _, stderr := output(false)
	require.Equal(t, ExitFailure, c.ReadinessCommand(context.Background(), ReadinessOptions{Entity: "IN01", Statement: "ledger", Output: out}))
	require.NotEmpty(t, stderr.String())

	failing := newOps(t, &stubBackend{err: &backend.APIError{Op: "readiness", Status: http.StatusBadGateway, Detail: "notes service down"}})
	out, _, stderr = output(false)
	require.Equal(t, ExitFailure, failing.ReadinessCommand(context.Background(), ReadinessOptions{Entity: "IN01", Statement: "pnl", Output: out}))
	require.Contains(t, stderr.String(), "notes service down")
}

func TestFilesCommandCategoryFilter(t *testing.T) {
	c := newOps(t, &stubBackend{listing: backend.FileListing{
		"trial_balance": {{Filename: "tb_mar.xlsx", SizeBytes: 2048}},
		"adjustments":   {{Filename: "adj.xlsx"}},
	}})
	out, stdout, _ := output(false)

	require.Equal(t, ExitOK, c.FilesCommand(context.Background(), FilesOptions{Entity: "IN01", Category: "trial_balance", Output: out}))
	require.Contains(t, stdout.String(), "tb_mar.xlsx")
	require.Contains(t, stdout.String(), "2.0 KB")
	require.NotContains(t, stdout.String(), "adj.xlsx")
}

func TestImpactCommandFiltersAndWritesCSV(t *testing.T) {
	revenue := backend.GLChange{GLCode: "40010000", GLName: "Sales", Category: "Revenue",
		Before: decimal.NewFromInt(1000), After: decimal.NewFromInt(1200), Change: decimal.NewFromInt(200)}
	assets := backend.GLChange{GLCode: "10020000", GLName: "Cash", Category: "Assets",
		Before: decimal.NewFromInt(500), After: decimal.NewFromInt(450), Change: decimal.NewFromInt(-50)}
	b := &stubBackend{
		analysis: backend.AdjustmentAnalysis{Adjustments: []backend.AdjustmentRecord{
			{Account: "40010000", Classification: "Reclassification"},
			{Account: "10020000", Classification: "Accruals and Deferrals"},
		}},
		summary: backend.ImpactSummary{
			TotalAdjustments: 2,
			Categories: []backend.CategoryImpact{
				{Category: "Revenue", TotalGLs: 4, GLChanges: []backend.GLChange{revenue}},
				{Category: "Assets", TotalGLs: 12, GLChanges: []backend.GLChange{assets}},
			},
			GLChanges: []backend.GLChange{revenue, assets},
		},
	}
	c := newOps(t, b)

	out, stdout, _ := output(true)
	require.Equal(t, ExitOK, c.ImpactCommand(context.Background(), ImpactOptions{Entity: "IN01", Classification: "Reclassification", Output: out}))
	var view impact.View
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &view))
	require.Len(t, view.GLChanges, 1)
	require.Equal(t, "40010000", view.GLChanges[0].GLCode.String())

	out, stdout, _ = output(false)
	require.Equal(t, ExitOK, c.ImpactCommand(context.Background(), ImpactOptions{Entity: "IN01", CSV: true, Output: out}))
	require.True(t, strings.HasPrefix(stdout.String(), "Category,GL Code,GL Name"))
	require.Contains(t, stdout.String(), "Assets,10020000,Cash,500.00,450.00,-50.00,")
}

func TestRootCommandExitCodes(t *testing.T) {
	b := &stubBackend{entities: []backend.Entity{{Code: "IN01", Name: "Acme India"}}}
	factory := func(string, time.Duration) Backend { return b }

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root := NewRootCommand(factory, stdout, stderr)
	root.SetArgs([]string{"entities", "--json"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	var entities []backend.Entity
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &entities))
	require.Equal(t, "IN01", entities[0].Code)

	root = NewRootCommand(factory, stdout, stderr)
	root.SetArgs([]string{"readiness", "pnl", "--entity", "IN01"})
	err := root.ExecuteContext(context.Background())
	var exitErr ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitNotReady, exitErr.Code)
}
