package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/statement"
)

// Exit codes shared by the operator commands.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitNotReady = 10
)

// Backend is the subset of the reporting backend used by the operator CLI.
type Backend interface {
	ListEntities(ctx context.Context) ([]backend.Entity, error)
	ListPeriods(ctx context.Context, entity string) (backend.PeriodsResponse, error)
	CheckReadiness(ctx context.Context, statement, entity string) (backend.Readiness, error)
	ListFiles(ctx context.Context, entity string) (backend.FileListing, error)
	AdjustmentAnalysis(ctx context.Context, entity string) (backend.AdjustmentAnalysis, error)
	ImpactSummary(ctx context.Context, entity string) (backend.ImpactSummary, error)
}

// OpsCLI offers read-only operational helpers against the reporting backend.
type OpsCLI struct {
	backend Backend
	catalog *statement.Catalog
}

// NewOpsCLI constructs the helper. A nil catalog uses the built-in one.
func NewOpsCLI(b Backend, catalog *statement.Catalog) (*OpsCLI, error) {
	if b == nil {
		return nil, errors.New("closeflowctl: backend is required")
	}
	if catalog == nil {
		catalog = statement.DefaultCatalog()
	}
	return &OpsCLI{backend: b, catalog: catalog}, nil
}

// Output carries the writers and format shared by every command.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Output) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

func (o Output) fail(cmd string, err error) int {
	if detail := backend.ErrorDetail(err); detail != "" {
		_, _ = fmt.Fprintf(o.Stderr, "%s: %s\n", cmd, detail)
		return ExitFailure
	}
	_, _ = fmt.Fprintf(o.Stderr, "%s: %v\n", cmd, err)
	return ExitFailure
}
