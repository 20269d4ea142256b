package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/readiness"
)

// ReadinessOptions defines the flags of the readiness command.
type ReadinessOptions struct {
	Entity    string
	Statement string
	// Watch keeps polling until the statement is ready or Timeout elapses.
	Watch    bool
	Interval time.Duration
	Timeout  time.Duration
	Output
}

// ReadinessCommand reports whether a statement's prerequisites are met.
// It exits with ExitNotReady when they are not.
func (c *OpsCLI) ReadinessCommand(ctx context.Context, opts ReadinessOptions) int {
	opts.defaults()
	entity := strings.TrimSpace(opts.Entity)
	if entity == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "readiness: --entity is required")
		return ExitFailure
	}
	def, err := c.catalog.Get(opts.Statement)
	if err != nil {
		return opts.fail("readiness", err)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = readiness.DefaultRefreshInterval
	}

	logger := slog.New(slog.NewTextHandler(opts.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	poller := readiness.NewPoller(def.Key, entity,
		func(ctx context.Context, entity string) (backend.Readiness, error) {
			return c.backend.CheckReadiness(ctx, def.Key, entity)
		},
		readiness.WithIntervals(interval, time.Second),
		readiness.WithAutoRefresh(opts.Watch),
		readiness.WithLogger(logger),
	)
	defer poller.Close()

	if opts.Watch && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	snap, err := poller.Check(ctx)
	if err != nil && !opts.Watch {
		return opts.fail("readiness", err)
	}
	if !opts.Watch || ready(snap) {
		return c.report(opts, snap)
	}

	updates, unsubscribe := poller.Subscribe()
	defer unsubscribe()
	last := printed{at: checkedAt(snap), err: snap.Error}
	c.report(opts, snap)
	for {
		select {
		case <-ctx.Done():
			return ExitNotReady
		case next, ok := <-updates:
			if !ok {
				return ExitNotReady
			}
			// Countdown ticks publish too; only print fresh outcomes.
			cur := printed{at: checkedAt(next), err: next.Error}
			if next.Loading || cur == last {
				continue
			}
			last = cur
			code := c.report(opts, next)
			if ready(next) {
				return code
			}
		}
	}
}

type printed struct {
	at  time.Time
	err string
}

func (c *OpsCLI) report(opts ReadinessOptions, snap readiness.Snapshot) int {
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(snap); err != nil {
			return opts.fail("readiness", fmt.Errorf("encode json: %w", err))
		}
	} else {
		renderReadiness(opts, snap)
	}
	if ready(snap) {
		return ExitOK
	}
	return ExitNotReady
}

func renderReadiness(opts ReadinessOptions, snap readiness.Snapshot) {
	if snap.Error != "" {
		_, _ = fmt.Fprintf(opts.Stdout, "%s %s: %s\n", snap.Statement, snap.Entity, snap.Error)
		return
	}
	res := snap.Result
	if res == nil {
		_, _ = fmt.Fprintf(opts.Stdout, "%s %s: unknown\n", snap.Statement, snap.Entity)
		return
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s %s: %s %d/%d notes (%.0f%%)\n",
		snap.Statement, snap.Entity, snap.Phase, res.TotalFound, res.TotalRequired, res.CompletenessPercentage)
	if len(res.MissingNotes) > 0 {
		missing := make([]string, len(res.MissingNotes))
		for i, n := range res.MissingNotes {
			missing[i] = n.String()
		}
		_, _ = fmt.Fprintf(opts.Stdout, "  missing: %s\n", strings.Join(missing, ", "))
	}
}

func ready(snap readiness.Snapshot) bool {
	return snap.Result != nil && snap.Result.IsReady
}

func checkedAt(snap readiness.Snapshot) time.Time {
	if snap.CheckedAt == nil {
		return time.Time{}
	}
	return *snap.CheckedAt
}
