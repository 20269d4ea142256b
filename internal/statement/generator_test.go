package statement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

type stubBackend struct {
	mu      sync.Mutex
	calls   []backend.GenerateRequest
	gate    chan struct{}
	entered chan struct{}
	err     error
}

func (s *stubBackend) CheckReadiness(context.Context, string, string) (backend.Readiness, error) {
	return backend.Readiness{IsReady: true}, nil
}

func (s *stubBackend) Generate(ctx context.Context, statement, entity string, in backend.GenerateRequest) (backend.GenerateResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, in)
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if s.err != nil {
		return backend.GenerateResponse{}, s.err
	}
	return backend.GenerateResponse{Success: true, Message: "generated"}, nil
}

func (s *stubBackend) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingEnqueuer struct {
	jobs []Job
}

func (r *recordingEnqueuer) EnqueueGenerate(_ context.Context, job Job) (string, error) {
	r.jobs = append(r.jobs, job)
	return "task-1", nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (c *countingObserver) ObserveGeneration(statement, mode, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, statement+":"+mode+":"+outcome)
}

var pnlRequest = Request{Statement: "pnl", Entity: "IN01", PeriodLabel: "Total Mar'25", Currency: "inr"}

func TestCatalogHasAllStatementTypes(t *testing.T) {
	c := DefaultCatalog()
	require.Equal(t, []string{
		"notes", "pnl", "balance_sheet", "cash_flow",
		"finalyzer_notes", "finalyzer_pnl", "finalyzer_balance_sheet", "finalyzer_cash_flow",
	}, c.Keys())
	def, err := c.Get("balance_sheet")
	require.NoError(t, err)
	require.True(t, def.RequiresReadiness)
	_, err = c.Get("tax_return")
	require.ErrorIs(t, err, ErrUnknownStatement)

	_, err = ParseCatalog([]byte("statements:\n  - key: a\n  - key: a\n"))
	require.Error(t, err)
}

func TestGenerateBlockedBeforeAnyRequestWhenNotReady(t *testing.T) {
	stub := &stubBackend{}
	obs := &countingObserver{}
	g := NewGenerator(nil, stub, nil, obs, nil)

	_, err := g.Generate(context.Background(), pnlRequest, nil)
	require.ErrorIs(t, err, ErrNotReady)
	_, err = g.Generate(context.Background(), pnlRequest, &backend.Readiness{IsReady: false})
	require.ErrorIs(t, err, ErrNotReady)
	require.Zero(t, stub.count())

	res, err := g.Generate(context.Background(), pnlRequest, &backend.Readiness{IsReady: true})
	require.NoError(t, err)
	require.Equal(t, ModeSync, res.Mode)
	require.Equal(t, "INR", stub.calls[0].Currency)
	require.Equal(t, []string{"pnl:sync:rejected", "pnl:sync:rejected", "pnl:sync:success"}, obs.outcomes)
}

func TestNotesSkipReadiness(t *testing.T) {
	stub := &stubBackend{}
	g := NewGenerator(nil, stub, nil, nil, nil)
	req := pnlRequest
	req.Statement = "notes"
	_, err := g.Generate(context.Background(), req, nil)
	require.NoError(t, err)
}

func TestConcurrentGenerationRejected(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubBackend{gate: gate, entered: make(chan struct{}, 1)}
	g := NewGenerator(nil, stub, nil, nil, nil)
	ready := &backend.Readiness{IsReady: true}

	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(context.Background(), pnlRequest, ready)
		done <- err
	}()
	<-stub.entered
	require.True(t, g.Running("IN01", "pnl"))

	_, err := g.Generate(context.Background(), pnlRequest, ready)
	require.ErrorIs(t, err, ErrGenerationInProgress)

	other := pnlRequest
	other.Entity = "MY01"
	stub.mu.Lock()
	stub.gate = nil
	stub.entered = nil
	stub.mu.Unlock()
	_, err = g.Generate(context.Background(), other, ready)
	require.NoError(t, err, "different entity is independent")

	close(gate)
	require.NoError(t, <-done)
	require.False(t, g.Running("IN01", "pnl"))
}

func TestGenerateValidation(t *testing.T) {
	g := NewGenerator(nil, &stubBackend{}, nil, nil, nil)
	ready := &backend.Readiness{IsReady: true}

	req := pnlRequest
	req.Currency = "RUPEES"
	_, err := g.Generate(context.Background(), req, ready)
	require.Error(t, err)

	req = pnlRequest
	req.Statement = "tax_return"
	_, err = g.Generate(context.Background(), req, ready)
	require.ErrorIs(t, err, ErrUnknownStatement)
}

func TestEnqueueAndRunJob(t *testing.T) {
	stub := &stubBackend{}
	enq := &recordingEnqueuer{}
	g := NewGenerator(nil, stub, enq, nil, nil)

	_, err := g.Enqueue(context.Background(), pnlRequest, nil, "req-1")
	require.ErrorIs(t, err, ErrNotReady)

	res, err := g.Enqueue(context.Background(), pnlRequest, &backend.Readiness{IsReady: true}, "req-1")
	require.NoError(t, err)
	require.Equal(t, "task-1", res.TaskID)
	require.Equal(t, "req-1", enq.jobs[0].RequestID)
	require.Zero(t, stub.count(), "enqueue does not call the backend")

	res, err = g.RunJob(context.Background(), enq.jobs[0])
	require.NoError(t, err)
	require.Equal(t, ModeAsync, res.Mode)
	require.Equal(t, 1, stub.count())

	_, err = NewGenerator(nil, stub, nil, nil, nil).Enqueue(context.Background(), pnlRequest, &backend.Readiness{IsReady: true}, "")
	require.ErrorIs(t, err, ErrAsyncUnavailable)
}

func TestBackendFailureWrapsAPIError(t *testing.T) {
	stub := &stubBackend{err: &backend.APIError{Op: "generate pnl", Status: 200, Detail: "notes missing"}}
	g := NewGenerator(nil, stub, nil, nil, nil)
	_, err := g.Generate(context.Background(), pnlRequest, &backend.Readiness{IsReady: true})
	require.Equal(t, "notes missing", backend.ErrorDetail(err))
	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
}
