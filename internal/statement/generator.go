package statement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

var (
	// ErrNotReady is returned when prerequisites are unknown or incomplete.
	ErrNotReady = errors.New("statement: prerequisites not ready")
	// ErrGenerationInProgress is returned while the same statement is generating.
	ErrGenerationInProgress = errors.New("statement: generation already in progress")
	// ErrAsyncUnavailable is returned when no queue is configured.
	ErrAsyncUnavailable = errors.New("statement: background generation not configured")
)

// Generation modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Backend is the subset of the backend client used for generation.
type Backend interface {
	CheckReadiness(ctx context.Context, statement, entity string) (backend.Readiness, error)
	Generate(ctx context.Context, statement, entity string, in backend.GenerateRequest) (backend.GenerateResponse, error)
}

// Job is a generation queued for the worker.
type Job struct {
	Statement   string `json:"statement"`
	Entity      string `json:"entity"`
	PeriodLabel string `json:"period_label"`
	Currency    string `json:"currency"`
	Scenario    string `json:"scenario,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Enqueuer queues a job and returns its task id.
type Enqueuer interface {
	EnqueueGenerate(ctx context.Context, job Job) (string, error)
}

// Observer records generation outcomes.
type Observer interface {
	ObserveGeneration(statement, mode, outcome string)
}

// Request asks for a statement to be generated.
type Request struct {
	Statement   string `json:"statement" validate:"required"`
	Entity      string `json:"entity" validate:"required"`
	PeriodLabel string `json:"period_label" validate:"required,max=128"`
	Currency    string `json:"currency" validate:"required,len=3,alpha"`
	Scenario    string `json:"scenario,omitempty" validate:"omitempty,max=64"`
}

// Result reports a generation outcome.
type Result struct {
	Statement string `json:"statement"`
	Entity    string `json:"entity"`
	Mode      string `json:"mode"`
	Message   string `json:"message,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// Generator runs guarded statement generations.
type Generator struct {
	catalog  *Catalog
	backend  Backend
	enqueuer Enqueuer
	observer Observer
	logger   *slog.Logger
	validate *validator.Validate

	mu      sync.Mutex
	running map[string]struct{}
}

// NewGenerator constructs a Generator. enqueuer may be nil.
func NewGenerator(catalog *Catalog, b Backend, enqueuer Enqueuer, observer Observer, logger *slog.Logger) *Generator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		catalog:  catalog,
		backend:  b,
		enqueuer: enqueuer,
		observer: observer,
		logger:   logger,
		validate: validator.New(),
		running:  make(map[string]struct{}),
	}
}

// Catalog returns the statement catalog.
func (g *Generator) Catalog() *Catalog { return g.catalog }

// CheckReadiness asks the backend whether statement can be generated for entity.
func (g *Generator) CheckReadiness(ctx context.Context, statement, entity string) (backend.Readiness, error) {
	if _, err := g.catalog.Get(statement); err != nil {
		return backend.Readiness{}, err
	}
	return g.backend.CheckReadiness(ctx, statement, entity)
}

// Generate validates the request and calls the backend. readiness is the
// latest known readiness result; nil means unknown.
func (g *Generator) Generate(ctx context.Context, req Request, readiness *backend.Readiness) (Result, error) {
	def, err := g.precheck(&req, readiness)
	if err != nil {
		g.observe(req.Statement, ModeSync, "rejected")
		return Result{}, err
	}
	release, err := g.acquire(req.Entity, def.Key)
	if err != nil {
		g.observe(def.Key, ModeSync, "rejected")
		return Result{}, err
	}
	defer release()
	return g.call(ctx, req, ModeSync)
}

// Enqueue validates the request and queues it for the worker.
func (g *Generator) Enqueue(ctx context.Context, req Request, readiness *backend.Readiness, requestID string) (Result, error) {
	if g.enqueuer == nil {
		return Result{}, ErrAsyncUnavailable
	}
	def, err := g.precheck(&req, readiness)
	if err != nil {
		g.observe(req.Statement, ModeAsync, "rejected")
		return Result{}, err
	}
	taskID, err := g.enqueuer.EnqueueGenerate(ctx, Job{
		Statement:   def.Key,
		Entity:      req.Entity,
		PeriodLabel: req.PeriodLabel,
		Currency:    req.Currency,
		Scenario:    req.Scenario,
		RequestID:   requestID,
	})
	if err != nil {
		g.observe(def.Key, ModeAsync, "rejected")
		return Result{}, err
	}
	g.observe(def.Key, ModeAsync, "queued")
	return Result{Statement: def.Key, Entity: req.Entity, Mode: ModeAsync, TaskID: taskID}, nil
}

// RunJob executes a queued job. The worker calls it after dequeuing.
func (g *Generator) RunJob(ctx context.Context, job Job) (Result, error) {
	if _, err := g.catalog.Get(job.Statement); err != nil {
		return Result{}, err
	}
	release, err := g.acquire(job.Entity, job.Statement)
	if err != nil {
		return Result{}, err
	}
	defer release()
	return g.call(ctx, Request{
		Statement:   job.Statement,
		Entity:      job.Entity,
		PeriodLabel: job.PeriodLabel,
		Currency:    job.Currency,
		Scenario:    job.Scenario,
	}, ModeAsync)
}

// Running reports whether statement is generating for entity.
func (g *Generator) Running(entity, statement string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[runKey(entity, statement)]
	return ok
}

func (g *Generator) precheck(req *Request, readiness *backend.Readiness) (Definition, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.PeriodLabel = strings.TrimSpace(req.PeriodLabel)
	def, err := g.catalog.Get(req.Statement)
	if err != nil {
		return Definition{}, err
	}
	if err := g.validate.Struct(req); err != nil {
		return Definition{}, fmt.Errorf("statement: invalid request: %w", err)
	}
	if def.RequiresReadiness && (readiness == nil || !readiness.IsReady) {
		return Definition{}, ErrNotReady
	}
	return def, nil
}

func (g *Generator) call(ctx context.Context, req Request, mode string) (Result, error) {
	resp, err := g.backend.Generate(ctx, req.Statement, req.Entity, backend.GenerateRequest{
		PeriodLabel: req.PeriodLabel,
		Currency:    req.Currency,
		Scenario:    req.Scenario,
	})
	if err != nil {
		g.observe(req.Statement, mode, "failure")
		g.logger.Warn("statement: generation failed",
			slog.String("statement", req.Statement),
			slog.String("entity", req.Entity),
			slog.Any("error", err),
		)
		return Result{}, fmt.Errorf("statement: generate %s: %w", req.Statement, err)
	}
	g.observe(req.Statement, mode, "success")
	return Result{Statement: req.Statement, Entity: req.Entity, Mode: mode, Message: resp.Message}, nil
}

func (g *Generator) acquire(entity, statement string) (func(), error) {
	key := runKey(entity, statement)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[key]; busy {
		return nil, ErrGenerationInProgress
	}
	g.running[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.running, key)
		g.mu.Unlock()
	}, nil
}

func (g *Generator) observe(statement, mode, outcome string) {
	if g.observer != nil {
		g.observer.ObserveGeneration(statement, mode, outcome)
	}
}

func runKey(entity, statement string) string {
	return entity + "/" + statement
}
