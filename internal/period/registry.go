// Package period keeps the reporting period selection of one client in sync
// with the backend and with durable client storage.
package period

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/prefs"
)

var (
	// ErrNoEntity is returned when no entity has been selected yet.
	ErrNoEntity = errors.New("period: no entity selected")
	// ErrUnknownPeriod is returned when a key is not one of the available periods.
	ErrUnknownPeriod = errors.New("period: unknown period key")
	// ErrStale is returned when a response arrives after the entity changed.
	ErrStale = errors.New("period: response superseded by entity switch")
)

// Backend is the subset of the backend client used by the registry.
type Backend interface {
	ListPeriods(ctx context.Context, entity string) (backend.PeriodsResponse, error)
	SetCurrentPeriod(ctx context.Context, entity, periodKey string) (backend.SetPeriodResponse, error)
	AddPeriod(ctx context.Context, entity, periodKey, columnName string) (backend.AddPeriodResponse, error)
}

// State is a snapshot of the registry.
type State struct {
	Entity              string            `json:"entity"`
	AvailablePeriods    map[string]string `json:"available_periods"`
	PeriodDisplayNames  map[string]string `json:"period_display_names,omitempty"`
	CurrentPeriod       *string           `json:"current_period"`
	CurrentPeriodColumn *string           `json:"current_period_column"`
	Loaded              bool              `json:"loaded"`
}

// Label returns the display column of the current period, or "".
func (s State) Label() string {
	if s.CurrentPeriodColumn == nil {
		return ""
	}
	return *s.CurrentPeriodColumn
}

// Key returns the current period key, or "".
func (s State) Key() string {
	if s.CurrentPeriod == nil {
		return ""
	}
	return *s.CurrentPeriod
}

type setPeriodInput struct {
	Entity    string `validate:"required"`
	PeriodKey string `validate:"required,max=64,excludesall=/?#"`
}

type addPeriodInput struct {
	Entity     string `validate:"required"`
	PeriodKey  string `validate:"required,max=64,excludesall=/?#"`
	ColumnName string `validate:"required,max=128"`
}

// Registry resolves and mutates the selected period of one client.
type Registry struct {
	backend  Backend
	kv       prefs.KV
	logger   *slog.Logger
	validate *validator.Validate

	syncTimeout  time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
	pending      sync.WaitGroup

	mu         sync.RWMutex
	generation uint64
	state      State
}

// NewRegistry constructs a Registry with no entity selected.
func NewRegistry(b Backend, kv prefs.KV, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend:     b,
		kv:          kv,
		logger:      logger,
		validate:    validator.New(),
		syncTimeout:  15 * time.Second,
		fetchTimeout: 30 * time.Second,
	}
}

// SwitchEntity selects a new entity. The current period is cleared
// immediately so values of the previous entity are never observable.
func (r *Registry) SwitchEntity(entity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.state = State{Entity: entity}
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneState(r.state)
}

// Fetch loads the periods of the selected entity and resolves the current one.
func (r *Registry) Fetch(ctx context.Context) (State, error) {
	r.mu.RLock()
	entity, gen := r.state.Entity, r.generation
	r.mu.RUnlock()
	if entity == "" {
		return State{}, ErrNoEntity
	}

	// The shared fetch outlives any single caller; each caller stops waiting
	// when its own context ends.
	flight := r.group.DoChan(entity, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return r.backend.ListPeriods(fctx, entity)
	})
	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return r.Snapshot(), fmt.Errorf("period: fetch %s: %w", entity, ctx.Err())
	}
	if res.Err != nil {
		return r.Snapshot(), fmt.Errorf("period: fetch %s: %w", entity, res.Err)
	}
	resp := res.Val.(backend.PeriodsResponse)

	stored, _, err := r.kv.Get(ctx, prefs.PeriodKey(entity))
	if err != nil {
		r.logger.Warn("period: read stored selection", slog.String("entity", entity), slog.Any("error", err))
	}
	resolved, ok := Resolve(resp.AvailablePeriods, stored, resp.CurrentPeriod)

	next := State{
		Entity:             entity,
		AvailablePeriods:   copyMap(resp.AvailablePeriods),
		PeriodDisplayNames: copyMap(resp.PeriodDisplayNames),
		Loaded:             true,
	}
	if next.AvailablePeriods == nil {
		next.AvailablePeriods = map[string]string{}
	}
	if ok {
		key, column := resolved, resp.AvailablePeriods[resolved]
		next.CurrentPeriod, next.CurrentPeriodColumn = &key, &column
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return r.Snapshot(), ErrStale
	}
	r.state = next
	r.mu.Unlock()

	if ok {
		if err := r.kv.Set(ctx, prefs.PeriodKey(entity), resolved); err != nil {
			r.logger.Warn("period: persist selection", slog.String("entity", entity), slog.Any("error", err))
		}
		if resolved != resp.CurrentPeriod {
			r.syncBackend(ctx, entity, resolved)
		}
	}
	return cloneState(next), nil
}

// SetPeriod makes key the active period. On failure the state is unchanged.
func (r *Registry) SetPeriod(ctx context.Context, key string) (State, error) {
	r.mu.RLock()
	entity, gen := r.state.Entity, r.generation
	_, known := r.state.AvailablePeriods[key]
	r.mu.RUnlock()

	in := setPeriodInput{Entity: entity, PeriodKey: strings.TrimSpace(key)}
	if err := r.validate.Struct(in); err != nil {
		if entity == "" {
			return r.Snapshot(), ErrNoEntity
		}
		return r.Snapshot(), fmt.Errorf("period: invalid key: %w", err)
	}
	if !known {
		return r.Snapshot(), fmt.Errorf("%w: %q", ErrUnknownPeriod, in.PeriodKey)
	}

	resp, err := r.backend.SetCurrentPeriod(ctx, entity, in.PeriodKey)
	if err != nil {
		return r.Snapshot(), fmt.Errorf("period: set %s: %w", in.PeriodKey, err)
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return r.Snapshot(), ErrStale
	}
	column := resp.PeriodColumn
	if column == "" {
		column = r.state.AvailablePeriods[in.PeriodKey]
	}
	k := in.PeriodKey
	r.state.CurrentPeriod, r.state.CurrentPeriodColumn = &k, &column
	snapshot := cloneState(r.state)
	r.mu.Unlock()

	if err := r.kv.Set(ctx, prefs.PeriodKey(entity), in.PeriodKey); err != nil {
		r.logger.Warn("period: persist selection", slog.String("entity", entity), slog.Any("error", err))
	}
	return snapshot, nil
}

// AddCustomPeriod registers a new period with the backend and refetches.
func (r *Registry) AddCustomPeriod(ctx context.Context, key, column string) (State, error) {
	r.mu.RLock()
	entity := r.state.Entity
	r.mu.RUnlock()

	in := addPeriodInput{Entity: entity, PeriodKey: strings.TrimSpace(key), ColumnName: strings.TrimSpace(column)}
	if err := r.validate.Struct(in); err != nil {
		if entity == "" {
			return r.Snapshot(), ErrNoEntity
		}
		return r.Snapshot(), fmt.Errorf("period: invalid custom period: %w", err)
	}
	if _, err := r.backend.AddPeriod(ctx, entity, in.PeriodKey, in.ColumnName); err != nil {
		return r.Snapshot(), fmt.Errorf("period: add %s: %w", in.PeriodKey, err)
	}
	return r.Fetch(ctx)
}

// Wait blocks until background backend updates have finished.
func (r *Registry) Wait() {
	r.pending.Wait()
}

func (r *Registry) syncBackend(ctx context.Context, entity, key string) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.syncTimeout)
		defer cancel()
		if _, err := r.backend.SetCurrentPeriod(ctx, entity, key); err != nil {
			r.logger.Warn("period: sync backend current period",
				slog.String("entity", entity),
				slog.String("period", key),
				slog.Any("error", err),
			)
		}
	}()
}

func cloneState(s State) State {
	out := s
	out.AvailablePeriods = copyMap(s.AvailablePeriods)
	out.PeriodDisplayNames = copyMap(s.PeriodDisplayNames)
	if s.CurrentPeriod != nil {
		k := *s.CurrentPeriod
		out.CurrentPeriod = &k
	}
	if s.CurrentPeriodColumn != nil {
		c := *s.CurrentPeriodColumn
		out.CurrentPeriodColumn = &c
	}
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
