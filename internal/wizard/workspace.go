// Package wizard holds the per-client application state of the close wizard:
// the selected entity and the period and currency state that depend on it.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/currency"
	"github.com/odyssey-erp/closeflow/internal/entity"
	"github.com/odyssey-erp/closeflow/internal/period"
	"github.com/odyssey-erp/closeflow/internal/prefs"
	"github.com/odyssey-erp/closeflow/internal/readiness"
)

var (
	// ErrNoEntity is returned when an operation needs a selected entity.
	ErrNoEntity = errors.New("wizard: no entity selected")
	// ErrPartialLoad is returned when period or currency state failed to
	// load after the entity was resolved.
	ErrPartialLoad = errors.New("wizard: entity state partially loaded")
)

// Backend is everything a workspace needs from the reporting backend.
type Backend interface {
	entity.Lister
	period.Backend
	currency.Backend
}

// State is a snapshot of a workspace.
type State struct {
	ClientID string           `json:"client_id"`
	Entity   *backend.Entity  `json:"entity"`
	Entities []backend.Entity `json:"entities"`
	Period   period.State     `json:"period"`
	Currency currency.State   `json:"currency"`
}

// Workspace is the wizard state of one client.
type Workspace struct {
	clientID string
	selector *entity.Selector
	periods  *period.Registry
	currency *currency.Service
	logger   *slog.Logger
	now      func() time.Time

	readiness   ReadinessFunc
	pollerOpts  []readiness.Option
	pollMu      sync.Mutex
	pollers     map[string]*pollerRef
	autoRefresh map[string]bool

	// ops serialises entity changes.
	ops sync.Mutex

	mu       sync.RWMutex
	current  *backend.Entity
	entities []backend.Entity
	lastSeen time.Time
}

func newWorkspace(clientID string, m *Manager, now time.Time) *Workspace {
	kv := prefs.Bind(m.store, clientID)
	return &Workspace{
		clientID:    clientID,
		selector:    entity.NewSelector(m.backend, kv, m.logger),
		periods:     period.NewRegistry(m.backend, kv, m.logger),
		currency:    currency.NewService(m.backend, kv, m.reporting, m.logger),
		logger:      m.logger.With(slog.String("client_id", clientID)),
		now:         m.now,
		readiness:   m.readiness,
		pollerOpts:  m.pollerOpts,
		pollers:     make(map[string]*pollerRef),
		autoRefresh: make(map[string]bool),
		lastSeen:    now,
	}
}

// Periods exposes the period registry.
func (w *Workspace) Periods() *period.Registry { return w.periods }

// Currency exposes the currency service.
func (w *Workspace) Currency() *currency.Service { return w.currency }

// EntityCode returns the selected entity code, or "".
func (w *Workspace) EntityCode() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return ""
	}
	return w.current.Code
}

// Ensure resolves the entity and loads dependent state on first use.
func (w *Workspace) Ensure(ctx context.Context) (State, error) {
	w.ops.Lock()
	defer w.ops.Unlock()
	if w.EntityCode() != "" {
		return w.State(), nil
	}
	sel, err := w.selector.Resolve(ctx)
	if err != nil {
		return w.State(), err
	}
	return w.activate(ctx, sel.Current, sel.Entities)
}

// Refresh reloads the entity list and the dependent state.
func (w *Workspace) Refresh(ctx context.Context) (State, error) {
	w.ops.Lock()
	defer w.ops.Unlock()
	sel, err := w.selector.Resolve(ctx)
	if err != nil {
		return w.State(), err
	}
	if sel.Current.Code == w.EntityCode() {
		w.mu.Lock()
		w.entities = sel.Entities
		w.mu.Unlock()
		return w.load(ctx)
	}
	return w.activate(ctx, sel.Current, sel.Entities)
}

// SelectEntity persists code as the selected entity, resets the period and
// currency state and reloads both.
func (w *Workspace) SelectEntity(ctx context.Context, code string) (State, error) {
	w.ops.Lock()
	defer w.ops.Unlock()
	sel, err := w.selector.Select(ctx, code)
	if err != nil {
		return w.State(), err
	}
	return w.activate(ctx, sel.Current, sel.Entities)
}

func (w *Workspace) activate(ctx context.Context, e backend.Entity, entities []backend.Entity) (State, error) {
	w.mu.Lock()
	w.current = &e
	if entities != nil {
		w.entities = entities
	}
	w.mu.Unlock()

	w.periods.SwitchEntity(e.Code)
	w.currency.SwitchEntity(ctx, e.Code)
	w.rebindPollers(e.Code)
	return w.load(ctx)
}

// load fetches periods and currency context concurrently. A failure of one
// does not discard the other.
func (w *Workspace) load(ctx context.Context) (State, error) {
	var wg sync.WaitGroup
	var periodErr, currencyErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, periodErr = w.periods.Fetch(ctx)
	}()
	go func() {
		defer wg.Done()
		_, currencyErr = w.currency.Load(ctx)
	}()
	wg.Wait()

	var errs []error
	if periodErr != nil && !errors.Is(periodErr, period.ErrStale) {
		errs = append(errs, periodErr)
	}
	if currencyErr != nil && !errors.Is(currencyErr, currency.ErrStale) {
		errs = append(errs, currencyErr)
	}
	if len(errs) > 0 {
		w.logger.Warn("wizard: load entity state", slog.Any("error", errors.Join(errs...)))
		return w.State(), fmt.Errorf("%w for %s: %w", ErrPartialLoad, w.EntityCode(), errors.Join(errs...))
	}
	return w.State(), nil
}

// State returns a snapshot of the workspace.
func (w *Workspace) State() State {
	w.mu.RLock()
	s := State{ClientID: w.clientID, Entities: append([]backend.Entity(nil), w.entities...)}
	if w.current != nil {
		e := *w.current
		s.Entity = &e
	}
	w.mu.RUnlock()
	if s.Entities == nil {
		s.Entities = []backend.Entity{}
	}
	s.Period = w.periods.Snapshot()
	s.Currency = w.currency.Snapshot()
	return s
}

// Close stops live pollers and waits for background work started by the
// workspace.
func (w *Workspace) Close() {
	w.closePollers()
	w.periods.Wait()
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

// idleSince reports when the workspace was last used. A workspace with an
// open readiness watch is never idle.
func (w *Workspace) idleSince() (time.Time, bool) {
	if w.watching() {
		return time.Time{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastSeen, true
}
