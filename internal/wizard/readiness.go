package wizard

import (
	"context"
	"errors"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/readiness"
)

// ReadinessFunc checks a statement type for an entity.
type ReadinessFunc func(ctx context.Context, statement, entity string) (backend.Readiness, error)

type pollerRef struct {
	poller *readiness.Poller
	refs   int
}

// WatchReadiness returns the live poller of statement, creating it when no
// one watches it yet. The returned release func must be called once; the
// poller is closed when its last watcher releases it.
func (w *Workspace) WatchReadiness(statement string) (*readiness.Poller, func(), error) {
	entity := w.EntityCode()
	if entity == "" {
		return nil, nil, ErrNoEntity
	}
	if w.readiness == nil {
		return nil, nil, errors.New("wizard: readiness checks not configured")
	}
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	ref, ok := w.pollers[statement]
	if !ok {
		check := w.readiness
		opts := append(append([]readiness.Option(nil), w.pollerOpts...), readiness.WithAutoRefresh(w.autoRefreshLocked(statement)))
		p := readiness.NewPoller(statement, entity, func(ctx context.Context, entity string) (backend.Readiness, error) {
			return check(ctx, statement, entity)
		}, opts...)
		ref = &pollerRef{poller: p}
		w.pollers[statement] = ref
	}
	ref.refs++
	released := false
	return ref.poller, func() {
		w.pollMu.Lock()
		if released {
			w.pollMu.Unlock()
			return
		}
		released = true
		ref.refs--
		last := ref.refs == 0
		if last && w.pollers[statement] == ref {
			delete(w.pollers, statement)
		}
		w.pollMu.Unlock()
		w.touch(w.now())
		if last {
			ref.poller.Close()
		}
	}, nil
}

func (w *Workspace) watching() bool {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	for _, ref := range w.pollers {
		if ref.refs > 0 {
			return true
		}
	}
	return false
}

// Readiness returns the live poller of statement, if any.
func (w *Workspace) Readiness(statement string) (*readiness.Poller, bool) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	ref, ok := w.pollers[statement]
	if !ok {
		return nil, false
	}
	return ref.poller, true
}

// SetAutoRefresh records the auto-refresh preference of statement and
// applies it to the live poller.
func (w *Workspace) SetAutoRefresh(statement string, on bool) (readiness.Snapshot, bool) {
	w.pollMu.Lock()
	w.autoRefresh[statement] = on
	ref, ok := w.pollers[statement]
	w.pollMu.Unlock()
	if !ok {
		return readiness.Snapshot{Statement: statement, Entity: w.EntityCode(), Phase: readiness.PhaseIdle, AutoRefresh: on, Countdown: readiness.CountdownStart}, false
	}
	return ref.poller.SetAutoRefresh(on), true
}

// AutoRefresh reports the auto-refresh preference of statement.
func (w *Workspace) AutoRefresh(statement string) bool {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	return w.autoRefreshLocked(statement)
}

func (w *Workspace) autoRefreshLocked(statement string) bool {
	on, ok := w.autoRefresh[statement]
	return !ok || on
}

func (w *Workspace) rebindPollers(entity string) {
	w.pollMu.Lock()
	live := make([]*readiness.Poller, 0, len(w.pollers))
	for _, ref := range w.pollers {
		live = append(live, ref.poller)
	}
	w.pollMu.Unlock()
	for _, p := range live {
		p.SetEntity(entity)
	}
}

func (w *Workspace) closePollers() {
	w.pollMu.Lock()
	live := w.pollers
	w.pollers = make(map[string]*pollerRef)
	w.pollMu.Unlock()
	for _, ref := range live {
		ref.poller.Close()
	}
}
