// Package readiness polls the backend until a statement type has every
// prerequisite note in place.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

const (
	// DefaultRefreshInterval is the delay between automatic checks.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultCountdownInterval is the countdown tick.
	DefaultCountdownInterval = time.Second
	// CountdownStart is the value the countdown resets to.
	CountdownStart = 10

	// CheckFailedMessage is recorded when a check fails.
	CheckFailedMessage = "Failed to check readiness status"
)

// ErrClosed is returned by Check after Close.
var ErrClosed = errors.New("readiness: poller closed")

// Phase is the externally visible poller state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePolling Phase = "polling"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// Checker asks the backend whether entity is ready.
type Checker func(ctx context.Context, entity string) (backend.Readiness, error)

// Observer records check outcomes.
type Observer interface {
	ObserveReadinessCheck(statement, trigger, outcome string, elapsed time.Duration)
}

// Trigger names what started a check.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerTimer  Trigger = "timer"
)

// Snapshot is a copy of the poller state.
type Snapshot struct {
	Statement   string             `json:"statement"`
	Entity      string             `json:"entity"`
	Phase       Phase              `json:"phase"`
	Result      *backend.Readiness `json:"result"`
	Loading     bool               `json:"loading"`
	Error       string             `json:"error,omitempty"`
	Countdown   int                `json:"countdown"`
	AutoRefresh bool               `json:"auto_refresh"`
	CheckedAt   *time.Time         `json:"checked_at,omitempty"`
}

// Option customises a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithIntervals overrides the refresh and countdown intervals.
func WithIntervals(refresh, countdown time.Duration) Option {
	return func(p *Poller) {
		if refresh > 0 {
			p.refreshEvery = refresh
		}
		if countdown > 0 {
			p.countdownEvery = countdown
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithAutoRefresh sets the initial auto-refresh toggle (default on).
func WithAutoRefresh(on bool) Option {
	return func(p *Poller) { p.auto = on }
}

type loop struct {
	cancel    context.CancelFunc
	refresh   Ticker
	countdown Ticker
}

func (l *loop) stop() {
	l.cancel()
	l.refresh.Stop()
	l.countdown.Stop()
}

// Poller is the readiness state machine of one statement type.
type Poller struct {
	statement      string
	check          Checker
	clock          Clock
	logger         *slog.Logger
	observer       Observer
	refreshEvery   time.Duration
	countdownEvery time.Duration

	mu         sync.Mutex
	entity     string
	generation uint64
	result     *backend.Readiness
	inflight   int
	errMsg     string
	countdown  int
	auto       bool
	checkedAt  *time.Time
	active     *loop
	closed     bool
	subs       map[int]chan Snapshot
	nextSub    int

	loops sync.WaitGroup
}

// NewPoller constructs a Poller for statement bound to entity.
func NewPoller(statement, entity string, check Checker, opts ...Option) *Poller {
	p := &Poller{
		statement:      statement,
		entity:         entity,
		check:          check,
		clock:          SystemClock{},
		logger:         slog.Default(),
		refreshEvery:   DefaultRefreshInterval,
		countdownEvery: DefaultCountdownInterval,
		countdown:      CountdownStart,
		auto:           true,
		subs:           make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check asks the backend once and records the result. A failure records a
// generic message and keeps the previous result.
func (p *Poller) Check(ctx context.Context) (Snapshot, error) {
	return p.run(ctx, TriggerManual)
}

func (p *Poller) run(ctx context.Context, trigger Trigger) (Snapshot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	entity, gen := p.entity, p.generation
	p.inflight++
	p.errMsg = ""
	p.publishLocked()
	p.mu.Unlock()

	start := p.clock.Now()
	result, err := p.check(ctx, entity)
	elapsed := p.clock.Now().Sub(start)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.closed || p.generation != gen || (err != nil && ctx.Err() != nil) {
		p.observe(trigger, "discarded", elapsed)
		p.publishLocked()
		return p.snapshotLocked(), err
	}
	if err != nil {
		p.errMsg = CheckFailedMessage
		p.logger.Warn("readiness: check failed",
			slog.String("statement", p.statement),
			slog.String("entity", entity),
			slog.Any("error", err),
		)
		p.observe(trigger, "error", elapsed)
	} else {
		normalise(&result)
		p.result = &result
		now := p.clock.Now()
		p.checkedAt = &now
		outcome := "not_ready"
		if result.IsReady {
			outcome = "ready"
		}
		p.observe(trigger, outcome, elapsed)
	}
	p.countdown = CountdownStart
	if err == nil {
		p.reconcileLocked()
	}
	p.publishLocked()
	if err != nil {
		return p.snapshotLocked(), fmt.Errorf("readiness: check %s: %w", p.statement, err)
	}
	return p.snapshotLocked(), nil
}

// SetAutoRefresh toggles automatic polling.
func (p *Poller) SetAutoRefresh(on bool) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.auto != on {
		p.auto = on
		p.reconcileLocked()
		p.publishLocked()
	}
	return p.snapshotLocked()
}

// SetEntity rebinds the poller. The previous result is dropped.
func (p *Poller) SetEntity(entity string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entity != entity {
		p.entity = entity
		p.generation++
		p.result = nil
		p.errMsg = ""
		p.checkedAt = nil
		p.countdown = CountdownStart
		p.reconcileLocked()
		p.publishLocked()
	}
	return p.snapshotLocked()
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe returns a channel receiving the latest snapshot after each
// change. Slow readers only see the most recent snapshot.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.snapshotLocked()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops all timers, closes subscriptions and waits for the loop.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.loops.Wait()
		return
	}
	p.closed = true
	if p.active != nil {
		p.active.stop()
		p.active = nil
	}
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.mu.Unlock()
	p.loops.Wait()
}

// reconcileLocked tears down any running loop and starts a fresh one when
// polling should be active.
func (p *Poller) reconcileLocked() {
	if p.active != nil {
		p.active.stop()
		p.active = nil
	}
	if p.closed || !p.auto || p.result == nil || p.result.IsReady {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		cancel:    cancel,
		refresh:   p.clock.NewTicker(p.refreshEvery),
		countdown: p.clock.NewTicker(p.countdownEvery),
	}
	p.active = l
	p.loops.Add(1)
	go p.loop(ctx, l)
}

func (p *Poller) loop(ctx context.Context, l *loop) {
	defer p.loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.refresh.C():
			if ctx.Err() != nil {
				return
			}
			_, _ = p.run(ctx, TriggerTimer)
		case <-l.countdown.C():
			if ctx.Err() != nil {
				return
			}
			p.tick(l)
		}
	}
}

func (p *Poller) tick(l *loop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != l {
		return
	}
	if p.countdown <= 0 {
		p.countdown = CountdownStart
	} else {
		p.countdown--
	}
	p.publishLocked()
}

func (p *Poller) snapshotLocked() Snapshot {
	s := Snapshot{
		Statement:   p.statement,
		Entity:      p.entity,
		Loading:     p.inflight > 0,
		Error:       p.errMsg,
		Countdown:   p.countdown,
		AutoRefresh: p.auto,
	}
	if p.result != nil {
		r := *p.result
		s.Result = &r
	}
	if p.checkedAt != nil {
		at := *p.checkedAt
		s.CheckedAt = &at
	}
	switch {
	case p.result != nil && p.result.IsReady:
		s.Phase = PhaseReady
	case p.errMsg != "":
		s.Phase = PhaseError
	case p.active != nil:
		s.Phase = PhasePolling
	default:
		s.Phase = PhaseIdle
	}
	return s
}

func (p *Poller) publishLocked() {
	if len(p.subs) == 0 {
		return
	}
	snap := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (p *Poller) observe(trigger Trigger, outcome string, elapsed time.Duration) {
	if p.observer == nil {
		return
	}
	p.observer.ObserveReadinessCheck(p.statement, string(trigger), outcome, elapsed)
}

func normalise(r *backend.Readiness) {
	if r.MissingNotes == nil {
		r.MissingNotes = []backend.Ident{}
	}
	if r.FoundNotes == nil {
		r.FoundNotes = []backend.Ident{}
	}
	if r.Config == nil {
		r.Config = map[string]any{}
	}
}
