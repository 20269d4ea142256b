// Package currency resolves the display currency of a client and converts
// local-currency amounts into it.
package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/prefs"
)

var (
	// ErrNoEntity is returned when no entity has been selected yet.
	ErrNoEntity = errors.New("currency: no entity selected")
	// ErrStale is returned when a response arrives after the entity changed.
	ErrStale = errors.New("currency: response superseded by entity switch")
)

// DefaultReportingCurrencies is used when none are configured.
var DefaultReportingCurrencies = []string{"USD", "INR"}

// Backend fetches the currency context of an entity.
type Backend interface {
	CurrencyContext(ctx context.Context, entity string, reporting []string, forceRefresh bool) (backend.CurrencyContext, error)
}

type selectInput struct {
	Code string `validate:"required,len=3,alpha"`
}

// Service holds the currency context of one client.
type Service struct {
	backend   Backend
	kv        prefs.KV
	logger    *slog.Logger
	validate  *validator.Validate
	reporting []string

	mu         sync.RWMutex
	generation uint64
	entity     string
	selected   string
	local      *Info
	rates      []Rate
	refreshed  string
}

// NewService constructs a Service.
func NewService(b Backend, kv prefs.KV, reporting []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if len(reporting) == 0 {
		reporting = DefaultReportingCurrencies
	}
	return &Service{
		backend:   b,
		kv:        kv,
		logger:    logger,
		validate:  validator.New(),
		reporting: append([]string(nil), reporting...),
	}
}

// SwitchEntity resets the context for entity and reads its persisted selection.
func (s *Service) SwitchEntity(ctx context.Context, entity string) {
	stored, ok, err := s.kv.Get(ctx, prefs.CurrencyKey(entity))
	if err != nil {
		s.logger.Warn("currency: read stored selection", slog.String("entity", entity), slog.Any("error", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.entity = entity
	s.selected = ""
	if ok {
		s.selected = stored
	}
	s.local = nil
	s.rates = nil
	s.refreshed = ""
}

// Load fetches the local currency and rates. The fetch bypasses the backend
// cache when a non-local currency is selected.
func (s *Service) Load(ctx context.Context) (State, error) {
	s.mu.RLock()
	entity, gen, selected := s.entity, s.generation, s.selected
	force := selected != "" && s.local != nil && selected != s.local.DefaultCurrency
	s.mu.RUnlock()
	return s.load(ctx, entity, gen, force)
}

func (s *Service) load(ctx context.Context, entity string, gen uint64, force bool) (State, error) {
	if entity == "" {
		return State{}, ErrNoEntity
	}
	cc, err := s.backend.CurrencyContext(ctx, entity, s.reporting, force)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("currency: load %s: %w", entity, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return s.Snapshot(), ErrStale
	}
	s.local = cc.LocalCurrency
	s.rates = append([]Rate(nil), cc.Rates...)
	s.refreshed = cc.LastRefreshed
	persistDefault := ""
	if s.selected == "" && s.local != nil && s.local.DefaultCurrency != "" {
		s.selected = s.local.DefaultCurrency
		persistDefault = s.selected
	}
	state := s.snapshotLocked()
	s.mu.Unlock()

	if persistDefault != "" {
		if err := s.kv.Set(ctx, prefs.CurrencyKey(entity), persistDefault); err != nil {
			s.logger.Warn("currency: persist default selection", slog.String("entity", entity), slog.Any("error", err))
		}
	}
	return state, nil
}

// SetSelected changes the display currency and persists it. Selecting a
// currency other than the local one forces a rate refresh.
func (s *Service) SetSelected(ctx context.Context, code string) (State, error) {
	in := selectInput{Code: strings.ToUpper(strings.TrimSpace(code))}
	if err := s.validate.Struct(in); err != nil {
		return s.Snapshot(), fmt.Errorf("currency: invalid code: %w", err)
	}

	s.mu.Lock()
	entity, gen := s.entity, s.generation
	if entity == "" {
		s.mu.Unlock()
		return State{}, ErrNoEntity
	}
	s.selected = in.Code
	force := s.local == nil || in.Code != s.local.DefaultCurrency
	s.mu.Unlock()

	if err := s.kv.Set(ctx, prefs.CurrencyKey(entity), in.Code); err != nil {
		s.logger.Warn("currency: persist selection", slog.String("entity", entity), slog.Any("error", err))
	}
	if !force {
		return s.Snapshot(), nil
	}
	return s.load(ctx, entity, gen, true)
}

// Snapshot returns the current context.
func (s *Service) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() State {
	state := State{
		Entity:              s.entity,
		Selected:            s.selected,
		ReportingCurrencies: append([]string(nil), s.reporting...),
		Rates:               append([]Rate(nil), s.rates...),
		LastRefreshed:       s.refreshed,
	}
	if s.local != nil {
		local := *s.local
		state.Local = &local
	}
	state.SelectedInfo = selectedInfo(state.Selected, state.Local)
	return state
}

// selectedInfo resolves code against the local currency, then the known
// table, then falls back to the local currency.
func selectedInfo(code string, local *Info) *Info {
	if local != nil && (code == "" || code == local.DefaultCurrency) {
		return local
	}
	if info, ok := Known(code); ok {
		return &info
	}
	return local
}
