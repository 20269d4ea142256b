// Package entity resolves which reporting entity a client is working on.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/prefs"
)

var (
	// ErrNoEntities is returned when the backend knows no entities.
	ErrNoEntities = errors.New("entity: backend returned no entities")
	// ErrUnknownEntity is returned when selecting a code the backend does not list.
	ErrUnknownEntity = errors.New("entity: unknown entity")
)

// Lister fetches the entity list.
type Lister interface {
	ListEntities(ctx context.Context) ([]backend.Entity, error)
}

// Selection is the resolved entity plus the list it was chosen from.
type Selection struct {
	Current  backend.Entity   `json:"current"`
	Entities []backend.Entity `json:"entities"`
}

// Selector resolves and persists the selected entity.
type Selector struct {
	lister Lister
	kv     prefs.KV
	logger *slog.Logger
}

// NewSelector constructs a Selector.
func NewSelector(lister Lister, kv prefs.KV, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{lister: lister, kv: kv, logger: logger}
}

// Resolve returns the stored entity when it is still listed, otherwise the
// first listed entity, which is then persisted.
func (s *Selector) Resolve(ctx context.Context) (Selection, error) {
	entities, err := s.lister.ListEntities(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("entity: list: %w", err)
	}
	if len(entities) == 0 {
		return Selection{}, ErrNoEntities
	}
	stored, ok, err := s.kv.Get(ctx, prefs.KeySelectedEntity)
	if err != nil {
		s.logger.Warn("entity: read stored selection", slog.Any("error", err))
	}
	if ok {
		if e, found := find(entities, stored); found {
			return Selection{Current: e, Entities: entities}, nil
		}
	}
	current := entities[0]
	if err := s.kv.Set(ctx, prefs.KeySelectedEntity, current.Code); err != nil {
		s.logger.Warn("entity: persist default selection", slog.Any("error", err))
	}
	return Selection{Current: current, Entities: entities}, nil
}

// Select persists code as the selected entity after checking it exists. The
// returned selection carries the entity list fetched for the check.
func (s *Selector) Select(ctx context.Context, code string) (Selection, error) {
	code = strings.TrimSpace(code)
	entities, err := s.lister.ListEntities(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("entity: list: %w", err)
	}
	e, found := find(entities, code)
	if !found {
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownEntity, code)
	}
	if err := s.kv.Set(ctx, prefs.KeySelectedEntity, e.Code); err != nil {
		return Selection{}, fmt.Errorf("entity: persist selection: %w", err)
	}
	return Selection{Current: e, Entities: entities}, nil
}

func find(entities []backend.Entity, code string) (backend.Entity, bool) {
	if code == "" {
		return backend.Entity{}, false
	}
	for _, e := range entities {
		if e.Code == code || (e.ShortCode != "" && e.ShortCode == code) {
			return e, true
		}
	}
	return backend.Entity{}, false
}
