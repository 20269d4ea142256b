// Package prefs persists the per-client wizard selections (entity, period,
// currency) that survive across sessions.
package prefs

import (
	"context"
	"errors"
	"strings"
)

// KeySelectedEntity is the global key holding the selected entity code.
const KeySelectedEntity = "selectedEntity"

// PeriodKey returns the key holding the selected period of an entity.
func PeriodKey(entity string) string {
	return "selectedPeriod_" + entity
}

// CurrencyKey returns the key holding the selected display currency of an entity.
func CurrencyKey(entity string) string {
	return "selectedCurrency_" + entity
}

// ErrNamespaceRequired is returned when a client namespace is empty.
var ErrNamespaceRequired = errors.New("prefs: namespace required")

// Store is the durable backing storage shared by all clients.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
}

// KV is the storage view of a single client.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Bind scopes store to one client namespace.
func Bind(store Store, namespace string) KV {
	return scoped{store: store, namespace: strings.TrimSpace(namespace)}
}

type scoped struct {
	store     Store
	namespace string
}

func (s scoped) Get(ctx context.Context, key string) (string, bool, error) {
	if s.namespace == "" {
		return "", false, ErrNamespaceRequired
	}
	return s.store.Get(ctx, s.namespace, key)
}

func (s scoped) Set(ctx context.Context, key, value string) error {
	if s.namespace == "" {
		return ErrNamespaceRequired
	}
	return s.store.Set(ctx, s.namespace, key, value)
}

func (s scoped) Delete(ctx context.Context, key string) error {
	if s.namespace == "" {
		return ErrNamespaceRequired
	}
	return s.store.Delete(ctx, s.namespace, key)
}
