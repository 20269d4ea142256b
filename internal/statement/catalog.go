// Package statement describes the generated statement types and guards their
// generation.
package statement

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ErrUnknownStatement is returned for keys missing from the catalog.
var ErrUnknownStatement = errors.New("statement: unknown statement type")

// Definition describes one statement type.
type Definition struct {
	Key               string `yaml:"key" json:"key"`
	Title             string `yaml:"title" json:"title"`
	Description       string `yaml:"description" json:"description"`
	RequiresReadiness bool   `yaml:"requires_readiness" json:"requires_readiness"`
	Finalyzer         bool   `yaml:"finalyzer" json:"finalyzer"`
}

// Catalog is the ordered set of statement types.
type Catalog struct {
	defs  []Definition
	byKey map[string]Definition
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Statements []Definition `yaml:"statements"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("statement: parse catalog: %w", err)
	}
	c := &Catalog{byKey: make(map[string]Definition, len(doc.Statements))}
	for _, d := range doc.Statements {
		if d.Key == "" {
			return nil, errors.New("statement: catalog entry without key")
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("statement: duplicate catalog key %q", d.Key)
		}
		c.defs = append(c.defs, d)
		c.byKey[d.Key] = d
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Get looks up a statement type.
func (c *Catalog) Get(key string) (Definition, error) {
	d, ok := c.byKey[key]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownStatement, key)
	}
	return d, nil
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Keys returns the statement keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		keys = append(keys, d.Key)
	}
	return keys
}
