// Package impact filters the precomputed adjustment impact of an entity by
// adjustment classification.
package impact

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/closeflow/internal/backend"
)

// Index maps a GL code to every classification it was adjusted under.
type Index map[string]map[string]struct{}

// BuildIndex scans records and collects the distinct classifications per GL code.
func BuildIndex(records []backend.AdjustmentRecord) Index {
	ix := make(Index)
	for _, rec := range records {
		gl := strings.TrimSpace(rec.Account.String())
		class := strings.TrimSpace(rec.Classification)
		if gl == "" || class == "" {
			continue
		}
		set, ok := ix[gl]
		if !ok {
			set = make(map[string]struct{})
			ix[gl] = set
		}
		set[class] = struct{}{}
	}
	return ix
}

// Classifications returns the sorted classifications of gl.
func (ix Index) Classifications(gl string) []string {
	return sortedKeys(ix[gl])
}

// All returns every classification seen, sorted.
func (ix Index) All() []string {
	seen := make(map[string]struct{})
	for _, set := range ix {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Matches reports whether gl passes the filter. An empty classification
// matches everything.
func (ix Index) Matches(gl, classification string) bool {
	if classification == "" {
		return true
	}
	_, ok := ix[gl][classification]
	return ok
}

// Filter keeps the changes whose GL code was adjusted under classification.
// With no classification the input slice is returned as is.
func (ix Index) Filter(changes []backend.GLChange, classification string) []backend.GLChange {
	if classification == "" {
		return changes
	}
	out := make([]backend.GLChange, 0, len(changes))
	for _, c := range changes {
		if ix.Matches(c.GLCode.String(), classification) {
			out = append(out, c)
		}
	}
	return out
}

// Converter maps local-currency amounts into the display currency.
type Converter interface {
	Convert(value decimal.Decimal) decimal.Decimal
}

// CategoryRow is one reporting category of the impact view.
type CategoryRow struct {
	Category     string             `json:"category"`
	TotalGLs     int                `json:"total_gls"`
	ChangedCount int                `json:"changed_count"`
	Before       decimal.Decimal    `json:"before"`
	After        decimal.Decimal    `json:"after"`
	Change       decimal.Decimal    `json:"change"`
	GLChanges    []backend.GLChange `json:"gl_changes"`
}

// View is the filtered impact summary.
type View struct {
	Classification   string             `json:"classification"`
	Classifications  []string           `json:"classifications"`
	TotalAdjustments int                `json:"total_adjustments"`
	Categories       []CategoryRow      `json:"categories"`
	GLChanges        []backend.GLChange `json:"gl_changes"`
}

// BuildView filters both the category drill-downs and the flat GL list with
// the same index. Changed counts always come from the filtered drill-down.
func BuildView(summary backend.ImpactSummary, records []backend.AdjustmentRecord, classification string, conv Converter) View {
	ix := BuildIndex(records)
	classification = strings.TrimSpace(classification)
	view := View{
		Classification:   classification,
		Classifications:  ix.All(),
		TotalAdjustments: summary.TotalAdjustments,
		Categories:       make([]CategoryRow, 0, len(summary.Categories)),
		GLChanges:        convertChanges(ix.Filter(summary.GLChanges, classification), conv),
	}
	if view.TotalAdjustments == 0 {
		view.TotalAdjustments = len(records)
	}
	for _, cat := range summary.Categories {
		filtered := ix.Filter(cat.GLChanges, classification)
		view.Categories = append(view.Categories, CategoryRow{
			Category:     cat.Category,
			TotalGLs:     cat.TotalGLs,
			ChangedCount: len(filtered),
			Before:       convert(conv, cat.Before),
			After:        convert(conv, cat.After),
			Change:       convert(conv, cat.Change),
			GLChanges:    convertChanges(filtered, conv),
		})
	}
	return view
}

func convertChanges(changes []backend.GLChange, conv Converter) []backend.GLChange {
	if changes == nil {
		return []backend.GLChange{}
	}
	if conv == nil {
		return changes
	}
	out := make([]backend.GLChange, len(changes))
	for i, c := range changes {
		c.Before = conv.Convert(c.Before)
		c.After = conv.Convert(c.After)
		c.Change = conv.Convert(c.Change)
		out[i] = c
	}
	return out
}

func convert(conv Converter, v decimal.Decimal) decimal.Decimal {
	if conv == nil {
		return v
	}
	return conv.Convert(v)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
