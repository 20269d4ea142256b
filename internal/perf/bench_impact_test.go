package perf

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/impact"
	"github.com/odyssey-erp/closeflow/internal/period"
)

var classifications = []string{"Accrual", "Reclass", "Provision", "Prepayment"}

func impactDataset(gls int) (backend.ImpactSummary, []backend.AdjustmentRecord) {
	records := make([]backend.AdjustmentRecord, 0, gls)
	changes := make([]backend.GLChange, 0, gls)
	for i := 0; i < gls; i++ {
		code := backend.Ident(fmt.Sprintf("%05d", i))
		records = append(records, backend.AdjustmentRecord{
			Account:        code,
			Debit:          decimal.NewFromInt(int64(i % 97)),
			Classification: classifications[i%len(classifications)],
		})
		changes = append(changes, backend.GLChange{
			GLCode:   code,
			Category: fmt.Sprintf("cat-%d", i%12),
			Before:   decimal.NewFromInt(int64(i)),
			After:    decimal.NewFromInt(int64(i + i%97)),
			Change:   decimal.NewFromInt(int64(i % 97)),
		})
	}
	byCategory := map[string][]backend.GLChange{}
	for _, c := range changes {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}
	summary := backend.ImpactSummary{GLChanges: changes}
	for cat, list := range byCategory {
		summary.Categories = append(summary.Categories, backend.CategoryImpact{Category: cat, TotalGLs: len(list), GLChanges: list})
	}
	return summary, records
}

type fixedRate decimal.Decimal

func (r fixedRate) Convert(v decimal.Decimal) decimal.Decimal { return v.Mul(decimal.Decimal(r)) }

func TestImpactFilterLatencyTargets(t *testing.T) {
	summary, records := impactDataset(5000)
	conv := fixedRate(decimal.RequireFromString("0.012"))

	samples := make([]time.Duration, 0, 20)
	for i := 0; i < 20; i++ {
		start := time.Now()
		view := impact.BuildView(summary, records, classifications[i%len(classifications)], conv)
		samples = append(samples, time.Since(start))
		if len(view.Categories) != 12 {
			t.Fatalf("expected 12 categories, got %d", len(view.Categories))
		}
	}
	if p95 := percentile95(samples); p95 > 500*time.Millisecond {
		t.Fatalf("impact filter latency regression: p95=%s", p95)
	}
}

func BenchmarkImpactBuildView(b *testing.B) {
	summary, records := impactDataset(5000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		impact.BuildView(summary, records, "Accrual", nil)
	}
}

func BenchmarkLatestPeriodKey(b *testing.B) {
	keys := make([]string, 0, 120)
	for y := 2015; y < 2025; y++ {
		for _, m := range []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"} {
			keys = append(keys, fmt.Sprintf("%s_%d", m, y))
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		period.LatestKey(keys)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
