package observability

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var metricName = regexp.MustCompile(`closeflow_[a-z_]+`)

func loadAlertRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "closeflow.yml"))
	require.NoError(t, err)
	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, g := range file.Groups {
		if g.Name == "closeflow" {
			return g.Rules
		}
	}
	t.Fatal("closeflow alert group missing")
	return nil
}

func TestCloseflowAlertRules(t *testing.T) {
	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"HighErrorRate":          {severity: "critical", runbook: "docs/runbook.md#high-error-rate"},
		"ReadinessChecksFailing": {severity: "warning", runbook: "docs/runbook.md#readiness-checks-failing"},
		"GenerationFailures":     {severity: "warning", runbook: "docs/runbook.md#generation-failures"},
	}

	rules := loadAlertRules(t)
	require.Len(t, rules, len(expected))
	for _, rule := range rules {
		want, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		require.Equal(t, want.runbook, rule.Annotations["runbook"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		require.NotEmpty(t, rule.Expr, rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
	}
}

func TestAlertExpressionsUseRegisteredMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveReadinessCheck("pnl", "manual", "error", time.Millisecond)
	m.ObserveGeneration("pnl", "sync", "failure")
	m.ObserveFileOperation("delete", errors.New("locked"))
	m.requestsTotal.WithLabelValues("/api/state", "200").Inc()
	m.requestDuration.WithLabelValues("/api/state").Observe(0.01)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	registered := make(map[string]struct{}, len(families))
	for _, f := range families {
		registered[f.GetName()] = struct{}{}
	}

	for _, rule := range loadAlertRules(t) {
		names := metricName.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, names, "rule %s references no closeflow metric", rule.Alert)
		for _, name := range names {
			require.Contains(t, registered, name, "rule %s", rule.Alert)
		}
	}
}
