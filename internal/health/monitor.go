// Package health aggregates cipher operation outcomes into operator-facing
// reports: counters, derived scores, health classification, alerts, and
// per-tenant credential status.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldlite/credvault/pkg/schema"
)

// StatusSource provides per-tenant credential summaries for reports.
// Satisfied by store.LibSQLStore.
type StatusSource interface {
	TenantStatuses(ctx context.Context) ([]schema.TenantStatus, error)
}

// Monitor turns a Counters instance into health reports.
type Monitor struct {
	counters *Counters
	statuses StatusSource
	logger   *slog.Logger
	rules    []alertRule
}

// NewMonitor creates a Monitor. statuses may be nil, in which case reports
// omit per-tenant status.
func NewMonitor(counters *Counters, statuses StatusSource, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := compileRules()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		counters: counters,
		statuses: statuses,
		logger:   logger,
		rules:    rules,
	}, nil
}

// Metrics returns a point-in-time snapshot of the counters.
func (m *Monitor) Metrics() Snapshot {
	return m.counters.Snapshot()
}

// Reset zeroes all counters.
func (m *Monitor) Reset() {
	m.counters.Reset()
}

// Classify maps a snapshot to an overall health status. Critical
// conditions are checked strictly before warning conditions: a snapshot
// satisfying both is always critical. Any recorded plaintext usage forces
// critical regardless of the other metrics.
func (m *Monitor) Classify(s Snapshot) schema.HealthStatus {
	switch {
	case s.MethodUsage[schema.MethodPlaintext] > 0,
		s.SuccessRate() < successRateCritical,
		s.SecurityScore() < securityScoreCritical:
		return schema.StatusCritical
	case s.SuccessRate() < successRateWarning,
		s.SecurityScore() < securityScoreWarning,
		s.MethodUsage[schema.MethodLegacy] > s.MethodUsage[schema.MethodPBKDF2]:
		return schema.StatusWarning
	default:
		return schema.StatusHealthy
	}
}

// GenerateAlerts evaluates the ordered rule table against a snapshot and
// returns every alert that fired, in rule order.
func (m *Monitor) GenerateAlerts(s Snapshot) []schema.Alert {
	alerts := make([]schema.Alert, 0, len(m.rules))
	for i := range m.rules {
		r := &m.rules[i]
		fired, err := r.fires(s)
		if err != nil {
			m.logger.Error("alert rule evaluation failed",
				slog.String("metric", r.metric), slog.String("reason", err.Error()))
			continue
		}
		if !fired {
			continue
		}
		alerts = append(alerts, schema.Alert{
			Level:   r.level,
			Message: r.message,
			Metric:  r.metric,
			Value:   r.value(s),
		})
	}
	return alerts
}

// Recommendations derives operator next steps from a snapshot. The rule
// list is fixed and emitted in order.
func (m *Monitor) Recommendations(s Snapshot) []string {
	var recs []string
	if s.MethodUsage[schema.MethodPlaintext] > 0 {
		recs = append(recs, "Rotate exposed plaintext credentials and run force_migration for the affected tenants immediately.")
	}
	if s.MethodUsage[schema.MethodLegacy] > s.MethodUsage[schema.MethodPBKDF2] {
		recs = append(recs, "Schedule a force_migration to converge legacy credentials to the current format.")
	}
	if s.SuccessRate() < successRateWarning {
		recs = append(recs, "Investigate cipher failures: check for application secret drift and corrupted credential rows.")
	}
	if s.CacheEfficiency() < cacheEfficiencyFloor {
		recs = append(recs, "Key-derivation cache efficiency is low: verify account SIDs are stable per tenant.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No action required.")
	}
	return recs
}

// ClassifyTrends buckets the report metrics into improving, degrading and
// stable lists using the same thresholds as the alert rules.
func (m *Monitor) ClassifyTrends(s Snapshot) schema.Trends {
	var t schema.Trends

	if s.SelfHealingReencryptions > 0 {
		t.Improving = append(t.Improving, "self_healing")
	} else {
		t.Stable = append(t.Stable, "self_healing")
	}

	if s.SuccessRate() < successRateWarning {
		t.Degrading = append(t.Degrading, "success_rate")
	} else {
		t.Stable = append(t.Stable, "success_rate")
	}

	switch {
	case s.MethodUsage[schema.MethodPlaintext] > 0,
		s.MethodUsage[schema.MethodLegacy] > s.MethodUsage[schema.MethodPBKDF2]:
		t.Degrading = append(t.Degrading, "security_score")
	default:
		t.Stable = append(t.Stable, "security_score")
	}

	if s.CacheEfficiency() < cacheEfficiencyFloor {
		t.Degrading = append(t.Degrading, "cache_efficiency")
	} else {
		t.Stable = append(t.Stable, "cache_efficiency")
	}

	return t
}

// Report assembles the full admin health report from the current counters
// and the tenant credential store.
func (m *Monitor) Report(ctx context.Context) (*schema.HealthReport, error) {
	s := m.counters.Snapshot()

	report := &schema.HealthReport{
		Status:      m.Classify(s),
		GeneratedAt: time.Now().UTC(),
		Metrics:     metricsMap(s),
		Scores: schema.Scores{
			Overall:         s.SecurityScore(),
			SuccessRate:     s.SuccessRate(),
			CacheEfficiency: s.CacheEfficiency(),
		},
		Alerts:          m.GenerateAlerts(s),
		Recommendations: m.Recommendations(s),
		Trends:          m.ClassifyTrends(s),
	}

	if m.statuses != nil {
		statuses, err := m.statuses.TenantStatuses(ctx)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "load tenant statuses").WithCause(err)
		}
		report.TenantStatus = statuses
	}

	return report, nil
}

func metricsMap(s Snapshot) map[string]any {
	return map[string]any{
		"encryption_attempts":        s.EncryptionAttempts,
		"encryption_successes":       s.EncryptionSuccesses,
		"encryption_failures":        s.EncryptionFailures,
		"decryption_attempts":        s.DecryptionAttempts,
		"decryption_successes":       s.DecryptionSuccesses,
		"decryption_failures":        s.DecryptionFailures,
		"fallback_decryptions":       s.FallbackDecryptions,
		"self_healing_reencryptions": s.SelfHealingReencryptions,
		"method_usage":               s.MethodUsage,
		"cache_hits":                 s.CacheHits,
		"cache_misses":               s.CacheMisses,
	}
}
