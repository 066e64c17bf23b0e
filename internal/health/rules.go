package health

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/fieldlite/credvault/pkg/schema"
)

// Threshold constants for classification and alerting.
const (
	successRateCritical   = 50.0
	successRateWarning    = 80.0
	securityScoreCritical = 30.0
	securityScoreWarning  = 60.0
	cacheEfficiencyFloor  = 70.0
)

// alertRule is one entry of the fixed, ordered alert rule table. The
// condition is an expr program compiled once at construction and evaluated
// against the snapshot environment. Rules are independent: several may
// fire for the same snapshot.
type alertRule struct {
	level     schema.AlertLevel
	metric    string
	condition string
	message   string
	value     func(Snapshot) float64

	program *vm.Program
}

// ruleTable returns the alert rules in their mandated evaluation order:
// critical rules first, then warnings, then the self-healing info rule,
// which is always emitted when any re-encryption has happened.
func ruleTable() []alertRule {
	return []alertRule{
		{
			level:     schema.AlertCritical,
			metric:    "plaintext_usage",
			condition: "plaintext_uses > 0",
			message:   "plaintext credential usage detected; rotate and migrate immediately",
			value:     func(s Snapshot) float64 { return float64(s.MethodUsage[schema.MethodPlaintext]) },
		},
		{
			level:     schema.AlertCritical,
			metric:    "success_rate",
			condition: fmt.Sprintf("success_rate < %v", successRateCritical),
			message:   "cipher operation success rate is critically low",
			value:     Snapshot.SuccessRate,
		},
		{
			level:     schema.AlertCritical,
			metric:    "security_score",
			condition: fmt.Sprintf("security_score < %v", securityScoreCritical),
			message:   "security score is critically low",
			value:     Snapshot.SecurityScore,
		},
		{
			level:     schema.AlertWarning,
			metric:    "legacy_usage",
			condition: "legacy_uses > pbkdf2_uses",
			message:   "legacy-format usage exceeds current-format usage",
			value:     func(s Snapshot) float64 { return float64(s.MethodUsage[schema.MethodLegacy]) },
		},
		{
			level: schema.AlertWarning,
			metric: "success_rate",
			condition: fmt.Sprintf("success_rate >= %v && success_rate < %v",
				successRateCritical, successRateWarning),
			message: "cipher operation success rate is degraded",
			value:   Snapshot.SuccessRate,
		},
		{
			level:     schema.AlertWarning,
			metric:    "cache_efficiency",
			condition: fmt.Sprintf("cache_efficiency < %v", cacheEfficiencyFloor),
			message:   "key-derivation cache efficiency is low",
			value:     Snapshot.CacheEfficiency,
		},
		{
			level:     schema.AlertInfo,
			metric:    "self_healing",
			condition: "self_healing > 0",
			message:   "self-healing re-encryptions have upgraded stored credentials",
			value:     func(s Snapshot) float64 { return float64(s.SelfHealingReencryptions) },
		},
	}
}

// ruleEnv is the expression environment a snapshot exposes to rule conditions.
func ruleEnv(s Snapshot) map[string]any {
	return map[string]any{
		"success_rate":     s.SuccessRate(),
		"security_score":   s.SecurityScore(),
		"cache_efficiency": s.CacheEfficiency(),
		"plaintext_uses":   s.MethodUsage[schema.MethodPlaintext],
		"legacy_uses":      s.MethodUsage[schema.MethodLegacy],
		"pbkdf2_uses":      s.MethodUsage[schema.MethodPBKDF2],
		"self_healing":     s.SelfHealingReencryptions,
		"fallbacks":        s.FallbackDecryptions,
	}
}

// compileRules compiles every rule condition against the snapshot
// environment shape. Conditions are static, so a compile failure is a
// programming error surfaced at construction time.
func compileRules() ([]alertRule, error) {
	rules := ruleTable()
	env := ruleEnv(Snapshot{MethodUsage: map[string]int64{}})
	for i := range rules {
		prg, err := expr.Compile(rules[i].condition, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"compile alert rule %q: %s", rules[i].metric, err.Error()).WithCause(err)
		}
		rules[i].program = prg
	}
	return rules, nil
}

// fires evaluates the rule condition against a snapshot.
func (r *alertRule) fires(s Snapshot) (bool, error) {
	out, err := vm.Run(r.program, ruleEnv(s))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"evaluate alert rule %q: %s", r.metric, err.Error()).WithCause(err)
	}
	b, _ := out.(bool)
	return b, nil
}
