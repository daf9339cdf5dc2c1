package app

import (
	"github.com/one-ui/control-plane/internal/config"
	"github.com/one-ui/control-plane/internal/domain/rule"
	"github.com/one-ui/control-plane/internal/service/updatecoordinator"
)

// toDeviceRules converts the operator-facing device enforcement config into
// the domain rule shape the CEL evaluator consumes.
func toDeviceRules(cfgs []config.RuleConfig) []rule.Rule {
	rules := make([]rule.Rule, 0, len(cfgs))
	for _, c := range cfgs {
		rules = append(rules, rule.Rule{
			Name:      c.Name,
			Condition: c.Condition,
			Action:    rule.Outcome(c.Action),
		})
	}
	return rules
}

// toPreflightChecks converts the operator-facing update preflight config
// into updatecoordinator's CustomCheck shape.
func toPreflightChecks(cfgs []config.PreflightCheckConfig) []updatecoordinator.CustomCheck {
	checks := make([]updatecoordinator.CustomCheck, 0, len(cfgs))
	for _, c := range cfgs {
		checks = append(checks, updatecoordinator.CustomCheck{
			ID:        c.ID,
			Label:     c.Label,
			Condition: c.Condition,
			Blocking:  c.Blocking,
		})
	}
	return checks
}
