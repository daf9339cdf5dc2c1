// Package rule contains the shared CEL evaluation-context and decision types
// used by the device tracker's enforcement overrides and the update
// coordinator's custom preflight checks.
package rule

import "time"

// Outcome is the result of a matched rule.
type Outcome string

const (
	// Allow permits the action the rule gates.
	Allow Outcome = "allow"
	// Deny blocks the action the rule gates.
	Deny Outcome = "deny"
)

// Rule is a single named CEL-gated condition plus the outcome to apply when
// it matches. Mirrors config.RuleConfig; kept separate so the domain layer
// does not import the config package.
type Rule struct {
	Name      string
	Condition string
	Action    Outcome
}

// EvaluationContext carries every variable a rule condition may reference.
// Not every field is populated by every caller: the device tracker fills the
// user/device/network fields, the update coordinator fills the system/update
// fields. Unused fields are left at their zero value.
type EvaluationContext struct {
	// Device/user admission fields.
	UserID      string
	UserTier    string
	DeviceCount int
	DeviceLimit int
	IPCount     int
	IPLimit     int
	IP          string
	InboundTag  string
	Protocol    string

	// System/update preflight fields.
	SystemCPUPercent    float64
	SystemMemPercent    float64
	SystemDiskPercent   float64
	ActiveConnections   int
	UpdatePhase         string
	TargetVersion       string
	CurrentVersion      string

	RequestTime time.Time
}

// Decision is the outcome of evaluating an ordered list of rules against an
// EvaluationContext.
type Decision struct {
	// Matched is true if some rule's condition evaluated to true.
	Matched bool
	// RuleName is the name of the matching rule (empty if Matched is false).
	RuleName string
	// Outcome is the matching rule's action (zero value if Matched is false).
	Outcome Outcome
}
