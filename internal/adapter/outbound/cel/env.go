package cel

import (
	"net"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/one-ui/control-plane/internal/domain/rule"
)

// NewRuleEnvironment creates a CEL environment with the variables and custom
// functions available to both device enforcement overrides and update
// preflight checks. Fields unrelated to a particular caller are simply left
// at their zero value in the activation.
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("user_id", cel.StringType),
		cel.Variable("user_tier", cel.StringType),
		cel.Variable("device_count", cel.IntType),
		cel.Variable("device_limit", cel.IntType),
		cel.Variable("ip_count", cel.IntType),
		cel.Variable("ip_limit", cel.IntType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("inbound_tag", cel.StringType),
		cel.Variable("protocol", cel.StringType),

		cel.Variable("system_cpu_percent", cel.DoubleType),
		cel.Variable("system_mem_percent", cel.DoubleType),
		cel.Variable("system_disk_percent", cel.DoubleType),
		cel.Variable("active_connections", cel.IntType),
		cel.Variable("update_phase", cel.StringType),
		cel.Variable("target_version", cel.StringType),
		cel.Variable("current_version", cel.StringType),

		cel.Variable("request_time", cel.TimestampType),

		// ip_in_cidr: checks if an IP is within a CIDR range.
		// Usage: ip_in_cidr(ip, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr, _ := ipVal.Value().(string)
					cidrStr, _ := cidrVal.Value().(string)

					parsed := net.ParseIP(ipStr)
					if parsed == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrStr)
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(parsed))
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from an EvaluationContext,
// populating every variable the rule environment declares.
func BuildActivation(evalCtx rule.EvaluationContext) map[string]any {
	return map[string]any{
		"user_id":      evalCtx.UserID,
		"user_tier":    evalCtx.UserTier,
		"device_count": int64(evalCtx.DeviceCount),
		"device_limit": int64(evalCtx.DeviceLimit),
		"ip_count":     int64(evalCtx.IPCount),
		"ip_limit":     int64(evalCtx.IPLimit),
		"ip":           evalCtx.IP,
		"inbound_tag":  evalCtx.InboundTag,
		"protocol":     evalCtx.Protocol,

		"system_cpu_percent":  evalCtx.SystemCPUPercent,
		"system_mem_percent":  evalCtx.SystemMemPercent,
		"system_disk_percent": evalCtx.SystemDiskPercent,
		"active_connections":  int64(evalCtx.ActiveConnections),
		"update_phase":        evalCtx.UpdatePhase,
		"target_version":      evalCtx.TargetVersion,
		"current_version":     evalCtx.CurrentVersion,

		"request_time": evalCtx.RequestTime,
	}
}
