package applyengine

import "errors"

// ErrValidationFailed means the data plane rejected the generated config via
// its -test invocation. The caller's on-disk config is left unchanged.
var ErrValidationFailed = errors.New("applyengine: config validation failed")

// ErrApplyFailed means the runtime control verb (reload/restart) failed or
// the post-apply health check never reported healthy.
var ErrApplyFailed = errors.New("applyengine: apply failed")

// Kind maps an applyengine error to the machine-readable kind the
// (out-of-scope) HTTP layer would surface to a caller.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrApplyFailed):
		return "CONFLICT"
	default:
		return ""
	}
}
