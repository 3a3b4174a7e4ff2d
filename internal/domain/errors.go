package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for upstream and configuration failures. Callers
// classify with errors.Is; the aggregator decides per kind whether a failure
// aborts the run or only marks the source failed.
var (
	ErrAuth               = errors.New("invalid or expired token")
	ErrNotFound           = errors.New("project or group not accessible")
	ErrForbidden          = errors.New("insufficient scopes")
	ErrFeatureUnavailable = errors.New("feature unavailable on upstream")
	ErrNetwork            = errors.New("upstream unreachable")
)

// ConfigError reports a missing or contradictory configuration field.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Msg) }

// UpstreamError wraps a 5xx or otherwise unexpected upstream response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream api status=%d body=%s", e.Status, e.Body)
}

// Fatal reports whether an aggregation-level error should abort the whole
// run rather than just fail the source it came from.
func Fatal(err error) bool {
	var ce *ConfigError
	return errors.Is(err, ErrAuth) || errors.As(err, &ce)
}

// Remediation maps an error kind to user-facing guidance.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "check that the access token is valid and not expired"
	case errors.Is(err, ErrNotFound):
		return "check the project/group id or path and that the token can see it"
	case errors.Is(err, ErrForbidden):
		return "check that the token carries read_api scope"
	case errors.Is(err, ErrNetwork):
		return "check network connectivity and the upstream base URL"
	default:
		return ""
	}
}
