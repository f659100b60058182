package engine

import (
	"context"
	"fmt"
	"time"

	"netguard/internal/quality"
	"netguard/internal/report"
	"netguard/internal/security"
)

// Action is the operation a caller wants to run behind the guard.
type Action func(ctx context.Context) (any, error)

// Security violation reasons reported by Guard.
const (
	ReasonVPNDetected         = "vpn detected"
	ReasonDNSHijackDetected   = "dns hijack detected"
	ReasonInterfaceNotAllowed = "interface not allowed"
)

// ErrEngineClosed is returned from any call after Close.
var ErrEngineClosed = fmt.Errorf("engine is closed")

// CircuitBreakerOpenError signals that the guard refused without checking
// the network because the breaker is open.
type CircuitBreakerOpenError struct {
	RetryAt time.Time
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAt.Format(time.RFC3339))
}

// SecurityViolationError signals that the current network state violates the
// configured security policy.
type SecurityViolationError struct {
	Reason string
	Report *report.Report
}

func (e *SecurityViolationError) Error() string {
	return "security violation: " + e.Reason
}

// PoorConnectionError signals that the connection quality is below what the
// caller required.
type PoorConnectionError struct {
	Grade    quality.Grade
	Required quality.Grade
	Report   *report.Report
}

func (e *PoorConnectionError) Error() string {
	return fmt.Sprintf("connection quality %s below required %s", e.Grade, e.Required)
}

// Guard runs action only when the network clears every gate, in order: the
// circuit breaker must be closed, a fresh check must pass the security
// policy, and the measured quality must reach minQuality. The action is
// never invoked when any gate fails.
func (e *Engine) Guard(ctx context.Context, minQuality quality.Grade, action Action) (any, error) {
	if open, until := e.breaker.Open(); open {
		return nil, &CircuitBreakerOpenError{RetryAt: until}
	}

	rep, err := e.Check(ctx)
	if err != nil {
		return nil, err
	}

	if reason, ok := e.securityViolation(rep); ok {
		return nil, &SecurityViolationError{Reason: reason, Report: rep}
	}

	if !rep.Status.Connected || !rep.Status.Quality.AtLeast(minQuality) {
		return nil, &PoorConnectionError{
			Grade:    rep.Status.Quality,
			Required: minQuality,
			Report:   rep,
		}
	}

	return action(ctx)
}

// securityViolation applies the configured security policy to a fresh
// report. Flags not enabled in the policy are ignored even when set.
func (e *Engine) securityViolation(rep *report.Report) (string, bool) {
	if e.cfg.Security.BlockVPN && rep.Security.VPNDetected {
		return ReasonVPNDetected, true
	}
	if e.cfg.Security.DetectDNSHijack && rep.Security.DNSSpoofed {
		return ReasonDNSHijackDetected, true
	}
	if !security.InterfaceAllowed(rep.Security.InterfaceName, e.cfg.Security.AllowedInterfaces) {
		return ReasonInterfaceNotAllowed, true
	}
	return "", false
}
