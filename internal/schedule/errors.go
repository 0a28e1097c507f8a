package schedule

import (
	"errors"
	"fmt"
)

// ConfigError reports a scheduler configuration mistake detected at
// registration time. Configuration errors indicate a programming error in
// the host or a plugin, so they are returned to the caller rather than
// logged.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Message is a human-readable description.
	Message string

	// Phase is the affected phase, if any.
	Phase string

	// System is the name of the affected system, if any.
	System string

	// Details contains additional context (dependency ids, cycle path).
	Details map[string]string
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeUnknownDependency: a dependency is not registered in the phase.
	ErrCodeUnknownDependency ConfigErrorCode = "UNKNOWN_DEPENDENCY"

	// ErrCodeDependencyCycle: the dependency edges would form a cycle.
	ErrCodeDependencyCycle ConfigErrorCode = "DEPENDENCY_CYCLE"

	// ErrCodeDuplicateSystem: the system type is already registered in the phase.
	ErrCodeDuplicateSystem ConfigErrorCode = "DUPLICATE_SYSTEM"

	// ErrCodeUnknownSystem: removal of a system that is not registered.
	ErrCodeUnknownSystem ConfigErrorCode = "UNKNOWN_SYSTEM"

	// ErrCodeHasDependents: removal of a system other systems depend on.
	ErrCodeHasDependents ConfigErrorCode = "HAS_DEPENDENTS"

	// ErrCodeUnknownPhase: the phase (or anchor phase) does not exist.
	ErrCodeUnknownPhase ConfigErrorCode = "UNKNOWN_PHASE"

	// ErrCodeDuplicatePhase: a phase with that name already exists.
	ErrCodeDuplicatePhase ConfigErrorCode = "DUPLICATE_PHASE"

	// ErrCodeInvalidSystem: nil system or empty phase name.
	ErrCodeInvalidSystem ConfigErrorCode = "INVALID_SYSTEM"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Phase != "" && e.System != "" {
		return fmt.Sprintf("%s: %s (phase=%s, system=%s)", e.Code, e.Message, e.Phase, e.System)
	}
	if e.Phase != "" {
		return fmt.Sprintf("%s: %s (phase=%s)", e.Code, e.Message, e.Phase)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err is a *ConfigError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code ConfigErrorCode) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsCycleError returns true if err reports a dependency cycle.
func IsCycleError(err error) bool {
	return HasCode(err, ErrCodeDependencyCycle)
}

// IsUnknownDependencyError returns true if err reports a missing dependency.
func IsUnknownDependencyError(err error) bool {
	return HasCode(err, ErrCodeUnknownDependency)
}

// IsDuplicateError returns true if err reports a duplicate system or phase.
func IsDuplicateError(err error) bool {
	return HasCode(err, ErrCodeDuplicateSystem) || HasCode(err, ErrCodeDuplicatePhase)
}

func newUnknownPhaseError(phase string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownPhase,
		Message: "phase does not exist",
		Phase:   phase,
	}
}
