package telemetry

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison using errors.Is().
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid telemetry configuration")
	ErrUnknownProtocol      = errors.New("unknown export protocol")
	ErrUnknownPropagator    = errors.New("unknown propagator")
	ErrUnknownSessionStore  = errors.New("unknown session store provider")

	// Export errors
	ErrExportDropped = errors.New("telemetry batch dropped")

	// Session errors
	ErrInvalidSessionContext = errors.New("invalid session span context")
	ErrInvalidSessionID      = errors.New("invalid session id")
)

// ConfigError reports which configuration field failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

// Error returns the string representation of the error
func (e *ConfigError) Error() string {
	return fmt.Sprintf("telemetry config %s: %s", e.Field, e.Reason)
}

// Unwrap makes every ConfigError match ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

func configError(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
