package config

import "fmt"

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{message: fmt.Sprintf(format, args...)}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}
