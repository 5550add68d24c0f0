// Package lifecycle orchestrates startup and shutdown of the service's
// long-lived components.
package lifecycle

import "context"

// Component is anything the manager brings up and tears down.
type Component interface {
	// Start initializes the component. Long-running work moves to its own
	// goroutines; Start returns once the component is operational.
	Start(ctx context.Context) error

	// Stop shuts the component down, finishing in-flight work within the
	// context deadline.
	Stop(ctx context.Context) error

	// Name identifies the component in logs and errors. Must be non-empty.
	Name() string
}
