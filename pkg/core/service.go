package core

// Service represents a long-running network component with an explicit
// lifecycle.
type Service interface {
	// Start starts the service.
	Start() error

	// Stop stops the service and releases its resources.
	Stop() error

	// Metrics returns a snapshot of the service counters.
	Metrics() StreamMetrics
}
