// Package gather runs the data gathering processes that feed the snapshot.
package gather

import "context"

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run executes one gathering pass.
	Run(ctx context.Context) error
}
