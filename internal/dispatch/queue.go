package dispatch

import (
	"context"
	"errors"
)

// errQueueFull is returned by a Queue implementation's Enqueue when it
// drops work rather than blocking the caller.
var errQueueFull = errors.New("dispatch queue full")

// Queue decouples run submission (API layer) from dispatch execution
// (worker process). Enqueue must not block the caller for long; Close
// stops accepting new work and waits for in-flight deliveries to settle.
type Queue interface {
	Enqueue(ctx context.Context, runID string) error
	Close() error
}
