package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/metrics"
)

// MemQueue is an in-process channel-backed worker pool — the same shape as
// the teacher's webhooks.Dispatcher (internal/webhooks/dispatcher.go):
// a buffered channel feeding a fixed goroutine pool, draining on Close.
type MemQueue struct {
	dispatcher *Dispatcher
	jobs       chan string
	log        *slog.Logger
	wg         sync.WaitGroup
}

// NewMemQueue starts workers goroutines pulling run ids off an internal
// buffered channel and driving them through dispatcher.Dispatch.
func NewMemQueue(d *Dispatcher, workers, bufferSize int) *MemQueue {
	if workers <= 0 {
		workers = 4
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	q := &MemQueue{
		dispatcher: d,
		jobs:       make(chan string, bufferSize),
		log:        logging.New("dispatch.memqueue"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *MemQueue) worker() {
	defer q.wg.Done()
	for runID := range q.jobs {
		metrics.DispatchQueueDepth.Dec()
		if _, err := q.dispatcher.Dispatch(context.Background(), runID); err != nil {
			q.log.Error("dispatch failed", "run_id", runID, "err", err)
		}
	}
}

// Enqueue is non-blocking: a full queue drops the run rather than stalling
// the API request path. The run row still exists with status=queued, so a
// scheduler sweep or manual retry can resubmit it.
func (q *MemQueue) Enqueue(ctx context.Context, runID string) error {
	select {
	case q.jobs <- runID:
		metrics.DispatchQueueDepth.Inc()
		return nil
	default:
		q.log.Warn("dispatch queue full, dropping enqueue", "run_id", runID)
		return errQueueFull
	}
}

func (q *MemQueue) Close() error {
	close(q.jobs)
	q.wg.Wait()
	return nil
}
