package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/metrics"
)

// RedisQueue backs Queue with a Redis list: LPUSH to enqueue, BLPOP in a
// fixed worker pool to dequeue. Durable across worker restarts, unlike
// MemQueue, at the cost of one extra network hop per run.
type RedisQueue struct {
	client *redis.Client
	key    string
	d      *Dispatcher
	log    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisQueue(d *Dispatcher, addr, key string, workers int) *RedisQueue {
	if key == "" {
		key = "acctagent:dispatch:queue"
	}
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		d:      d,
		log:    logging.New("dispatch.redisqueue"),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

func (q *RedisQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		res, err := q.client.BLPop(ctx, 0, q.key).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("blpop failed", "err", err)
			continue
		}
		if len(res) < 2 {
			continue
		}
		runID := res[1]
		metrics.DispatchQueueDepth.Dec()
		if _, err := q.d.Dispatch(ctx, runID); err != nil {
			q.log.Error("dispatch failed", "run_id", runID, "err", err)
		}
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, runID string) error {
	if err := q.client.LPush(ctx, q.key, runID).Err(); err != nil {
		return err
	}
	metrics.DispatchQueueDepth.Inc()
	return nil
}

func (q *RedisQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return q.client.Close()
}
