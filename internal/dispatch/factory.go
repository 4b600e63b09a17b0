package dispatch

import (
	"fmt"

	"github.com/openclaw/acct-agent/internal/config"
)

// NewQueue builds the Queue backend named by cfg.Backend. "memory" (the
// default) and "redis" construct directly; "cloudtasks" can fail (e.g. no
// ambient GCP credentials) and returns an error rather than silently
// downgrading to memory.
func NewQueue(d *Dispatcher, cfg config.DispatchConfig) (Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemQueue(d, cfg.Workers, 1000), nil
	case "redis":
		return NewRedisQueue(d, cfg.Redis.Addr, cfg.Redis.QueueKey, cfg.Workers), nil
	case "cloudtasks":
		return NewCloudTasksQueue(d, cfg.CloudTasks)
	default:
		return nil, fmt.Errorf("dispatch: unknown backend %q", cfg.Backend)
	}
}
