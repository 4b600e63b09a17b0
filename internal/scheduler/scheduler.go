package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/acct-agent/internal/logging"
)

// tickInterval matches agent_scheduler/main.py's time.sleep(10) main-loop
// cadence.
const tickInterval = 10 * time.Second

// Scheduler ties the cron loop and the object-store poller into one
// process with two cooperating loops sharing one HTTP client (spec.md
// §5), plus an optional third Pub/Sub loop. Stop is cooperative: each
// loop finishes its current iteration, then exits (spec.md §4.5).
type Scheduler struct {
	agent    *AgentClient
	lister   Lister
	cronJobs []*cronJob
	pollers  []*pollerState
	pubsub   *pubsubListener

	log *slog.Logger
}

// New builds a Scheduler from a loaded File. lister may be nil if no
// pollers are configured; passing one anyway is harmless since pollOnce
// is only called per-configured poller. If file.PubSub is enabled, ctx is
// used to dial the Pub/Sub client; pass context.Background() when the
// caller's own run context isn't constructed yet.
func New(ctx context.Context, file *File, apiKey string, lister Lister, now time.Time) (*Scheduler, error) {
	jobs, err := newCronJobs(file.Schedules, now)
	if err != nil {
		return nil, err
	}

	enabledPollers := map[string]PollerConfig{}
	for name, cfg := range file.Pollers {
		if cfg.IsEnabled() {
			enabledPollers[name] = cfg
		}
	}

	log := logging.New("scheduler")
	agent := NewAgentClient(file.AgentBaseURL, apiKey)

	var pubsub *pubsubListener
	if file.PubSub.Enabled {
		pubsub, err = newPubSubListener(ctx, file.PubSub, agent, log)
		if err != nil {
			return nil, err
		}
	}

	return &Scheduler{
		agent:    agent,
		lister:   lister,
		cronJobs: jobs,
		pollers:  newPollerStates(enabledPollers),
		pubsub:   pubsub,
		log:      log,
	}, nil
}

// Run blocks until ctx is cancelled, ticking the cron and poller loops
// every tickInterval and running the optional Pub/Sub loop concurrently.
// Returns nil on a clean cooperative shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	jobNames := make([]string, 0, len(s.cronJobs))
	for _, j := range s.cronJobs {
		jobNames = append(jobNames, j.name)
	}
	pollerNames := make([]string, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollerNames = append(pollerNames, p.name)
	}
	s.log.Info("scheduler started", "base_url", s.agent.baseURL, "cron_jobs", jobNames, "pollers", pollerNames)

	var wg sync.WaitGroup
	if s.pubsub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.pubsub.run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("pubsub listener stopped", "err", err)
			}
		}()
	}

	nextPollAt := make(map[string]time.Time, len(s.pollers))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			if s.pubsub != nil {
				_ = s.pubsub.Close()
			}
			s.log.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now, nextPollAt)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time, nextPollAt map[string]time.Time) {
	for _, p := range s.pollers {
		if now.Before(nextPollAt[p.name]) {
			continue
		}
		interval := time.Duration(p.cfg.intervalOrDefault()) * time.Second
		nextPollAt[p.name] = now.Add(interval)
		pollOnce(ctx, s.agent, s.lister, p, s.log)
	}

	fireCronJobs(ctx, s.agent, s.cronJobs, now, s.log)
}
