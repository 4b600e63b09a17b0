package scheduler

import (
	"context"
	"log/slog"
	"time"

	cronparse "github.com/robfig/cron/v3"

	"github.com/openclaw/acct-agent/internal/store"
)

// cronJob is one fire-on-schedule entry, grounded on agent_scheduler's
// CronJob dataclass: name, expression, the run it emits, and its next
// fire time.
type cronJob struct {
	name     string
	schedule cronparse.Schedule
	runType  string
	payload  map[string]any
	nextFire time.Time
}

// cronParser accepts the traditional 5-field crontab form used throughout
// the scheduler YAML (spec.md §6 examples use "0 2 * * *" style specs).
var cronParser = cronparse.NewParser(cronparse.Minute | cronparse.Hour | cronparse.Dom | cronparse.Month | cronparse.Dow)

func newCronJobs(schedules map[string]ScheduleConfig, now time.Time) ([]*cronJob, error) {
	jobs := make([]*cronJob, 0, len(schedules))
	for name, cfg := range schedules {
		if !cfg.IsEnabled() {
			continue
		}
		sched, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &cronJob{
			name:     name,
			schedule: sched,
			runType:  cfg.RunType,
			payload:  cfg.Payload,
			nextFire: sched.Next(now),
		})
	}
	return jobs, nil
}

// fireCronJobs emits a run for every job whose nextFire has elapsed, then
// reschedules it. Jobs fire in map-iteration order of the slice passed in,
// which callers build once at startup and keep stable — ties are broken
// by slice order, not wall-clock precision (spec.md §4.5: "Jobs fire in
// the order their next_ts elapses").
func fireCronJobs(ctx context.Context, agent *AgentClient, jobs []*cronJob, now time.Time, log *slog.Logger) {
	yyyymm := now.UTC().Format("2006-01")
	for _, j := range jobs {
		if now.Before(j.nextFire) {
			continue
		}
		payload := materializePayload(j.payload, now)
		idem := scheduleIdempotencyKey(j.name, payload, yyyymm)
		if err := agent.CreateRun(ctx, j.runType, store.TriggerSchedule, payload, idem); err != nil {
			log.Error("schedule run failed", "job", j.name, "run_type", j.runType, "err", err)
		} else {
			log.Info("schedule run created", "job", j.name, "run_type", j.runType)
		}
		j.nextFire = j.schedule.Next(now)
	}
}
