// Package scheduler runs the two always-on trigger loops — cron schedules
// and an object-store poller — plus an optional GCS Pub/Sub push listener,
// each emitting runs against the run API exactly like a manual POST would
// (spec.md §4.5). Grounded on original_source's agent_scheduler/main.py.
package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/openclaw/acct-agent/internal/config"
)

// PollerConfig describes one object-store prefix to sweep on an interval.
type PollerConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	RunType         string `yaml:"run_type"`
	Enabled         *bool  `yaml:"enabled"`
}

// IsEnabled defaults to true, matching the Python source's job.get("enabled", True).
func (p PollerConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

func (p PollerConfig) intervalOrDefault() int {
	if p.IntervalSeconds <= 0 {
		return 30
	}
	return p.IntervalSeconds
}

// ScheduleConfig describes one cron-driven job and its payload template.
type ScheduleConfig struct {
	Cron    string         `yaml:"cron"`
	RunType string         `yaml:"run_type"`
	Payload map[string]any `yaml:"payload"`
	Enabled *bool          `yaml:"enabled"`
}

func (s ScheduleConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// PubSubConfig is the optional third run-trigger path: a GCS bucket
// notification delivered over a pull subscription. Additive over the
// required cron+poller pair (SPEC_FULL.md §4.5).
type PubSubConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ProjectID      string `yaml:"project_id"`
	SubscriptionID string `yaml:"subscription_id"`
	RunType        string `yaml:"run_type"`
}

// File is the root shape of the scheduler YAML (spec.md §6): pollers,
// schedules, and the base URL of the run API they POST against.
type File struct {
	AgentBaseURL string                    `yaml:"agent_base_url"`
	Pollers      map[string]PollerConfig   `yaml:"pollers"`
	Schedules    map[string]ScheduleConfig `yaml:"schedules"`
	PubSub       PubSubConfig              `yaml:"pubsub"`
}

// LoadFile reads and ${VAR}-expands the scheduler YAML at path, reusing
// config.ExpandEnv so both processes substitute environment placeholders
// identically.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scheduler config %s: %w", path, err)
	}
	expanded := config.ExpandEnv(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse scheduler config %s: %w", path, err)
	}
	if f.AgentBaseURL == "" {
		f.AgentBaseURL = os.Getenv("AGENT_BASE_URL")
	}
	if f.AgentBaseURL == "" {
		f.AgentBaseURL = "http://localhost:8080"
	}
	return &f, nil
}
