// Package config loads the agent's configuration once at process start and
// hands it to every component by value — there are no process-wide config
// singletons (see spec.md §9; the rate limiter, HTTP client pool, and DB
// pool are the only process-wide state).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration record, loaded from YAML with a fixed
// set of environment-variable overrides layered on top (see applyEnvOverrides).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	ERPClient  ERPClientConfig  `yaml:"erp_client"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Auth       AuthConfig       `yaml:"auth"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	LogLevel        string `yaml:"log_level"`
}

// DatabaseConfig selects and configures the artifact & audit store backend.
type DatabaseConfig struct {
	// Backend is "postgres" (default), "supabase", or "memory".
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	Supabase SupabaseConfig `yaml:"supabase"`
}

type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

// ERPClientConfig configures the rate-limited, retrying ERP client.
// QPS and MaxAttempts are clamped by Clamp (called from Load) regardless of what the
// config file requests — see spec.md §4.1 ("locked at 10", "capped at 3").
type ERPClientConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Token             string  `yaml:"token"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
	QPS               float64 `yaml:"qps"`
	MaxAttempts       int     `yaml:"max_attempts"`
	RetryBaseSeconds  float64 `yaml:"retry_base_seconds"`
	RetryMaxSeconds   float64 `yaml:"retry_max_seconds"`
	BreakerEnabled    bool    `yaml:"breaker_enabled"`
}

const (
	// erpQPSCeiling is the hardening-gate baseline from spec.md §4.1: the
	// client MUST NOT exceed this regardless of configuration.
	erpQPSCeiling = 10.0
	// erpMaxAttemptsCeiling caps retries per spec.md §4.1.
	erpMaxAttemptsCeiling = 3
)

// Clamp enforces the policy ceilings. Called once after load.
func (c *ERPClientConfig) Clamp() {
	if c.QPS <= 0 || c.QPS > erpQPSCeiling {
		c.QPS = erpQPSCeiling
	}
	if c.MaxAttempts <= 0 || c.MaxAttempts > erpMaxAttemptsCeiling {
		c.MaxAttempts = erpMaxAttemptsCeiling
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
	}
	if c.RetryBaseSeconds <= 0 {
		c.RetryBaseSeconds = 0.5
	}
	if c.RetryMaxSeconds <= 0 {
		c.RetryMaxSeconds = 10
	}
}

// DispatchConfig selects the run queue backend and worker pool size.
type DispatchConfig struct {
	// Backend is "memory" (default, in-process channel), "redis", or
	// "cloudtasks".
	Backend          string              `yaml:"backend"`
	Workers          int                 `yaml:"workers"`
	MaxAttempts      int                 `yaml:"max_attempts"`
	RetryBaseSeconds float64             `yaml:"retry_base_seconds"`
	RetryMaxSeconds  float64             `yaml:"retry_max_seconds"`
	Redis            RedisDispatchConfig `yaml:"redis"`
	CloudTasks       CloudTasksConfig    `yaml:"cloud_tasks"`
}

type RedisDispatchConfig struct {
	Addr      string `yaml:"addr"`
	QueueKey  string `yaml:"queue_key"`
}

type CloudTasksConfig struct {
	ProjectID       string `yaml:"project_id"`
	LocationID      string `yaml:"location_id"`
	QueueID         string `yaml:"queue_id"`
	DispatchURL     string `yaml:"dispatch_url"`
	FallbackWorkers int    `yaml:"fallback_workers"`
}

type ApprovalConfig struct {
	// RequireEvidenceAck mirrors spec.md §4.6 rule 1. Nothing reads it: the
	// approval engine always requires evidence_ack to approve.
	RequireEvidenceAck bool `yaml:"require_evidence_ack"`
}

type AuthConfig struct {
	Mode string            `yaml:"mode"` // "none" | "api_key"
	Keys map[string]string `yaml:"keys"` // key name -> bcrypt hash
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type WorkflowConfig struct {
	BankReconcileThreshold float64 `yaml:"bank_reconcile_threshold"`
	CashflowHorizonDays    int     `yaml:"cashflow_horizon_days"`
	AnomalyChunkSize       int     `yaml:"anomaly_chunk_size"`
	UseParallelMap         bool    `yaml:"use_parallel_map"`
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080", Env: "dev", ReadTimeoutSec: 15, WriteTimeoutSec: 15,
			ShutdownTimeout: 10, LogLevel: "info",
		},
		Database: DatabaseConfig{
			Backend:  "postgres",
			Postgres: PostgresConfig{MaxOpenConns: 20, MaxIdleConns: 5},
		},
		ERPClient: ERPClientConfig{
			QPS: erpQPSCeiling, MaxAttempts: erpMaxAttemptsCeiling,
			TimeoutSeconds: 15, RetryBaseSeconds: 0.5, RetryMaxSeconds: 10,
			BreakerEnabled: true,
		},
		Dispatch: DispatchConfig{
			Backend: "memory", Workers: 4, MaxAttempts: 3,
			RetryBaseSeconds: 1, RetryMaxSeconds: 30,
		},
		Approval: ApprovalConfig{RequireEvidenceAck: true},
		Auth:     AuthConfig{Mode: "none"},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Workflow: WorkflowConfig{
			BankReconcileThreshold: 0.85, CashflowHorizonDays: 30, AnomalyChunkSize: 100,
			UseParallelMap: false,
		},
	}
}

// Load reads YAML from path on top of Default(), then applies environment
// overrides, then clamps policy ceilings.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			expanded := ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.ERPClient.Clamp()
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// ExpandEnv substitutes ${VAR} placeholders with os.Getenv(VAR), matching
// the scheduler YAML substitution rule in spec.md §6.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// applyEnvOverrides layers a small set of high-value environment variables
// on top of the YAML-loaded config, mirroring the teacher's pattern of
// env-driven overrides for deploy-time secrets.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ACCT_DB_DSN"); v != "" {
		cfg.Database.Postgres.DSN = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Database.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		cfg.Database.Supabase.ServiceKey = v
	}
	if v := os.Getenv("ERPX_BASE_URL"); v != "" {
		cfg.ERPClient.BaseURL = v
	}
	if v := os.Getenv("ERPX_TOKEN"); v != "" {
		cfg.ERPClient.Token = v
	}
	if v := os.Getenv("ERPX_RATE_LIMIT_QPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ERPClient.QPS = f
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("AGENT_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Dispatch.Redis.Addr = v
	}
	if v := os.Getenv("AGENT_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
}

// SplitCommaList splits a comma-separated string into its trimmed, non-empty
// parts; it returns nil for a blank string.
func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
