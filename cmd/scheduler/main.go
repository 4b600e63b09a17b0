package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("ACCT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Configure(cfg.Server.Env, cfg.Server.LogLevel)

	schedulesPath := os.Getenv("SCHEDULES_YAML")
	if schedulesPath == "" {
		schedulesPath = "config/schedules.yaml"
	}
	file, err := scheduler.LoadFile(schedulesPath)
	if err != nil {
		log.Fatalf("load scheduler config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lister scheduler.Lister
	if len(file.Pollers) > 0 {
		gcsLister, err := scheduler.NewGCSLister(ctx)
		if err != nil {
			log.Fatalf("new gcs lister: %v", err)
		}
		defer gcsLister.Close()
		lister = gcsLister
	}

	apiKey := os.Getenv("AGENT_API_KEY")
	sched, err := scheduler.New(ctx, file, apiKey, lister, time.Now())
	if err != nil {
		log.Fatalf("new scheduler: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("scheduler received shutdown signal")
		cancel()
	}()

	if err := sched.Run(ctx); err != nil {
		slog.Error("scheduler exited with error", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
}
