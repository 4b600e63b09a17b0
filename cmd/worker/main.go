// cmd/worker runs the dispatch worker pool standalone, without the HTTP
// API surface — for backends (redis, cloudtasks) where run creation and
// run execution are scaled as separate deployments (spec.md §4.4, §5: "a
// pool of workers pulling from the Queue interface").
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/dispatch"
	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
	"github.com/openclaw/acct-agent/internal/workflow/workflows"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("ACCT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Configure(cfg.Server.Env, cfg.Server.LogLevel)

	st, err := openStore(cfg.Database)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	erp := erpclient.New(cfg.ERPClient, &http.Client{Timeout: time.Duration(cfg.ERPClient.TimeoutSeconds * float64(time.Second))})

	reg := workflow.NewRegistry()
	workflows.RegisterAll(reg, workflows.NewDeps(erp, st, cfg.Workflow))

	dispatcher := dispatch.New(st, reg, cfg.Dispatch)
	queue, err := dispatch.NewQueue(dispatcher, cfg.Dispatch)
	if err != nil {
		log.Fatalf("new dispatch queue: %v", err)
	}

	var pushServer *http.Server
	if cfg.Dispatch.Backend == "cloudtasks" {
		addr := os.Getenv("DISPATCH_LISTEN_ADDR")
		if addr == "" {
			addr = ":8081"
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/dispatch", dispatch.DispatchHandler(dispatcher))
		pushServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			slog.Info("worker push listener starting", "addr", addr)
			if err := pushServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("push listener failed: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	slog.Info("worker started", "backend", cfg.Dispatch.Backend, "workers", cfg.Dispatch.Workers)
	<-sigCh
	slog.Info("worker received shutdown signal")

	if pushServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pushServer.Shutdown(ctx)
	}
	if err := queue.Close(); err != nil {
		slog.Error("queue close error", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Backend {
	case "supabase":
		return store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	case "memory":
		return store.NewMemStore(), nil
	default:
		return store.OpenPostgres(cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	}
}
