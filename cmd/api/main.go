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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/acct-agent/internal/api"
	"github.com/openclaw/acct-agent/internal/approval"
	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/dispatch"
	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/idemcache"
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
	defer queue.Close()

	engine := approval.New(st)

	var cache idemcache.Cache
	if cfg.Dispatch.Redis.Addr != "" {
		redisCache := idemcache.NewRedisCache(cfg.Dispatch.Redis.Addr, 0)
		defer redisCache.Close()
		cache = redisCache
	}

	deps := api.Deps{
		Store:     st,
		Queue:     queue,
		Registry:  reg,
		Approval:  engine,
		Auth:      cfg.Auth,
		IdemCache: cache,
	}
	server := api.NewServer(cfg.Server, deps)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		server.Handler.(*mux.Router).Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("api received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
	}()

	slog.Info("api starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
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
