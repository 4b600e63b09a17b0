// Package api is the HTTP adapter (spec.md §4.7): run creation, approval
// decisions, listing endpoints over the mirror/proposal/exception/
// snapshot/forecast tables, a templated Q&A endpoint, tier-B feedback,
// graph introspection, and health checks. Grounded on the teacher's
// cmd/api/main.go router setup: gorilla/mux, a versioned subrouter, and
// handler constructors that close over their dependencies.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/openclaw/acct-agent/internal/approval"
	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/dispatch"
	"github.com/openclaw/acct-agent/internal/idemcache"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// Deps bundles everything the HTTP layer needs, wired once in cmd/api.
type Deps struct {
	Store     store.Store
	Queue     dispatch.Queue
	Registry  *workflow.Registry
	Approval  *approval.Engine
	Auth      config.AuthConfig
	IdemCache idemcache.Cache // optional fast-path; nil is treated as idemcache.NoopCache{}
}

// NewRouter builds the full route tree. readyz additionally checks
// store.Ping so it only reports 200 once the DB is reachable.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", Readyz(d.Store)).Methods(http.MethodGet)

	v1 := router.PathPrefix("/agent/v1").Subrouter()
	v1.Use(AuthMiddleware(d.Auth))

	cache := d.IdemCache
	if cache == nil {
		cache = idemcache.NoopCache{}
	}
	v1.HandleFunc("/runs", CreateRun(d.Store, d.Registry, d.Queue, cache)).Methods(http.MethodPost)
	v1.HandleFunc("/runs/{id}", GetRun(d.Store)).Methods(http.MethodGet)

	v1.HandleFunc("/contract/proposals", ListContractProposals(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/contract/proposals/{id}", GetContractProposal(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/contract/proposals/{id}/approvals", DecideContractApproval(d.Approval)).Methods(http.MethodPost)

	v1.HandleFunc("/journal/proposals", ListJournalProposals(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/journal/proposals/{id}", GetJournalProposal(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/journal/proposals/{id}/approvals", DecideJournalApproval(d.Approval)).Methods(http.MethodPost)

	v1.HandleFunc("/tier-b/feedback", SubmitTierBFeedback(d.Store)).Methods(http.MethodPost)

	v1.HandleFunc("/vouchers", ListVouchers(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/bank-transactions", ListBankTransactions(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/validation-issues", ListValidationIssues(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/reports", ListReportSnapshots(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/cashflow-forecast", ListCashflowForecast(d.Store)).Methods(http.MethodGet)
	v1.HandleFunc("/audit", ListAudit(d.Store)).Methods(http.MethodGet)

	v1.HandleFunc("/qna", AnswerQuestion(d.Store)).Methods(http.MethodPost)

	v1.HandleFunc("/graphs", ListGraphs(d.Registry)).Methods(http.MethodGet)
	v1.HandleFunc("/graphs/{name}", GetGraph(d.Registry)).Methods(http.MethodGet)

	return router
}

// NewServer wraps the router with the teacher's timeout configuration
// conventions (cmd/api/main.go's http.Server literal).
func NewServer(cfg config.ServerConfig, d Deps) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewRouter(d),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}
}
