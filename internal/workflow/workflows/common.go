// Package workflows holds the concrete fetch/guard/compute implementations
// for every registered run_type (spec.md §4.3), built on the generic DAG
// engine in internal/workflow.
package workflows

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/erpclient"
	"github.com/openclaw/acct-agent/internal/logging"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// Deps are the shared collaborators every workflow's nodes close over.
// Built once at process startup and threaded into each Build* constructor.
type Deps struct {
	ERP    *erpclient.Client
	Store  store.Store
	Log    *slog.Logger
	Config config.WorkflowConfig
}

func NewDeps(erp *erpclient.Client, st store.Store, cfg config.WorkflowConfig) Deps {
	return Deps{ERP: erp, Store: st, Log: logging.New("workflow"), Config: cfg}
}

// mapperFor picks the per-item executor named in SPEC_FULL.md §9: a bounded
// worker pool gated on UseParallelMap, otherwise the always-correct
// sequential default.
func mapperFor(cfg config.WorkflowConfig) workflow.Mapper {
	if !cfg.UseParallelMap {
		return workflow.SequentialMapper{}
	}
	return workflow.PooledMapper{Workers: 4}
}

func newID() string { return uuid.NewString() }

// rstr reads a string field from an erpclient.Record, tolerating absent
// keys and non-string values (spec.md §9: tolerant deserialization).
func rstr(r erpclient.Record, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func rfloat(r erpclient.Record, key string) float64 {
	v, ok := r[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		var f float64
		fmt.Sscanf(n, "%f", &f)
		return f
	default:
		return 0
	}
}

func rbool(r erpclient.Record, key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

// firstNonEmpty returns the first non-empty string among candidates — the
// Go shape of the Python source's repeated `a.get(x) or a.get(y)` pattern.
func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, bool) {
	if len(s) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// normalizeAmountType maps the ERP's loosely-typed invoice "type" field
// into the sell/buy split used by cashflow forecasting and tax reporting.
func isSellSide(invoiceType string) bool {
	switch strings.ToLower(invoiceType) {
	case "sell", "receivable", "ar", "sell_invoice":
		return true
	default:
		return false
	}
}
