package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openclaw/acct-agent/internal/apperr"
	"github.com/openclaw/acct-agent/internal/dispatch"
	"github.com/openclaw/acct-agent/internal/idemcache"
	"github.com/openclaw/acct-agent/internal/store"
	"github.com/openclaw/acct-agent/internal/workflow"
)

// idemCacheNamespace scopes run idempotency keys away from approval
// decision keys inside a shared idemcache.Cache.
const idemCacheNamespace = "run"

type createRunBody struct {
	RunType     string            `json:"run_type"`
	TriggerType store.TriggerType `json:"trigger_type"`
	Payload     store.JSONMap     `json:"payload"`
}

// CreateRun implements spec.md §4.4/§6's POST /agent/v1/runs contract:
// unknown run_type -> 400; idempotency replay with an identical payload
// -> 200 with the existing run; replay with a different payload -> 409;
// otherwise insert the run row and enqueue it for dispatch.
func CreateRun(st store.Store, reg *workflow.Registry, q dispatch.Queue, cache idemcache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createRunBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.Validation("malformed request body: %v", err))
			return
		}
		if _, ok := reg.Get(body.RunType); !ok {
			writeError(w, apperr.Validation("unknown run_type %q", body.RunType))
			return
		}
		if body.TriggerType == "" {
			body.TriggerType = store.TriggerManual
		}

		idemKey := r.Header.Get("Idempotency-Key")
		if idemKey == "" {
			idemKey = deriveIdempotencyKey(body)
		}

		ctx := r.Context()

		// SeenRecently is a hint only: a miss still requires the store
		// check below, since the cache can expire or simply never have
		// been populated (idemcache.Cache doc comment).
		_, _ = cache.SeenRecently(ctx, idemCacheNamespace, idemKey)

		existing, err := st.FindRunByIdempotencyKey(ctx, idemKey)
		if err != nil {
			writeError(w, err)
			return
		}
		if existing != nil {
			replayRun(w, existing, body, idemKey)
			return
		}

		run := &store.Run{
			ID:             uuid.NewString(),
			RunType:        body.RunType,
			TriggerType:    body.TriggerType,
			Status:         store.RunQueued,
			IdempotencyKey: idemKey,
			CursorIn:       body.Payload,
		}
		if err := st.InsertRun(ctx, run); err != nil {
			// Two concurrent requests with the same idempotency key can
			// both pass the FindRunByIdempotencyKey check above and race
			// into InsertRun; the loser sees the UNIQUE(idempotency_key)
			// violation as a Conflict here, not a storage failure. Re-fetch
			// and replay against whatever the winner actually inserted
			// instead of surfacing a spurious 500 on the losing request.
			if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindConflict {
				winner, findErr := st.FindRunByIdempotencyKey(ctx, idemKey)
				if findErr != nil {
					writeError(w, findErr)
					return
				}
				if winner != nil {
					replayRun(w, winner, body, idemKey)
					return
				}
			}
			writeError(w, apperr.Storage(err, "insert run"))
			return
		}
		_ = cache.Record(ctx, idemCacheNamespace, idemKey)

		if err := q.Enqueue(context.Background(), run.ID); err != nil {
			// Row already persisted as queued; a manual retry or a future
			// backlog sweep can still pick it up by run_id.
			slog.Error("enqueue run failed", "run_id", run.ID, "err", err)
		}

		writeJSON(w, http.StatusOK, runResponse(run))
	}
}

// replayRun writes the spec.md §6 idempotency response for an already-
// persisted run: 200 with the existing run when run_type and payload
// match the incoming request, 409 otherwise.
func replayRun(w http.ResponseWriter, existing *store.Run, body createRunBody, idemKey string) {
	if existing.RunType != body.RunType || !reflect.DeepEqual(existing.CursorIn, body.Payload) {
		writeError(w, apperr.Conflict("idempotency key %s already used with a different request", idemKey))
		return
	}
	writeJSON(w, http.StatusOK, runResponse(existing))
}

func deriveIdempotencyKey(body createRunBody) string {
	b, err := json.Marshal(body)
	if err != nil {
		b = []byte(time.Now().String())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func runResponse(run *store.Run) map[string]any {
	return map[string]any{"run_id": run.ID, "status": run.Status}
}

// GetRun returns full run detail, including cursor/stats (SPEC_FULL.md
// §4.7: "GET /agent/v1/runs/{id}").
func GetRun(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		run, err := st.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}
