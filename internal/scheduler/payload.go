package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// materializePayload expands a schedule's payload template into the concrete
// JSON body a run accepts. Mirrors agent_scheduler/main.py's
// _materialize_payload placeholder set exactly (spec.md §4.5).
func materializePayload(template map[string]any, now time.Time) map[string]any {
	today := now.UTC()
	out := make(map[string]any, len(template))
	for k, v := range template {
		switch {
		case k == "updated_after_hours":
			hours, _ := toFloat(v)
			out["updated_after"] = now.Add(-time.Duration(hours) * time.Hour).UTC().Format("2006-01-02T15:04:05Z")
		case k == "as_of" && v == "today":
			out["as_of"] = today.Format("2006-01-02")
		case k == "period" && v == "prev_month":
			out["period"] = prevMonthPeriod(today)
		case k == "period" && v == "this_month":
			out["period"] = today.Format("2006-01")
		default:
			out[k] = v
		}
	}
	return out
}

func prevMonthPeriod(today time.Time) string {
	firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevLast := firstOfMonth.Add(-24 * time.Hour)
	return prevLast.Format("2006-01")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// scheduleIdempotencyKey collapses duplicate fires of the same cron job
// within the same month: H(schedule, job, payload, YYYY-MM) (spec.md §4.5).
func scheduleIdempotencyKey(job string, payload map[string]any, yyyymm string) string {
	return hashKey("schedule", job, payload, yyyymm)
}

// pollerIdempotencyKey dedups a poller's event run per object key:
// H(run_type, bucket, key) (spec.md §4.5).
func pollerIdempotencyKey(runType, bucket, objectKey string) string {
	return hashKey(runType, bucket, objectKey)
}

// hashKey canonicalizes its parts as JSON (Go's encoding/json sorts map
// keys, so the hash is stable across runs) and SHA-256s the result.
func hashKey(parts ...any) string {
	b, err := json.Marshal(parts)
	if err != nil {
		b = []byte(fmt.Sprint(parts))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
