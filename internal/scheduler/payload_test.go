package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaterializePayload(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	out := materializePayload(map[string]any{
		"updated_after_hours": 6,
		"as_of":               "today",
		"period":              "prev_month",
		"literal":             "kept",
	}, now)

	assert.Equal(t, "2026-03-15T04:00:00Z", out["updated_after"])
	assert.Equal(t, "2026-03-15", out["as_of"])
	assert.Equal(t, "2026-02", out["period"])
	assert.Equal(t, "kept", out["literal"])
}

func TestMaterializePayload_ThisMonth(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := materializePayload(map[string]any{"period": "this_month"}, now)
	assert.Equal(t, "2026-01", out["period"])
}

func TestScheduleIdempotencyKey_StableAcrossFieldOrder(t *testing.T) {
	payload := map[string]any{"a": 1, "b": 2}
	k1 := scheduleIdempotencyKey("job", payload, "2026-03")
	k2 := scheduleIdempotencyKey("job", map[string]any{"b": 2, "a": 1}, "2026-03")
	assert.Equal(t, k1, k2)
}

func TestScheduleIdempotencyKey_DiffersByMonth(t *testing.T) {
	payload := map[string]any{"a": 1}
	k1 := scheduleIdempotencyKey("job", payload, "2026-03")
	k2 := scheduleIdempotencyKey("job", payload, "2026-04")
	assert.NotEqual(t, k1, k2)
}

func TestPollerIdempotencyKey_DiffersByKey(t *testing.T) {
	k1 := pollerIdempotencyKey("voucher_ingest", "bucket", "a.pdf")
	k2 := pollerIdempotencyKey("voucher_ingest", "bucket", "b.pdf")
	assert.NotEqual(t, k1, k2)
}
