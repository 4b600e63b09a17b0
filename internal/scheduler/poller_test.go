package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	objects []ObjectMeta
}

func (f *fakeLister) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectMeta, error) {
	return f.objects, nil
}

func TestPollOnce_EmitsOnlyUnseenKeys(t *testing.T) {
	var runTypes []string
	_, agent := newTestAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		runTypes = append(runTypes, body["run_type"].(string))
		w.WriteHeader(http.StatusOK)
	})

	lister := &fakeLister{objects: []ObjectMeta{
		{Key: "inbox/a.pdf", URI: "gs://bucket/inbox/a.pdf"},
		{Key: "inbox/b.pdf", URI: "gs://bucket/inbox/b.pdf"},
	}}
	state := &pollerState{
		name: "voucher_inbox",
		cfg:  PollerConfig{Bucket: "bucket", Prefix: "inbox/", RunType: "voucher_ingest"},
		seen: map[string]struct{}{"inbox/a.pdf": {}},
	}

	pollOnce(context.Background(), agent, lister, state, noopLogger())

	require.Len(t, runTypes, 1)
	assert.Equal(t, "voucher_ingest", runTypes[0])
	assert.Contains(t, state.seen, "inbox/b.pdf")
}

func TestPollOnce_MarksKeySeenEvenWithoutRerunning(t *testing.T) {
	_, agent := newTestAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	lister := &fakeLister{objects: []ObjectMeta{{Key: "x", URI: "gs://b/x"}}}
	state := &pollerState{name: "p", cfg: PollerConfig{Bucket: "b", RunType: "voucher_ingest"}, seen: map[string]struct{}{}}

	pollOnce(context.Background(), agent, lister, state, noopLogger())
	pollOnce(context.Background(), agent, lister, state, noopLogger())

	assert.Contains(t, state.seen, "x")
}
