package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/openclaw/acct-agent/internal/store"
)

// ObjectMeta is the slice of object-store metadata the poller needs —
// just enough to dedup and build a file_uri payload, not a general
// storage abstraction (object-storage mechanics are out of scope; see
// spec.md §1's non-goal list).
type ObjectMeta struct {
	Key string
	URI string
}

// Lister lists objects under a bucket/prefix. GCSLister is the only
// production implementation; tests supply a fake.
type Lister interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectMeta, error)
}

// GCSLister lists bucket contents via the GCS client, grounded on the
// teacher pack's cloud.google.com/go/storage usage
// (artifacts.GCSStore in the reference pack) retargeted from blob
// storage to prefix listing.
type GCSLister struct {
	client *storage.Client
}

func NewGCSLister(ctx context.Context) (*GCSLister, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("new gcs client: %w", err)
	}
	return &GCSLister{client: client}, nil
}

func (l *GCSLister) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectMeta, error) {
	it := l.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ObjectMeta
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, err)
		}
		out = append(out, ObjectMeta{
			Key: attrs.Name,
			URI: fmt.Sprintf("gs://%s/%s", bucket, attrs.Name),
		})
	}
	return out, nil
}

func (l *GCSLister) Close() error { return l.client.Close() }

// pollerState is one configured prefix poll plus the in-memory seen-key
// set the scheduler process owns; it is not persisted across restarts
// (spec.md §4.5: idempotency on the API side absorbs re-emission).
type pollerState struct {
	name string
	cfg  PollerConfig
	seen map[string]struct{}
}

func newPollerStates(pollers map[string]PollerConfig) []*pollerState {
	states := make([]*pollerState, 0, len(pollers))
	for name, cfg := range pollers {
		states = append(states, &pollerState{name: name, cfg: cfg, seen: make(map[string]struct{})})
	}
	return states
}

// pollOnce lists the configured prefix and emits an event-triggered run
// for every key not already in the seen set.
func pollOnce(ctx context.Context, agent *AgentClient, lister Lister, p *pollerState, log *slog.Logger) {
	objects, err := lister.ListObjects(ctx, p.cfg.Bucket, p.cfg.Prefix)
	if err != nil {
		log.Error("poll failed", "poller", p.name, "bucket", p.cfg.Bucket, "err", err)
		return
	}
	for _, obj := range objects {
		if _, ok := p.seen[obj.Key]; ok {
			continue
		}
		p.seen[obj.Key] = struct{}{}

		payload := map[string]any{"file_uri": obj.URI}
		idem := pollerIdempotencyKey(p.cfg.RunType, p.cfg.Bucket, obj.Key)
		if err := agent.CreateRun(ctx, p.cfg.RunType, store.TriggerEvent, payload, idem); err != nil {
			log.Error("event run failed", "run_type", p.cfg.RunType, "key", obj.Key, "err", err)
			continue
		}
		log.Info("event run created", "run_type", p.cfg.RunType, "key", obj.Key)
	}
}
