package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/openclaw/acct-agent/internal/store"
)

// bucketNotification is the subset of a GCS Pub/Sub bucket-notification
// message body this listener needs. GCS itself sends the bucket/object
// names as message attributes; some relays instead forward a JSON body
// shaped like this, so both are accepted.
type bucketNotification struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// pubsubListener runs an additional event-trigger path alongside the
// poller: a pull subscription against a GCS bucket-notification topic.
// Same idempotency-key shape as the poller (SPEC_FULL.md §4.5), so a
// message that the poller would also have eventually seen collapses to
// the same run rather than creating a duplicate.
type pubsubListener struct {
	client  *pubsub.Client
	subID   string
	runType string
	agent   *AgentClient
	log     *slog.Logger
}

func newPubSubListener(ctx context.Context, cfg PubSubConfig, agent *AgentClient, log *slog.Logger) (*pubsubListener, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("new pubsub client: %w", err)
	}
	return &pubsubListener{
		client:  client,
		subID:   cfg.SubscriptionID,
		runType: cfg.RunType,
		agent:   agent,
		log:     log,
	}, nil
}

// run blocks receiving messages until ctx is cancelled, matching the
// other two loops' cooperative-shutdown contract.
func (l *pubsubListener) run(ctx context.Context) error {
	sub := l.client.Subscription(l.subID)
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		bucket := msg.Attributes["bucketId"]
		object := msg.Attributes["objectId"]
		if bucket == "" || object == "" {
			var body bucketNotification
			if err := json.Unmarshal(msg.Data, &body); err == nil {
				bucket, object = body.Bucket, body.Name
			}
		}
		if bucket == "" || object == "" {
			l.log.Warn("pubsub message missing bucket/object, acking and dropping")
			msg.Ack()
			return
		}

		payload := map[string]any{"file_uri": fmt.Sprintf("gs://%s/%s", bucket, object)}
		idem := pollerIdempotencyKey(l.runType, bucket, object)
		if err := l.agent.CreateRun(ctx, l.runType, store.TriggerEvent, payload, idem); err != nil {
			l.log.Error("pubsub event run failed", "run_type", l.runType, "object", object, "err", err)
			msg.Nack()
			return
		}
		l.log.Info("pubsub event run created", "run_type", l.runType, "object", object)
		msg.Ack()
	})
}

func (l *pubsubListener) Close() error { return l.client.Close() }
