package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/openclaw/acct-agent/internal/config"
	"github.com/openclaw/acct-agent/internal/logging"
)

// CloudTasksQueue enqueues one HTTP task per run against a Cloud Tasks
// queue; the queue's configured target (DispatchURL) is expected to be a
// worker endpoint that reads {"run_id": ...} and calls Dispatcher.Dispatch.
// Falls back to an in-process MemQueue when CreateTask fails, so a run is
// never silently dropped because Cloud Tasks is unreachable.
type CloudTasksQueue struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
	log       *slog.Logger
	fallback  *MemQueue
}

func NewCloudTasksQueue(d *Dispatcher, cfg config.CloudTasksConfig) (*CloudTasksQueue, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	q := &CloudTasksQueue{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", cfg.ProjectID, cfg.LocationID, cfg.QueueID),
		targetURL: cfg.DispatchURL,
		log:       logging.New("dispatch.cloudtasks"),
	}
	if cfg.FallbackWorkers > 0 {
		q.fallback = NewMemQueue(d, cfg.FallbackWorkers, 1000)
	}
	return q, nil
}

func (q *CloudTasksQueue) Enqueue(ctx context.Context, runID string) error {
	body, err := json.Marshal(map[string]string{"run_id": runID})
	if err != nil {
		return fmt.Errorf("marshal dispatch task body: %w", err)
	}

	req := &taskspb.CreateTaskRequest{
		Parent: q.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        q.targetURL,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       body,
				},
			},
		},
	}

	if _, err := q.client.CreateTask(ctx, req); err != nil {
		q.log.Error("cloud task enqueue failed", "run_id", runID, "err", err)
		if q.fallback != nil {
			q.log.Warn("falling back to in-memory dispatch", "run_id", runID)
			return q.fallback.Enqueue(ctx, runID)
		}
		return fmt.Errorf("enqueue cloud task for run %s: %w", runID, err)
	}
	return nil
}

func (q *CloudTasksQueue) Close() error {
	if q.fallback != nil {
		_ = q.fallback.Close()
	}
	return q.client.Close()
}
