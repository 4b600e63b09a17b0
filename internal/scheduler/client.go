package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openclaw/acct-agent/internal/store"
)

// AgentClient POSTs run requests to the run API, matching
// agent_scheduler/main.py's AgentClient but over net/http.
type AgentClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAgentClient(baseURL, apiKey string) *AgentClient {
	return &AgentClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createRunRequest struct {
	RunType     string            `json:"run_type"`
	TriggerType store.TriggerType `json:"trigger_type"`
	Payload     map[string]any    `json:"payload"`
}

// CreateRun POSTs /agent/v1/runs with the given idempotency key. A 2xx
// response (fresh run or idempotent replay) is success; anything else is
// an error the caller logs and moves on from — the scheduler never blocks
// other jobs on one failed POST.
func (c *AgentClient) CreateRun(ctx context.Context, runType string, trigger store.TriggerType, payload map[string]any, idemKey string) error {
	body, err := json.Marshal(createRunRequest{RunType: runType, TriggerType: trigger, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/v1/runs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("run api returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
