// Package notify delivers fire-and-forget completion webhooks. Delivery
// rides the asynq queue when Redis is available; failures are logged, never
// retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/guntupalli09/videotools-sub000/internal/model"
)

// TaskTypeWebhook is the asynq task type for webhook delivery.
const TaskTypeWebhook = "webhook:deliver"

// WebhookQueue is the asynq queue webhooks are delivered from.
const WebhookQueue = "webhooks"

type taskPayload struct {
	URL     string               `json:"url"`
	Payload model.WebhookPayload `json:"payload"`
}

// Notifier enqueues webhook deliveries.
type Notifier struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewNotifier creates a notifier. A nil asynq client (no Redis) falls back
// to direct in-process delivery.
func NewNotifier(client *asynq.Client, timeout time.Duration) *Notifier {
	return &Notifier{client: client, timeout: timeout}
}

// Notify schedules one webhook call. Best effort: any error is logged and
// swallowed; a dead callback URL must not affect the job outcome.
func (n *Notifier) Notify(jobID string, status model.JobStatus, result json.RawMessage, errMsg *string, url string) {
	if url == "" {
		return
	}

	payload := taskPayload{
		URL: url,
		Payload: model.WebhookPayload{
			JobID:  jobID,
			Status: status,
			Result: result,
			Error:  errMsg,
		},
	}

	data, err := json.Marshal(&payload)
	if err != nil {
		log.Printf("[Webhook] failed to marshal payload for job %s: %v", jobID, err)
		return
	}

	if n.client == nil {
		go func() {
			if err := deliver(context.Background(), data, n.timeout); err != nil {
				log.Printf("[Webhook] delivery failed for job %s: %v", jobID, err)
			}
		}()
		return
	}

	task := asynq.NewTask(TaskTypeWebhook, data)
	if _, err := n.client.Enqueue(task,
		asynq.Queue(WebhookQueue),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour),
	); err != nil {
		log.Printf("[Webhook] failed to enqueue delivery for job %s: %v", jobID, err)
	}
}

// Worker processes webhook delivery tasks.
type Worker struct {
	timeout time.Duration
}

// NewWorker creates the delivery worker.
func NewWorker(timeout time.Duration) *Worker {
	return &Worker{timeout: timeout}
}

// ProcessTask posts the payload to the caller-supplied URL. Always returns
// nil: a failed delivery is logged, not retried.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Printf("[Webhook] bad task payload: %v", err)
		return nil
	}

	if err := deliver(ctx, t.Payload(), w.timeout); err != nil {
		log.Printf("[Webhook] delivery failed for job %s: %v", payload.Payload.JobID, err)
	}
	return nil
}

func deliver(ctx context.Context, rawTask []byte, timeout time.Duration) error {
	var payload taskPayload
	if err := json.Unmarshal(rawTask, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	body, err := json.Marshal(&payload.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	log.Printf("[Webhook] delivered %s for job %s", payload.Payload.Status, payload.Payload.JobID)
	return nil
}
