package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"transaction-api/internal/models"
)

// AlertNotifier delivers triggered alerts to an external receiver. Like
// event publishing it is best effort.
type AlertNotifier interface {
	Notify(ctx context.Context, alert *models.Alert) error
}

type webhookNotifier struct {
	url        string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
}

// NewWebhookNotifier posts alerts as JSON to the configured URL. Server
// errors are retried with a linear backoff; client errors are not.
func NewWebhookNotifier(url string) AlertNotifier {
	return &webhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		attempts:   3,
		retryDelay: 2 * time.Second,
	}
}

func (n *webhookNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(payload))
		if err != nil {
			return fmt.Errorf("failed to create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < n.attempts-1 {
				time.Sleep(n.retryDelay * time.Duration(attempt+1))
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			return nil
		}

		errorBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(errorBody))

		// Only retry on server errors
		if resp.StatusCode < 500 {
			break
		}
		if attempt < n.attempts-1 {
			time.Sleep(n.retryDelay * time.Duration(attempt+1))
		}
	}

	return fmt.Errorf("alert webhook failed after %d attempts: %w", n.attempts, lastErr)
}

// noopNotifier is used when no webhook URL is configured.
type noopNotifier struct{}

func NewNoopNotifier() AlertNotifier {
	return noopNotifier{}
}

func (noopNotifier) Notify(context.Context, *models.Alert) error { return nil }
