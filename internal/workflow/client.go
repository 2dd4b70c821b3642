// Package workflow posts to the workflow-automation webhooks that deliver
// messages and start campaign runs.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/persona-segmentation/internal/pkg/httpretry"
)

var ErrNotConfigured = errors.New("workflow webhook not configured")

// StatusError is a non-2xx answer from a webhook.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workflow webhook failed: status %d: %s", e.StatusCode, e.Body)
}

// Dispatch is one composed message handed to the delivery workflow.
type Dispatch struct {
	CustomerID   string `json:"customer_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Persona      string `json:"persona"`
	CampaignID   string `json:"campaign_id,omitempty"`
	EmailSubject string `json:"email_subject"`
	EmailBody    string `json:"email_body"`
}

// Client talks to the workflow engine. Both URLs are optional; calls to an
// unset one fail with ErrNotConfigured.
type Client struct {
	webhookURL string
	triggerURL string
	http       httpretry.HTTPDoer
	timeout    time.Duration
}

// NewClient creates a workflow client.
func NewClient(webhookURL, triggerURL string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		webhookURL: webhookURL,
		triggerURL: triggerURL,
		http:       httpretry.NewRetryClient(nil, timeout, maxRetries, httpretry.WithBackoff(250*time.Millisecond, 5*time.Second)),
		timeout:    timeout,
	}
}

// Send posts one message to the delivery webhook.
func (c *Client) Send(ctx context.Context, d Dispatch) error {
	_, err := c.post(ctx, c.webhookURL, d)
	return err
}

// Trigger forwards an arbitrary payload to the campaign trigger webhook and
// returns the decoded answer (an empty object for an empty body).
func (c *Client) Trigger(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	body, err := c.post(ctx, c.triggerURL, payload)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(body) {
		// Some workflows answer with plain text.
		quoted, _ := json.Marshal(string(body))
		return quoted, nil
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, url string, v interface{}) ([]byte, error) {
	if url == "" {
		return nil, ErrNotConfigured
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode workflow payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read workflow response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
