// Package classifier calls the external clustering model that assigns each
// customer record a cluster id.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/metrics"
	"github.com/ignite/persona-segmentation/internal/pkg/httpretry"
)

var (
	ErrUnavailable = errors.New("classifier unavailable")
	ErrBadResponse = errors.New("classifier returned an invalid response")
)

// Predictor assigns a cluster id to every record, in order.
type Predictor interface {
	Predict(ctx context.Context, columns []string, records []domain.CustomerRecord) ([]int, error)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(ctx context.Context, columns []string, records []domain.CustomerRecord) ([]int, error)

func (f PredictorFunc) Predict(ctx context.Context, columns []string, records []domain.CustomerRecord) ([]int, error) {
	return f(ctx, columns, records)
}

type predictRequest struct {
	Columns []string     `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

type predictResponse struct {
	Clusters []int `json:"clusters"`
}

// Client is an HTTP Predictor. The model is served behind a POST endpoint
// that takes a column list plus numeric rows and answers with one cluster
// id per row.
type Client struct {
	url     string
	http    httpretry.HTTPDoer
	timeout time.Duration
}

// NewClient creates a classifier client for url.
func NewClient(url string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		url:     url,
		http:    httpretry.NewRetryClient(nil, timeout, maxRetries, httpretry.WithBackoff(200*time.Millisecond, 2*time.Second)),
		timeout: timeout,
	}
}

// Predict sends the records' attributes in column order. A column a record
// lacks is sent as null.
func (c *Client) Predict(ctx context.Context, columns []string, records []domain.CustomerRecord) ([]int, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	clusters, err := c.predict(ctx, columns, records)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ClassifierLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return clusters, err
}

func (c *Client) predict(ctx context.Context, columns []string, records []domain.CustomerRecord) ([]int, error) {
	body, err := json.Marshal(predictRequest{Columns: columns, Rows: Matrix(columns, records)})
	if err != nil {
		return nil, fmt.Errorf("encode classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, msg)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(out.Clusters) != len(records) {
		return nil, fmt.Errorf("%w: %d clusters for %d rows", ErrBadResponse, len(out.Clusters), len(records))
	}
	return out.Clusters, nil
}

// Matrix lays the records out as rows of the given columns. Numeric cells
// are float64, categorical cells are strings, absent cells are nil.
func Matrix(columns []string, records []domain.CustomerRecord) [][]interface{} {
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			if v, ok := r.Value(col); ok {
				row[j] = v
			}
		}
		rows[i] = row
	}
	return rows
}
