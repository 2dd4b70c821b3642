package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrReportNotFound is returned for an unknown or expired batch id.
var ErrReportNotFound = errors.New("batch report not found")

// ReportStore keeps batch reports for later lookup.
type ReportStore interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, batchID string) (*Report, error)
}

// RedisReports stores reports as JSON with a TTL.
type RedisReports struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReports creates a Redis-backed report store.
func NewRedisReports(client *redis.Client, ttl time.Duration) *RedisReports {
	return &RedisReports{client: client, ttl: ttl}
}

func reportKey(batchID string) string { return "batch:report:" + batchID }

func (s *RedisReports) Save(ctx context.Context, r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.client.Set(ctx, reportKey(r.BatchID), data, s.ttl).Err()
}

func (s *RedisReports) Get(ctx context.Context, batchID string) (*Report, error) {
	data, err := s.client.Get(ctx, reportKey(batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", batchID, err)
	}
	return &r, nil
}

// MemoryReports keeps reports in process. Used when Redis is not configured.
type MemoryReports struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

func NewMemoryReports() *MemoryReports {
	return &MemoryReports{reports: make(map[string]*Report)}
}

func (s *MemoryReports) Save(_ context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.BatchID] = r
	return nil
}

func (s *MemoryReports) Get(_ context.Context, batchID string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[batchID]
	if !ok {
		return nil, ErrReportNotFound
	}
	return r, nil
}
