package campaign

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/metrics"
	"github.com/ignite/persona-segmentation/internal/pkg/distlock"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/routing"
)

// Fallbacks for a completion that arrives for an unknown campaign.
const (
	UnknownCampaignName = "Unknown Campaign"
	UnknownSegmentName  = "Unknown Segment"
)

// Sources of a completed campaign's emails_sent value.
const (
	SourceReported    = "reported"
	SourceLedger      = "dispatch_ledger"
	SourceSegmentSize = "segment_size"
	SourceNone        = "none"
)

const (
	lockAttempts = 5
	lockBackoff  = 100 * time.Millisecond
)

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository and store are.
type Service struct {
	repo   Repository
	dests  *routing.DestinationMap
	store  routing.DestinationStore
	ledger DispatchLedger
	locks  distlock.Factory
	now    func() time.Time
	log    *logger.Logger
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithLedger makes completions prefer confirmed dispatch counts over the
// segment-size proxy.
func WithLedger(l DispatchLedger) Option { return func(s *Service) { s.ledger = l } }

// WithLocks serializes completions of the same campaign id.
func WithLocks(f distlock.Factory) Option { return func(s *Service) { s.locks = f } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a campaign service.
func NewService(repo Repository, dests *routing.DestinationMap, store routing.DestinationStore, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		dests: dests,
		store: store,
		now:   time.Now,
		log:   logger.Named("campaign"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartInput holds the fields for starting a campaign.
type StartInput struct {
	CampaignName string  `json:"campaign_name"`
	SegmentName  string  `json:"segment_name"`
	ProductName  *string `json:"product_name"`
	// TotalCustomers is used only when the segment cannot be counted.
	TotalCustomers int `json:"total_customers"`
}

// StartResult is a started campaign.
type StartResult struct {
	Campaign      *domain.Campaign `json:"campaign"`
	CountDegraded bool             `json:"count_degraded"`
}

// Start validates the segment, counts its customers and persists a running
// campaign. A failed count degrades to the caller's hint; a failed insert is
// ErrStoreUnavailable.
func (s *Service) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	if strings.TrimSpace(in.CampaignName) == "" {
		return nil, &StartError{Err: ErrMissingField, Field: "campaign_name"}
	}
	if strings.TrimSpace(in.SegmentName) == "" {
		return nil, &StartError{Err: ErrMissingField, Field: "segment_name"}
	}
	table, ok := s.dests.Lookup(domain.Persona(in.SegmentName))
	if !ok {
		return nil, &StartError{Err: ErrUnknownSegment, Segment: in.SegmentName}
	}

	now := s.now()
	res := &StartResult{}

	total, err := routing.ReliableCount(ctx, s.store, table)
	if err != nil {
		s.log.Warn("segment count failed, using caller total", "table", table, "error", err)
		metrics.StoreDegraded.WithLabelValues("start_count").Inc()
		total = in.TotalCustomers
		res.CountDegraded = true
	}

	c := &domain.Campaign{
		CampaignID:     NewID(in.CampaignName, in.SegmentName, now),
		Name:           in.CampaignName,
		Segment:        domain.Persona(in.SegmentName),
		ProductName:    in.ProductName,
		Status:         domain.CampaignRunning,
		TotalCustomers: total,
		StartedAt:      now,
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: insert %s: %v", ErrStoreUnavailable, c.CampaignID, err)
	}
	res.Campaign = c

	metrics.CampaignEvents.WithLabelValues("started").Inc()
	s.log.Info("campaign started", "campaign_id", c.CampaignID, "segment", in.SegmentName, "total_customers", total)
	return res, nil
}

// CompleteInput is the completion notification from the workflow engine.
// Everything except CampaignID is optional.
type CompleteInput struct {
	CampaignID     string     `json:"campaign_id"`
	CampaignName   string     `json:"campaign_name"`
	SegmentName    string     `json:"segment_name"`
	Segment        string     `json:"segment"`
	ProductName    *string    `json:"product_name"`
	EmailsSent     *int       `json:"emails_sent"`
	TotalCustomers *int       `json:"total_customers"`
	SuccessRate    *float64   `json:"success_rate"`
	StartedAt      *time.Time `json:"started_at"`
}

func (in CompleteInput) segment() string {
	if in.SegmentName != "" {
		return in.SegmentName
	}
	return in.Segment
}

// CompleteOutcome reports what a completion did.
type CompleteOutcome struct {
	Campaign         *domain.Campaign `json:"campaign"`
	EmailsSentSource string           `json:"emails_sent_source"`
	Recovered        bool             `json:"recovered"`
	AlreadyCompleted bool             `json:"already_completed"`
	Persisted        bool             `json:"persisted"`
	LockContended    bool             `json:"lock_contended,omitempty"`
	// LookupFailed is set when the stored campaign could not be read before
	// completing it. Campaign then comes from a re-read after the write,
	// or from the input if that fails too.
	LookupFailed bool `json:"lookup_failed,omitempty"`
}

// Complete marks a campaign completed. It only fails for a missing
// campaign id: an unknown campaign is recovered by inserting a completed
// record built from the input, and store failures are reported through
// Persisted=false.
func (s *Service) Complete(ctx context.Context, in CompleteInput) (*CompleteOutcome, error) {
	if strings.TrimSpace(in.CampaignID) == "" {
		return nil, fmt.Errorf("%w: campaign_id", ErrMissingField)
	}
	out := &CompleteOutcome{}

	if s.locks != nil {
		lock := s.locks("campaign:complete:" + in.CampaignID)
		held, err := s.acquire(ctx, lock)
		if err != nil {
			s.log.Warn("completion lock failed", "campaign_id", in.CampaignID, "error", err)
		}
		if held {
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("completion lock release failed", "campaign_id", in.CampaignID, "error", err)
				}
			}()
		} else {
			out.LockContended = true
		}
	}

	existing, err := s.lookup(ctx, in.CampaignID)
	switch {
	case err == nil && existing.IsTerminal():
		out.Campaign = existing
		out.AlreadyCompleted = true
		out.Persisted = true
		out.EmailsSentSource = SourceNone
		metrics.CampaignEvents.WithLabelValues("duplicate_completion").Inc()
		s.log.Info("campaign already completed", "campaign_id", in.CampaignID)
		return out, nil
	case errors.Is(err, ErrNotFound):
		existing = nil
	case err != nil:
		s.log.Warn("campaign lookup failed", "campaign_id", in.CampaignID, "error", err)
		metrics.StoreDegraded.WithLabelValues("complete_lookup").Inc()
		out.LookupFailed = true
		existing = nil
	}

	segment := in.segment()
	if existing != nil {
		segment = string(existing.Segment)
	}
	sent, source := s.emailsSent(ctx, in, segment)
	out.EmailsSentSource = source

	now := s.now()
	c := s.completed(in, existing, segment, sent, now)
	out.Campaign = c

	fields := CompletionFields{
		EmailsSent:  sent,
		SuccessRate: c.SuccessRate,
		CompletedAt: now,
	}
	if in.TotalCustomers != nil {
		fields.TotalCustomers = in.TotalCustomers
	}

	err = s.repo.Complete(ctx, in.CampaignID, fields)
	if errors.Is(err, ErrNotFound) {
		out.Recovered = true
		s.log.Warn("completing unknown campaign, inserting record", "campaign_id", in.CampaignID)
		err = s.repo.Insert(ctx, c)
	}
	if err != nil {
		s.log.Error("campaign completion not persisted", "campaign_id", in.CampaignID, "error", err)
		metrics.StoreDegraded.WithLabelValues("complete_write").Inc()
	} else {
		out.Persisted = true
		if out.LookupFailed && !out.Recovered {
			// The update hit a row we never read; report what is stored.
			if stored, gerr := s.repo.Get(ctx, in.CampaignID); gerr == nil {
				out.Campaign = stored
			} else {
				s.log.Warn("campaign re-read failed", "campaign_id", in.CampaignID, "error", gerr)
			}
		}
	}

	event := "completed"
	if out.Recovered {
		event = "recovered"
	}
	metrics.CampaignEvents.WithLabelValues(event).Inc()
	s.log.Info("campaign completed", "campaign_id", in.CampaignID, "emails_sent", sent, "source", source)
	return out, nil
}

// lookup reads a campaign, retrying once when the store errors.
func (s *Service) lookup(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return c, err
	}
	s.log.Warn("campaign lookup failed, retrying", "campaign_id", id, "error", err)
	return s.repo.Get(ctx, id)
}

func (s *Service) acquire(ctx context.Context, lock distlock.DistLock) (bool, error) {
	for i := 0; i < lockAttempts; i++ {
		ok, err := lock.Acquire(ctx)
		if err != nil || ok {
			return ok, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	return false, nil
}

// emailsSent picks the best available count: the caller's, then the
// dispatch ledger, then the current size of the segment.
func (s *Service) emailsSent(ctx context.Context, in CompleteInput, segment string) (int, string) {
	if in.EmailsSent != nil && *in.EmailsSent >= 0 {
		return *in.EmailsSent, SourceReported
	}
	if s.ledger != nil {
		n, ok, err := s.ledger.Sent(ctx, in.CampaignID)
		if err != nil {
			s.log.Warn("dispatch ledger read failed", "campaign_id", in.CampaignID, "error", err)
		} else if ok {
			return n, SourceLedger
		}
	}
	table, ok := s.dests.Lookup(domain.Persona(segment))
	if !ok {
		s.log.Warn("no destination for segment", "campaign_id", in.CampaignID, "segment", segment)
		return 0, SourceNone
	}
	n, err := routing.ReliableCount(ctx, s.store, table)
	if err != nil {
		s.log.Warn("segment count failed", "table", table, "error", err)
		metrics.StoreDegraded.WithLabelValues("complete_count").Inc()
		return 0, SourceNone
	}
	return n, SourceSegmentSize
}

func (s *Service) completed(in CompleteInput, existing *domain.Campaign, segment string, sent int, now time.Time) *domain.Campaign {
	var c domain.Campaign
	if existing != nil {
		c = *existing
	} else {
		c = domain.Campaign{
			CampaignID:  in.CampaignID,
			Name:        in.CampaignName,
			Segment:     domain.Persona(segment),
			ProductName: in.ProductName,
			StartedAt:   now,
		}
		if c.Name == "" {
			c.Name = UnknownCampaignName
		}
		if c.Segment == "" {
			c.Segment = UnknownSegmentName
		}
		if in.StartedAt != nil {
			c.StartedAt = *in.StartedAt
		}
	}
	if in.TotalCustomers != nil {
		c.TotalCustomers = *in.TotalCustomers
	}

	c.Status = domain.CampaignCompleted
	c.EmailsSent = &sent
	c.CompletedAt = &now
	switch {
	case in.SuccessRate != nil:
		c.SuccessRate = in.SuccessRate
	case c.TotalCustomers > 0:
		rate := SuccessRate(sent, c.TotalCustomers)
		c.SuccessRate = &rate
	}
	return &c
}

// SuccessRate returns sent as a percentage of total, capped at 100.
func SuccessRate(sent, total int) float64 {
	if total <= 0 {
		return 0
	}
	rate := float64(sent) / float64(total) * 100
	if rate > 100 {
		rate = 100
	}
	return rate
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Recent returns the most recently started campaigns.
func (s *Service) Recent(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.Recent(ctx, limit)
}

// NewID builds a campaign id from the lowercased campaign and segment names,
// with every character outside [a-z0-9] replaced by '_', and the start time
// in unix milliseconds.
func NewID(name, segment string, at time.Time) string {
	return clean(name) + "_" + clean(segment) + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

func clean(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
