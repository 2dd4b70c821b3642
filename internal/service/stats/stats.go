// Package stats aggregates read-only counts across the persona tables and
// the campaign log for dashboards and diagnostics.
package stats

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/metrics"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/routing"
)

// ErrUnknownSegment is returned by ProbeSegment for a persona without a
// destination.
var ErrUnknownSegment = errors.New("unknown segment")

const (
	maxConcurrentCounts = 5
	probeSampleSize     = 3
)

// CampaignTotals is the slice of the campaign repository the aggregator reads.
type CampaignTotals interface {
	EmailsSentTotal(ctx context.Context) (int, error)
}

// Totals is the dashboard summary.
type Totals struct {
	TotalCustomers    int                    `json:"total_customers"`
	TotalMessagesSent int                    `json:"total_messages_sent"`
	CustomerCounts    map[domain.Persona]int `json:"customer_counts"`
	Degraded          []string               `json:"degraded,omitempty"`
}

// Counts is the per-segment customer count summary.
type Counts struct {
	CustomerCounts map[domain.Persona]int `json:"customer_counts"`
	TotalCustomers int                    `json:"total_customers"`
	Degraded       []string               `json:"degraded,omitempty"`
}

// Probe reports every count method for a single segment.
type Probe struct {
	Segment          domain.Persona `json:"segment_name"`
	Table            string         `json:"table_name"`
	CountExact       int            `json:"count_exact"`
	CountKeys        int            `json:"count_manual"`
	SampleIDs        []string       `json:"sample_ids"`
	RecommendedCount int            `json:"recommended_count"`
	Errors           []string       `json:"errors,omitempty"`
}

// Aggregator computes counts. It never writes.
type Aggregator struct {
	dests     *routing.DestinationMap
	store     routing.DestinationStore
	campaigns CampaignTotals
	log       *logger.Logger
}

// NewAggregator creates an aggregator. campaigns may be nil, in which case
// the messages total is always zero.
func NewAggregator(dests *routing.DestinationMap, store routing.DestinationStore, campaigns CampaignTotals) *Aggregator {
	return &Aggregator{dests: dests, store: store, campaigns: campaigns, log: logger.Named("stats")}
}

type segmentCount struct {
	n   int
	err error
}

// countAll runs count for every destination concurrently. Results are in
// destination order.
func (a *Aggregator) countAll(ctx context.Context, count func(ctx context.Context, table string) (int, error)) []segmentCount {
	dests := a.dests.Destinations()
	out := make([]segmentCount, len(dests))

	var g errgroup.Group
	g.SetLimit(maxConcurrentCounts)
	for i, d := range dests {
		i, d := i, d
		g.Go(func() error {
			n, err := count(ctx, d.Table)
			out[i] = segmentCount{n: n, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// collect folds per-destination results into a map. Failed destinations
// count as zero and are listed in the returned slice.
func (a *Aggregator) collect(results []segmentCount, op string) (map[domain.Persona]int, int, []string) {
	counts := make(map[domain.Persona]int, len(results))
	var total int
	var degraded []string
	for i, d := range a.dests.Destinations() {
		r := results[i]
		if r.err != nil {
			a.log.Warn("segment count failed", "segment", d.Persona, "table", d.Table, "error", r.err)
			metrics.StoreDegraded.WithLabelValues(op).Inc()
			degraded = append(degraded, string(d.Persona))
			counts[d.Persona] = 0
			continue
		}
		counts[d.Persona] = r.n
		total += r.n
	}
	return counts, total, degraded
}

// Totals sums the customers across all segments and the messages sent
// across all campaigns. Store failures degrade to zero.
func (a *Aggregator) Totals(ctx context.Context) (*Totals, error) {
	var (
		results []segmentCount
		sent    int
		sentErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		results = a.countAll(ctx, func(ctx context.Context, table string) (int, error) {
			return routing.ReliableCount(ctx, a.store, table)
		})
		return nil
	})
	if a.campaigns != nil {
		g.Go(func() error {
			sent, sentErr = a.campaigns.EmailsSentTotal(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts, total, degraded := a.collect(results, "stats_count")
	if sentErr != nil {
		a.log.Warn("messages sent total failed", "error", sentErr)
		metrics.StoreDegraded.WithLabelValues("stats_emails_sent").Inc()
		degraded = append(degraded, "campaign_logs")
		sent = 0
	}
	return &Totals{
		TotalCustomers:    total,
		TotalMessagesSent: sent,
		CustomerCounts:    counts,
		Degraded:          degraded,
	}, nil
}

// SegmentCounts returns, per segment, the larger of the exact count and the
// number of stored keys.
func (a *Aggregator) SegmentCounts(ctx context.Context) (*Counts, error) {
	results := a.countAll(ctx, func(ctx context.Context, table string) (int, error) {
		exact, err := a.store.Count(ctx, table)
		if err != nil {
			return 0, err
		}
		ids, err := a.store.ListIDs(ctx, table)
		if err != nil {
			return 0, err
		}
		return max(exact, len(ids)), nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts, total, degraded := a.collect(results, "segment_count")
	return &Counts{CustomerCounts: counts, TotalCustomers: total, Degraded: degraded}, nil
}

// ProbeSegment runs every count method against one segment's table. Method
// failures are reported in the probe rather than returned.
func (a *Aggregator) ProbeSegment(ctx context.Context, persona domain.Persona) (*Probe, error) {
	table, ok := a.dests.Lookup(persona)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSegment, persona)
	}
	p := &Probe{Segment: persona, Table: table, SampleIDs: []string{}}

	var (
		g         errgroup.Group
		exact     int
		ids       []string
		errExact  error
		errListed error
	)
	g.Go(func() error {
		exact, errExact = a.store.Count(ctx, table)
		return nil
	})
	g.Go(func() error {
		ids, errListed = a.store.ListIDs(ctx, table)
		return nil
	})
	_ = g.Wait()

	if errExact != nil {
		p.Errors = append(p.Errors, "count_exact: "+errExact.Error())
	} else {
		p.CountExact = exact
	}
	if errListed != nil {
		p.Errors = append(p.Errors, "count_manual: "+errListed.Error())
	} else {
		p.CountKeys = len(ids)
		p.SampleIDs = append(p.SampleIDs, ids[:min(probeSampleSize, len(ids))]...)
	}
	p.RecommendedCount = max(p.CountExact, p.CountKeys)
	return p, nil
}

// AvailableSegments lists the configured personas in ladder order.
func (a *Aggregator) AvailableSegments() []domain.Persona {
	return a.dests.Personas()
}
