// Package routing writes labeled records to the table bound to their
// persona and answers count queries against those tables.
package routing

import (
	"context"
	"errors"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/metrics"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
)

// Destination write outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DestinationResult is the outcome of writing one persona's records.
type DestinationResult struct {
	Persona domain.Persona `json:"persona"`
	// Routed is the number of batch rows sent to this table, duplicates
	// included. ProcessedCount equals Routed on success. On failure it is the
	// number of records the store reports as written, usually 0.
	Routed         int    `json:"routed_count"`
	ProcessedCount int    `json:"processed_count"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// RouteResult collects per-destination outcomes for one batch.
type RouteResult struct {
	// Destinations is keyed by table name.
	Destinations  map[string]*DestinationResult `json:"clusters"`
	Unmapped      map[domain.Persona]int        `json:"unmapped,omitempty"`
	UnmappedCount int                           `json:"unmapped_count"`
	Failures      []*RouteWriteError            `json:"-"`
}

// Processed sums processed_count across destinations.
func (r *RouteResult) Processed() int {
	n := 0
	for _, d := range r.Destinations {
		n += d.ProcessedCount
	}
	return n
}

// Err joins every destination failure, or returns nil.
func (r *RouteResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Router sends labeled records to their persona tables.
type Router struct {
	dests *DestinationMap
	store DestinationStore
	log   *logger.Logger
}

// NewRouter creates a router over the given bindings and store.
func NewRouter(dests *DestinationMap, store DestinationStore) *Router {
	return &Router{dests: dests, store: store, log: logger.Named("router")}
}

// Destinations returns the router's persona bindings.
func (r *Router) Destinations() *DestinationMap { return r.dests }

// Route groups records by persona and upserts each group into its table.
// Unmapped personas are counted and skipped. A failed destination is
// recorded in the result and does not stop the others. Route itself only
// fails when ctx is already done.
func (r *Router) Route(ctx context.Context, labeled []domain.LabeledRecord) (*RouteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &RouteResult{
		Destinations: make(map[string]*DestinationResult),
		Unmapped:     make(map[domain.Persona]int),
	}

	groups := make(map[string][]domain.CustomerRecord)
	for _, lr := range labeled {
		table, ok := r.dests.Lookup(lr.Persona)
		if !ok {
			res.Unmapped[lr.Persona]++
			res.UnmappedCount++
			continue
		}
		groups[table] = append(groups[table], lr.Record)
	}
	if res.UnmappedCount > 0 {
		metrics.UnmappedRecords.Add(float64(res.UnmappedCount))
		r.log.Warn("records without destination", "count", res.UnmappedCount)
	}

	for _, d := range r.dests.Destinations() {
		records, ok := groups[d.Table]
		if !ok {
			continue
		}
		dr := &DestinationResult{Persona: d.Persona, Routed: len(records)}
		res.Destinations[d.Table] = dr

		if err := r.store.Upsert(ctx, d.Table, collapse(records)); err != nil {
			werr := &RouteWriteError{Persona: d.Persona, Table: d.Table, Err: err}
			res.Failures = append(res.Failures, werr)
			dr.Status = StatusFailed
			dr.Error = err.Error()
			var partial *PartialWriteError
			if errors.As(err, &partial) {
				dr.ProcessedCount = partial.Written
			}
			metrics.RecordsRouted.WithLabelValues(d.Table, StatusFailed).Add(float64(len(records)))
			r.log.Error("destination write failed", "table", d.Table, "records", len(records), "error", err)
			continue
		}
		dr.Status = StatusSuccess
		dr.ProcessedCount = len(records)
		metrics.RecordsRouted.WithLabelValues(d.Table, StatusSuccess).Add(float64(len(records)))
	}
	return res, nil
}

// collapse keeps the last record for each customer_id, in first-seen order.
func collapse(records []domain.CustomerRecord) []domain.CustomerRecord {
	pos := make(map[string]int, len(records))
	out := make([]domain.CustomerRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := pos[rec.CustomerID]; ok {
			out[i] = rec
			continue
		}
		pos[rec.CustomerID] = len(out)
		out = append(out, rec)
	}
	return out
}
