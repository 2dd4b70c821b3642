// Package ingest runs an uploaded customer file through sanitizing,
// clustering, persona labeling and routing, and keeps a report of each
// batch.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/persona-segmentation/internal/classifier"
	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/metrics"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/segmentation"
	"github.com/ignite/persona-segmentation/internal/storage"
)

// Report messages.
const (
	MessageSuccess = "Segmentation successful."
	MessagePartial = "Segmentation finished with destination failures."
	MessageEmpty   = "No valid rows to segment."
)

// Report is the outcome of one batch.
type Report struct {
	BatchID         string                                `json:"batch_id"`
	Filename        string                                `json:"filename,omitempty"`
	Message         string                                `json:"message"`
	TotalRows       int                                   `json:"total_rows"`
	RejectedCount   int                                   `json:"rejected_count"`
	RejectedSamples []segmentation.RejectedRow            `json:"rejected_samples,omitempty"`
	UnmappedCount   int                                   `json:"unmapped_count"`
	Unmapped        map[domain.Persona]int                `json:"unmapped,omitempty"`
	Clusters        map[string]*routing.DestinationResult `json:"clusters"`
	Personas        []segmentation.ClusterStats           `json:"personas"`
	ArchivedAt      string                                `json:"archive_location,omitempty"`
	StartedAt       time.Time                             `json:"started_at"`
	FinishedAt      time.Time                             `json:"finished_at"`
}

// Failed reports whether any destination write failed.
func (r *Report) Failed() bool {
	for _, c := range r.Clusters {
		if c.Status == routing.StatusFailed {
			return true
		}
	}
	return false
}

// Upload is a raw customer file.
type Upload struct {
	Filename string
	Data     []byte
}

// Pipeline processes uploads. It is safe for concurrent use.
type Pipeline struct {
	sanitizer *segmentation.Sanitizer
	predictor classifier.Predictor
	router    *routing.Router
	archive   storage.Archive
	reports   ReportStore
	newID     func() string
	now       func() time.Time
	log       *logger.Logger
}

// Option configures optional collaborators of the Pipeline.
type Option func(*Pipeline)

// WithArchive stores every raw upload before it is processed.
func WithArchive(a storage.Archive) Option { return func(p *Pipeline) { p.archive = a } }

// WithReports keeps every finished report for lookup by batch id.
func WithReports(s ReportStore) Option { return func(p *Pipeline) { p.reports = s } }

// WithIDs overrides the batch id generator.
func WithIDs(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// NewPipeline creates a pipeline.
func NewPipeline(s *segmentation.Sanitizer, predictor classifier.Predictor, router *routing.Router, opts ...Option) *Pipeline {
	p := &Pipeline{
		sanitizer: s,
		predictor: predictor,
		router:    router,
		newID:     uuid.NewString,
		now:       time.Now,
		log:       logger.Named("ingest"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes one upload. A file that cannot be read as a table is a
// *segmentation.ValidationError; a classifier or labeling failure aborts
// the batch before anything is written. Destination failures are reported
// in the returned Report, not as an error.
func (p *Pipeline) Run(ctx context.Context, up Upload) (rep *Report, err error) {
	started := p.now()
	defer func() {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case rep.Failed():
			result = "partial"
		}
		metrics.BatchDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
	}()

	rep = &Report{
		BatchID:   p.newID(),
		Filename:  up.Filename,
		Clusters:  map[string]*routing.DestinationResult{},
		Personas:  []segmentation.ClusterStats{},
		StartedAt: started,
	}
	log := p.log.With("batch_id", rep.BatchID)

	if p.archive != nil {
		loc, aerr := p.archive.Put(ctx, rep.BatchID, up.Filename, up.Data)
		if aerr != nil {
			log.Warn("upload archive failed", "filename", up.Filename, "error", aerr)
		} else {
			rep.ArchivedAt = loc
		}
	}

	table, err := segmentation.ReadTable(bytes.NewReader(up.Data))
	if err != nil {
		return nil, err
	}
	clean, err := p.sanitizer.Sanitize(table)
	if err != nil {
		return nil, err
	}
	rep.TotalRows = clean.Total
	rep.RejectedCount = clean.Rejected
	rep.RejectedSamples = clean.Samples
	metrics.RowsIngested.WithLabelValues("accepted").Add(float64(len(clean.Records)))
	metrics.RowsIngested.WithLabelValues("rejected").Add(float64(clean.Rejected))

	if len(clean.Records) == 0 {
		rep.Message = MessageEmpty
		rep.FinishedAt = p.now()
		p.save(ctx, rep)
		log.Warn("batch has no valid rows", "total_rows", rep.TotalRows)
		return rep, nil
	}

	clusters, err := p.predictor.Predict(ctx, clean.Columns, clean.Records)
	if err != nil {
		return nil, fmt.Errorf("predict clusters: %w", err)
	}
	labeling, err := segmentation.Label(clean.Records, clusters, p.router.Destinations().Personas())
	if err != nil {
		return nil, err
	}
	rep.Personas = labeling.Clusters

	routed, err := p.router.Route(ctx, labeling.Records)
	if err != nil {
		return nil, err
	}
	rep.Clusters = routed.Destinations
	rep.Unmapped = routed.Unmapped
	rep.UnmappedCount = routed.UnmappedCount

	rep.Message = MessageSuccess
	if rerr := routed.Err(); rerr != nil {
		rep.Message = MessagePartial
		log.Error("batch routed with failures", "error", rerr)
	}
	rep.FinishedAt = p.now()
	p.save(ctx, rep)

	log.Info("batch processed",
		"total_rows", rep.TotalRows,
		"rejected", rep.RejectedCount,
		"routed", routed.Processed(),
		"unmapped", rep.UnmappedCount,
	)
	return rep, nil
}

func (p *Pipeline) save(ctx context.Context, rep *Report) {
	if p.reports == nil {
		return
	}
	if err := p.reports.Save(context.WithoutCancel(ctx), rep); err != nil {
		p.log.Warn("batch report not saved", "batch_id", rep.BatchID, "error", err)
	}
}

// Report returns a stored batch report.
func (p *Pipeline) Report(ctx context.Context, batchID string) (*Report, error) {
	if p.reports == nil {
		return nil, ErrReportNotFound
	}
	return p.reports.Get(ctx, batchID)
}
