// Package api exposes the segmentation, campaign and dashboard operations
// over HTTP. Every error answer is {"detail": "..."}.
package api

import (
	"context"
	"encoding/json"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/outreach"
	"github.com/ignite/persona-segmentation/internal/service/campaign"
	"github.com/ignite/persona-segmentation/internal/service/ingest"
	"github.com/ignite/persona-segmentation/internal/service/stats"
)

// Segmenter runs upload batches.
type Segmenter interface {
	Run(ctx context.Context, up ingest.Upload) (*ingest.Report, error)
	Report(ctx context.Context, batchID string) (*ingest.Report, error)
}

// CampaignTracker records campaign lifecycles.
type CampaignTracker interface {
	Start(ctx context.Context, in campaign.StartInput) (*campaign.StartResult, error)
	Complete(ctx context.Context, in campaign.CompleteInput) (*campaign.CompleteOutcome, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	Recent(ctx context.Context, limit int) ([]domain.Campaign, error)
}

// StatsReader answers count queries.
type StatsReader interface {
	Totals(ctx context.Context) (*stats.Totals, error)
	SegmentCounts(ctx context.Context) (*stats.Counts, error)
	ProbeSegment(ctx context.Context, persona domain.Persona) (*stats.Probe, error)
	AvailableSegments() []domain.Persona
}

// Dispatcher sends a campaign's messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *domain.Campaign, limit int) (*outreach.Result, error)
}

// Triggerer forwards a campaign trigger to the workflow engine.
type Triggerer interface {
	Trigger(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Handlers holds the HTTP handlers. Dispatcher and Trigger may be nil; their
// endpoints then answer 503.
type Handlers struct {
	Segmenter      Segmenter
	Campaigns      CampaignTracker
	Stats          StatsReader
	Dispatcher     Dispatcher
	Trigger        Triggerer
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 32 << 20

func (h *Handlers) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}
