package campaign

import (
	"context"
	"time"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// Repository defines the data access contract for campaign logs.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Insert persists a new campaign log row.
	Insert(ctx context.Context, c *domain.Campaign) error

	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// Complete applies the completion fields to an existing campaign.
	// Returns ErrNotFound if no row matched.
	Complete(ctx context.Context, id string, f CompletionFields) error

	// Recent returns up to limit campaigns ordered by started_at DESC.
	Recent(ctx context.Context, limit int) ([]domain.Campaign, error)

	// EmailsSentTotal sums the positive emails_sent values of all campaigns.
	EmailsSentTotal(ctx context.Context) (int, error)
}

// CompletionFields holds the values written when a campaign completes.
type CompletionFields struct {
	EmailsSent     int
	TotalCustomers *int
	SuccessRate    *float64
	CompletedAt    time.Time
}

// DispatchLedger reports confirmed dispatches for a campaign. The bool is
// false when nothing was ever recorded for it.
type DispatchLedger interface {
	Sent(ctx context.Context, campaignID string) (int, bool, error)
}
