package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
// The only transition is running -> completed.
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign is a tracked marketing run against one persona segment.
// Rows live in the campaign_logs table.
type Campaign struct {
	CampaignID     string         `json:"campaign_id" db:"campaign_id"`
	Name           string         `json:"campaign_name" db:"campaign_name"`
	Segment        Persona        `json:"segment_name" db:"segment_name"`
	ProductName    *string        `json:"product_name" db:"product_name"`
	Status         CampaignStatus `json:"status" db:"status"`
	TotalCustomers int            `json:"total_customers" db:"total_customers"`

	// Set on completion.
	EmailsSent  *int     `json:"emails_sent" db:"emails_sent"`
	SuccessRate *float64 `json:"success_rate" db:"success_rate"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted
}
