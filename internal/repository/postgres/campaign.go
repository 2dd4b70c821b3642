package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/service/campaign"
)

const campaignColumns = `campaign_id, campaign_name, segment_name, product_name, status,
		       total_customers, emails_sent, success_rate, started_at, completed_at`

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB, timeout time.Duration) *CampaignRepo {
	return &CampaignRepo{db: db, timeout: timeout}
}

func (r *CampaignRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *CampaignRepo) Insert(ctx context.Context, c *domain.Campaign) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_logs
			(campaign_id, campaign_name, segment_name, product_name, status,
			 total_customers, emails_sent, success_rate, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.CampaignID, c.Name, string(c.Segment), c.ProductName, string(c.Status),
		c.TotalCustomers, c.EmailsSent, c.SuccessRate, c.StartedAt, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaign_logs
		WHERE campaign_id = $1
	`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) Complete(ctx context.Context, id string, f campaign.CompletionFields) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_logs
		SET status = $2,
		    emails_sent = $3,
		    success_rate = COALESCE($4, success_rate),
		    total_customers = COALESCE($5, total_customers),
		    completed_at = $6
		WHERE campaign_id = $1
	`, id, string(domain.CampaignCompleted), f.EmailsSent, f.SuccessRate, f.TotalCustomers, f.CompletedAt)
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete campaign: rows affected: %w", err)
	}
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Recent(ctx context.Context, limit int) ([]domain.Campaign, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaign_logs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) EmailsSentTotal(ctx context.Context) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(emails_sent), 0) FROM campaign_logs WHERE emails_sent > 0`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum emails sent: %w", err)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	var (
		c           domain.Campaign
		segment     string
		status      string
		product     sql.NullString
		emailsSent  sql.NullInt64
		successRate sql.NullFloat64
		completedAt sql.NullTime
	)
	if err := s.Scan(
		&c.CampaignID, &c.Name, &segment, &product, &status,
		&c.TotalCustomers, &emailsSent, &successRate, &c.StartedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	c.Segment = domain.Persona(segment)
	c.Status = domain.CampaignStatus(status)
	if product.Valid {
		c.ProductName = &product.String
	}
	if emailsSent.Valid {
		n := int(emailsSent.Int64)
		c.EmailsSent = &n
	}
	if successRate.Valid {
		c.SuccessRate = &successRate.Float64
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}
