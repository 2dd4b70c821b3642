package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/service/campaign"
)

// CampaignRepo is an in-memory campaign.Repository.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign // keyed by campaign_id
}

// NewCampaignRepo creates an empty repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (r *CampaignRepo) Insert(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[c.CampaignID]; ok {
		return fmt.Errorf("insert campaign %s: duplicate key", c.CampaignID)
	}
	cp := *c
	r.campaigns[cp.CampaignID] = &cp
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) Complete(_ context.Context, id string, f campaign.CompletionFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	sent := f.EmailsSent
	at := f.CompletedAt
	c.Status = domain.CampaignCompleted
	c.EmailsSent = &sent
	c.CompletedAt = &at
	if f.TotalCustomers != nil {
		c.TotalCustomers = *f.TotalCustomers
	}
	if f.SuccessRate != nil {
		rate := *f.SuccessRate
		c.SuccessRate = &rate
	}
	return nil
}

func (r *CampaignRepo) Recent(_ context.Context, limit int) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CampaignRepo) EmailsSentTotal(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.campaigns {
		if c.EmailsSent != nil && *c.EmailsSent > 0 {
			total += *c.EmailsSent
		}
	}
	return total, nil
}
