// Package outreach composes a message for every customer of a campaign's
// segment and hands it to the delivery workflow.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/persona-segmentation/internal/composer"
	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/metrics"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/workflow"
)

var (
	ErrNoOffer        = errors.New("no offer configured for segment")
	ErrCampaignClosed = errors.New("campaign is already completed")
)

const maxFailureSamples = 20

// Sender delivers one composed message.
type Sender interface {
	Send(ctx context.Context, d workflow.Dispatch) error
}

// Ledger records confirmed dispatches.
type Ledger interface {
	Record(ctx context.Context, campaignID string, n int) error
}

// Failure is one customer the dispatcher could not serve.
type Failure struct {
	CustomerID string `json:"customer_id"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

// Result summarizes a dispatch run.
type Result struct {
	CampaignID string    `json:"campaign_id"`
	Segment    string    `json:"segment"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Dispatcher fans composition and delivery out over a bounded worker pool.
type Dispatcher struct {
	dests    *routing.DestinationMap
	store    routing.DestinationStore
	offers   map[domain.Persona]domain.Offer
	composer composer.Composer
	sender   Sender
	ledger   Ledger
	workers  int
	log      *logger.Logger
}

// NewDispatcher creates a dispatcher. ledger may be nil.
func NewDispatcher(dests *routing.DestinationMap, store routing.DestinationStore, offers []domain.Offer,
	c composer.Composer, sender Sender, ledger Ledger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	byPersona := make(map[domain.Persona]domain.Offer, len(offers))
	for _, o := range offers {
		byPersona[o.Persona] = o
	}
	return &Dispatcher{
		dests:    dests,
		store:    store,
		offers:   byPersona,
		composer: c,
		sender:   sender,
		ledger:   ledger,
		workers:  workers,
		log:      logger.Named("outreach"),
	}
}

// Offer returns the offer configured for a persona.
func (d *Dispatcher) Offer(p domain.Persona) (domain.Offer, bool) {
	o, ok := d.offers[p]
	return o, ok
}

// Dispatch messages every customer currently stored for the campaign's
// segment. limit > 0 caps the number of customers. Per-customer failures
// are counted, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, c *domain.Campaign, limit int) (*Result, error) {
	if c.IsTerminal() {
		return nil, ErrCampaignClosed
	}
	table, ok := d.dests.Lookup(c.Segment)
	if !ok {
		return nil, fmt.Errorf("%w: %q", routing.ErrUnknownPersona, c.Segment)
	}
	offer, ok := d.offers[c.Segment]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoOffer, c.Segment)
	}

	customers, err := d.store.List(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", routing.ErrStoreUnavailable, err)
	}
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}

	res := &Result{CampaignID: c.CampaignID, Segment: string(c.Segment), Total: len(customers)}
	var mu sync.Mutex
	fail := func(id, stage string, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Failed++
		if len(res.Failures) < maxFailureSamples {
			res.Failures = append(res.Failures, Failure{CustomerID: id, Stage: stage, Error: err.Error()})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, cust := range customers {
		if cust.Email == "" {
			res.Skipped++
			continue
		}
		cust := cust
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			msg, err := d.composer.Compose(gctx, composer.Request{Customer: cust, Persona: c.Segment, Offer: offer})
			if err != nil {
				fail(cust.CustomerID, "compose", err)
				metrics.MessagesDispatched.WithLabelValues("compose_failed").Inc()
				return nil
			}
			err = d.sender.Send(gctx, workflow.Dispatch{
				CustomerID:   cust.CustomerID,
				Name:         cust.Name,
				Email:        cust.Email,
				Persona:      string(c.Segment),
				CampaignID:   c.CampaignID,
				EmailSubject: msg.Subject,
				EmailBody:    msg.Body,
			})
			if err != nil {
				fail(cust.CustomerID, "send", err)
				metrics.MessagesDispatched.WithLabelValues("send_failed").Inc()
				return nil
			}
			mu.Lock()
			res.Sent++
			mu.Unlock()
			metrics.MessagesDispatched.WithLabelValues("sent").Inc()
			return nil
		})
	}
	waitErr := g.Wait()

	if d.ledger != nil && res.Sent > 0 {
		if err := d.ledger.Record(context.WithoutCancel(ctx), c.CampaignID, res.Sent); err != nil {
			d.log.Warn("dispatch ledger write failed", "campaign_id", c.CampaignID, "error", err)
		}
	}
	d.log.Info("dispatch finished", "campaign_id", c.CampaignID, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)

	if waitErr != nil {
		return res, waitErr
	}
	return res, nil
}
