package campaign_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/pkg/distlock"
	"github.com/ignite/persona-segmentation/internal/repository/memory"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/service/campaign"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func clock() time.Time { return fixedNow }

// brokenRepo fails every write.
type brokenRepo struct{ *memory.CampaignRepo }

func (brokenRepo) Insert(context.Context, *domain.Campaign) error { return errors.New("db down") }
func (brokenRepo) Complete(context.Context, string, campaign.CompletionFields) error {
	return errors.New("db down")
}

// flakyGetRepo fails the first getFailures reads.
type flakyGetRepo struct {
	*memory.CampaignRepo
	mu          sync.Mutex
	getFailures int
}

func (r *flakyGetRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	fail := r.getFailures > 0
	if fail {
		r.getFailures--
	}
	r.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return r.CampaignRepo.Get(ctx, id)
}

// failingStore fails every count.
type failingStore struct{ *memory.CustomerStore }

func (failingStore) Count(context.Context, string) (int, error) { return 0, errors.New("timeout") }

type stubLedger struct {
	n  int
	ok bool
}

func (l stubLedger) Sent(context.Context, string) (int, bool, error) { return l.n, l.ok, nil }

type fixture struct {
	svc   *campaign.Service
	repo  *memory.CampaignRepo
	store *memory.CustomerStore
}

func newFixture(t *testing.T, opts ...campaign.Option) *fixture {
	t.Helper()
	dm, err := routing.NewDestinationMap([]domain.Destination{
		{Persona: "Affluent Customers", Table: "affluent_customers"},
		{Persona: "Stable Earners", Table: "stable_earners"},
	})
	require.NoError(t, err)

	f := &fixture{repo: memory.NewCampaignRepo(), store: memory.NewCustomerStore()}
	seed := make([]domain.CustomerRecord, 40)
	for i := range seed {
		seed[i] = domain.CustomerRecord{CustomerID: string(rune('A'+i%26)) + string(rune('a'+i/26))}
	}
	require.NoError(t, f.store.Upsert(context.Background(), "affluent_customers", seed))

	opts = append([]campaign.Option{campaign.WithClock(clock)}, opts...)
	f.svc = campaign.NewService(f.repo, dm, f.store, opts...)
	return f
}

func TestNewID(t *testing.T) {
	id := campaign.NewID("Spring Promo!", "Affluent Customers", fixedNow)
	assert.Equal(t, "spring_promo__affluent_customers_1773480413000", id)
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Start(context.Background(), campaign.StartInput{
		CampaignName: "Spring Promo",
		SegmentName:  "Affluent Customers",
	})
	require.NoError(t, err)

	c := res.Campaign
	assert.Equal(t, domain.CampaignRunning, c.Status)
	assert.Equal(t, 40, c.TotalCustomers)
	assert.False(t, res.CountDegraded)
	assert.Equal(t, fixedNow, c.StartedAt)
	assert.Nil(t, c.CompletedAt)

	stored, err := f.svc.Get(context.Background(), c.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, c.CampaignID, stored.CampaignID)
}

func TestStartUnknownSegment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), campaign.StartInput{CampaignName: "X", SegmentName: "Martians"})

	var serr *campaign.StartError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, campaign.ErrUnknownSegment)

	recent, _ := f.svc.Recent(context.Background(), 10)
	assert.Empty(t, recent)
}

func TestStartMissingName(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), campaign.StartInput{SegmentName: "Stable Earners"})
	assert.ErrorIs(t, err, campaign.ErrMissingField)
}

func TestStartCountDegrades(t *testing.T) {
	dm, _ := routing.NewDestinationMap([]domain.Destination{{Persona: "Stable Earners", Table: "stable_earners"}})
	svc := campaign.NewService(memory.NewCampaignRepo(), dm, failingStore{memory.NewCustomerStore()}, campaign.WithClock(clock))

	res, err := svc.Start(context.Background(), campaign.StartInput{
		CampaignName:   "Y",
		SegmentName:    "Stable Earners",
		TotalCustomers: 17,
	})
	require.NoError(t, err)
	assert.True(t, res.CountDegraded)
	assert.Equal(t, 17, res.Campaign.TotalCustomers)
}

func TestStartPersistFailure(t *testing.T) {
	dm, _ := routing.NewDestinationMap([]domain.Destination{{Persona: "Stable Earners", Table: "stable_earners"}})
	svc := campaign.NewService(brokenRepo{memory.NewCampaignRepo()}, dm, memory.NewCustomerStore())

	_, err := svc.Start(context.Background(), campaign.StartInput{CampaignName: "Z", SegmentName: "Stable Earners"})
	assert.ErrorIs(t, err, campaign.ErrStoreUnavailable)
}

func TestCompleteUsesSegmentSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started, err := f.svc.Start(ctx, campaign.StartInput{CampaignName: "Promo", SegmentName: "Affluent Customers"})
	require.NoError(t, err)

	out, err := f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: started.Campaign.CampaignID})
	require.NoError(t, err)

	assert.True(t, out.Persisted)
	assert.False(t, out.Recovered)
	assert.Equal(t, campaign.SourceSegmentSize, out.EmailsSentSource)

	c, _ := f.svc.Get(ctx, started.Campaign.CampaignID)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	require.NotNil(t, c.EmailsSent)
	assert.Equal(t, 40, *c.EmailsSent)
	require.NotNil(t, c.CompletedAt)
	assert.False(t, c.CompletedAt.Before(c.StartedAt))
	require.NotNil(t, c.SuccessRate)
	assert.Equal(t, 100.0, *c.SuccessRate)
}

func TestCompleteSourcePriority(t *testing.T) {
	ctx := context.Background()
	reported := 12

	f := newFixture(t, campaign.WithLedger(stubLedger{n: 30, ok: true}))
	started, _ := f.svc.Start(ctx, campaign.StartInput{CampaignName: "A", SegmentName: "Affluent Customers"})

	out, err := f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: started.Campaign.CampaignID})
	require.NoError(t, err)
	assert.Equal(t, campaign.SourceLedger, out.EmailsSentSource)
	assert.Equal(t, 30, *out.Campaign.EmailsSent)
	assert.Equal(t, 75.0, *out.Campaign.SuccessRate)

	f = newFixture(t, campaign.WithLedger(stubLedger{n: 30, ok: true}))
	started, _ = f.svc.Start(ctx, campaign.StartInput{CampaignName: "B", SegmentName: "Affluent Customers"})
	out, err = f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: started.Campaign.CampaignID, EmailsSent: &reported})
	require.NoError(t, err)
	assert.Equal(t, campaign.SourceReported, out.EmailsSentSource)
	assert.Equal(t, 12, *out.Campaign.EmailsSent)

	f = newFixture(t, campaign.WithLedger(stubLedger{}))
	started, _ = f.svc.Start(ctx, campaign.StartInput{CampaignName: "C", SegmentName: "Affluent Customers"})
	out, err = f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: started.Campaign.CampaignID})
	require.NoError(t, err)
	assert.Equal(t, campaign.SourceSegmentSize, out.EmailsSentSource)
}

func TestCompleteUnknownCampaignRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	total := 80

	out, err := f.svc.Complete(ctx, campaign.CompleteInput{
		CampaignID:     "ghost_1",
		Segment:        "Affluent Customers",
		TotalCustomers: &total,
	})
	require.NoError(t, err)
	assert.True(t, out.Recovered)
	assert.True(t, out.Persisted)

	c, err := f.svc.Get(ctx, "ghost_1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	assert.Equal(t, campaign.UnknownCampaignName, c.Name)
	assert.Equal(t, domain.Persona("Affluent Customers"), c.Segment)
	assert.Equal(t, 40, *c.EmailsSent)
	assert.Equal(t, 50.0, *c.SuccessRate)
}

func TestCompleteUnknownSegment(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Complete(context.Background(), campaign.CompleteInput{CampaignID: "ghost_2"})
	require.NoError(t, err)
	assert.Equal(t, campaign.SourceNone, out.EmailsSentSource)
	assert.Equal(t, 0, *out.Campaign.EmailsSent)
	assert.Equal(t, domain.Persona(campaign.UnknownSegmentName), out.Campaign.Segment)
	assert.Nil(t, out.Campaign.SuccessRate)
}

func TestCompleteMissingID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Complete(context.Background(), campaign.CompleteInput{})
	assert.ErrorIs(t, err, campaign.ErrMissingField)
}

func TestCompleteTwiceIsGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started, _ := f.svc.Start(ctx, campaign.StartInput{CampaignName: "Promo", SegmentName: "Affluent Customers"})
	id := started.Campaign.CampaignID

	_, err := f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: id})
	require.NoError(t, err)

	other := 3
	out, err := f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: id, EmailsSent: &other})
	require.NoError(t, err)
	assert.True(t, out.AlreadyCompleted)
	assert.Equal(t, 40, *out.Campaign.EmailsSent)
}

func TestCompletePersistFailureIsReported(t *testing.T) {
	dm, _ := routing.NewDestinationMap([]domain.Destination{{Persona: "Stable Earners", Table: "stable_earners"}})
	svc := campaign.NewService(brokenRepo{memory.NewCampaignRepo()}, dm, memory.NewCustomerStore())

	out, err := svc.Complete(context.Background(), campaign.CompleteInput{CampaignID: "c1", SegmentName: "Stable Earners"})
	require.NoError(t, err)
	assert.False(t, out.Persisted)
	assert.Equal(t, domain.CampaignCompleted, out.Campaign.Status)
}

func TestCompleteRetriesFailedLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started, err := f.svc.Start(ctx, campaign.StartInput{CampaignName: "Promo", SegmentName: "Affluent Customers"})
	require.NoError(t, err)

	dm, _ := routing.NewDestinationMap([]domain.Destination{{Persona: "Affluent Customers", Table: "affluent_customers"}})
	repo := &flakyGetRepo{CampaignRepo: f.repo, getFailures: 1}
	svc := campaign.NewService(repo, dm, f.store, campaign.WithClock(clock))

	out, err := svc.Complete(ctx, campaign.CompleteInput{CampaignID: started.Campaign.CampaignID})
	require.NoError(t, err)
	assert.False(t, out.LookupFailed)
	assert.Equal(t, "Promo", out.Campaign.Name)
	assert.Equal(t, campaign.SourceSegmentSize, out.EmailsSentSource)
	assert.Equal(t, 40, *out.Campaign.EmailsSent)
}

func TestCompleteReportsStoredCampaignAfterFailedLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started, err := f.svc.Start(ctx, campaign.StartInput{CampaignName: "Promo", SegmentName: "Affluent Customers"})
	require.NoError(t, err)
	id := started.Campaign.CampaignID

	dm, _ := routing.NewDestinationMap([]domain.Destination{{Persona: "Affluent Customers", Table: "affluent_customers"}})
	repo := &flakyGetRepo{CampaignRepo: f.repo, getFailures: 2}
	svc := campaign.NewService(repo, dm, f.store, campaign.WithClock(clock))

	out, err := svc.Complete(ctx, campaign.CompleteInput{CampaignID: id})
	require.NoError(t, err)
	assert.True(t, out.LookupFailed)
	assert.True(t, out.Persisted)
	assert.False(t, out.Recovered)

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stored, out.Campaign)
	assert.Equal(t, "Promo", out.Campaign.Name)
	assert.Equal(t, domain.Persona("Affluent Customers"), out.Campaign.Segment)
	assert.Equal(t, domain.CampaignCompleted, out.Campaign.Status)
}

func TestCompleteConcurrentWithLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := newFixture(t, campaign.WithLocks(distlock.NewFactory(rdb, nil, 5*time.Second)))
	ctx := context.Background()
	started, _ := f.svc.Start(ctx, campaign.StartInput{CampaignName: "Promo", SegmentName: "Affluent Customers"})
	id := started.Campaign.CampaignID

	var wg sync.WaitGroup
	outs := make([]*campaign.CompleteOutcome, 4)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.svc.Complete(ctx, campaign.CompleteInput{CampaignID: id})
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, o := range outs {
		if !o.AlreadyCompleted {
			completed++
		}
	}
	assert.GreaterOrEqual(t, completed, 1)

	c, _ := f.svc.Get(ctx, id)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	assert.Equal(t, 40, *c.EmailsSent)
}

func TestRecent(t *testing.T) {
	repo := memory.NewCampaignRepo()
	dm, _ := routing.NewDestinationMap([]domain.Destination{{Persona: "Stable Earners", Table: "stable_earners"}})
	at := fixedNow
	svc := campaign.NewService(repo, dm, memory.NewCustomerStore(), campaign.WithClock(func() time.Time {
		at = at.Add(time.Minute)
		return at
	}))

	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		_, err := svc.Start(ctx, campaign.StartInput{CampaignName: name, SegmentName: "Stable Earners"})
		require.NoError(t, err)
	}

	list, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "three", list[0].Name)
	assert.Equal(t, "two", list[1].Name)
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 50.0, campaign.SuccessRate(5, 10))
	assert.Equal(t, 100.0, campaign.SuccessRate(15, 10))
	assert.Equal(t, 0.0, campaign.SuccessRate(5, 0))
}
