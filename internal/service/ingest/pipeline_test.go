package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/persona-segmentation/internal/classifier"
	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/repository/memory"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/segmentation"
)

const upload = "customer_id,name,email,age,income,balance,has_loan\n" +
	"C1,Ada Lovelace,ada@example.com,36,85000,12000,1\n" +
	"C2,Alan Turing,alan@example.com,41,32000,3000,0\n" +
	"C3,Grace Hopper,grace@example.com,_INVALID_,91000,45000,1\n" +
	"C4,Edsger Dijkstra,edsger@example.com,52,28000,900,no\n"

// byIncome puts everyone earning over 50k in cluster 7 and the rest in 3.
var byIncome = classifier.PredictorFunc(func(_ context.Context, _ []string, recs []domain.CustomerRecord) ([]int, error) {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = 3
		if r.Attributes["income"] > 50000 {
			out[i] = 7
		}
	}
	return out, nil
})

type downStore struct {
	*memory.CustomerStore
	table string
}

func (s downStore) Upsert(ctx context.Context, table string, recs []domain.CustomerRecord) error {
	if table == s.table {
		return errors.New("relation does not exist")
	}
	return s.CustomerStore.Upsert(ctx, table, recs)
}

type fakeArchive struct {
	got map[string][]byte
	err error
}

func (a *fakeArchive) Put(_ context.Context, batchID, filename string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.got[batchID+"/"+filename] = data
	return "mem://" + batchID + "/" + filename, nil
}

func newRouter(t *testing.T, store routing.DestinationStore) *routing.Router {
	t.Helper()
	dm, err := routing.NewDestinationMap([]domain.Destination{
		{Persona: "Low Tier", Table: "low_tier"},
		{Persona: "High Tier", Table: "high_tier"},
	})
	require.NoError(t, err)
	return routing.NewRouter(dm, store)
}

func sanitizer() *segmentation.Sanitizer {
	return segmentation.NewSanitizer(segmentation.Schema{
		SentinelTokens: []string{"_INVALID_", "_RARE_"},
		BooleanFields:  []string{"has_loan"},
		NumericFields:  []string{"age", "income", "balance"},
	})
}

func fixedID() string { return "batch-1" }

func TestRunRoutesByPersona(t *testing.T) {
	store := memory.NewCustomerStore()
	reports := NewMemoryReports()
	p := NewPipeline(sanitizer(), byIncome, newRouter(t, store), WithReports(reports), WithIDs(fixedID))

	rep, err := p.Run(context.Background(), Upload{Filename: "customers.csv", Data: []byte(upload)})
	require.NoError(t, err)

	assert.Equal(t, "batch-1", rep.BatchID)
	assert.Equal(t, MessageSuccess, rep.Message)
	assert.Equal(t, 4, rep.TotalRows)
	assert.Equal(t, 1, rep.RejectedCount)
	require.Len(t, rep.RejectedSamples, 1)
	assert.Equal(t, 4, rep.RejectedSamples[0].Line)
	assert.Equal(t, 0, rep.UnmappedCount)

	require.Contains(t, rep.Clusters, "low_tier")
	require.Contains(t, rep.Clusters, "high_tier")
	assert.Equal(t, 2, rep.Clusters["low_tier"].ProcessedCount)
	assert.Equal(t, 1, rep.Clusters["high_tier"].ProcessedCount)

	require.Len(t, rep.Personas, 2)
	assert.Equal(t, 3, rep.Personas[0].ClusterID)
	assert.Equal(t, domain.Persona("Low Tier"), rep.Personas[0].Persona)
	assert.Equal(t, 7, rep.Personas[1].ClusterID)
	assert.Equal(t, domain.Persona("High Tier"), rep.Personas[1].Persona)

	ids, err := store.ListIDs(context.Background(), "low_tier")
	require.NoError(t, err)
	assert.Equal(t, []string{"C2", "C4"}, ids)

	stored, err := p.Report(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, rep.TotalRows, stored.TotalRows)
}

func TestRunReportsDestinationFailure(t *testing.T) {
	store := downStore{CustomerStore: memory.NewCustomerStore(), table: "high_tier"}
	p := NewPipeline(sanitizer(), byIncome, newRouter(t, store))

	rep, err := p.Run(context.Background(), Upload{Filename: "customers.csv", Data: []byte(upload)})
	require.NoError(t, err)
	assert.Equal(t, MessagePartial, rep.Message)
	assert.True(t, rep.Failed())
	assert.Equal(t, routing.StatusFailed, rep.Clusters["high_tier"].Status)
	assert.Equal(t, 0, rep.Clusters["high_tier"].ProcessedCount)
	assert.Equal(t, routing.StatusSuccess, rep.Clusters["low_tier"].Status)
}

func TestRunRejectsUnreadableUpload(t *testing.T) {
	p := NewPipeline(sanitizer(), byIncome, newRouter(t, memory.NewCustomerStore()))

	_, err := p.Run(context.Background(), Upload{Filename: "empty.csv"})
	var verr *segmentation.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRunSkipsClassifierWhenNothingValid(t *testing.T) {
	called := false
	predictor := classifier.PredictorFunc(func(context.Context, []string, []domain.CustomerRecord) ([]int, error) {
		called = true
		return nil, nil
	})
	p := NewPipeline(sanitizer(), predictor, newRouter(t, memory.NewCustomerStore()))

	rep, err := p.Run(context.Background(), Upload{Data: []byte("customer_id,income,balance\nC1,_RARE_,10\n")})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, MessageEmpty, rep.Message)
	assert.Equal(t, 1, rep.RejectedCount)
	assert.Empty(t, rep.Clusters)
}

func TestRunClassifierFailure(t *testing.T) {
	predictor := classifier.PredictorFunc(func(context.Context, []string, []domain.CustomerRecord) ([]int, error) {
		return nil, classifier.ErrUnavailable
	})
	store := memory.NewCustomerStore()
	p := NewPipeline(sanitizer(), predictor, newRouter(t, store))

	_, err := p.Run(context.Background(), Upload{Data: []byte(upload)})
	assert.ErrorIs(t, err, classifier.ErrUnavailable)

	n, err := store.Count(context.Background(), "low_tier")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunTooManyClusters(t *testing.T) {
	predictor := classifier.PredictorFunc(func(_ context.Context, _ []string, recs []domain.CustomerRecord) ([]int, error) {
		out := make([]int, len(recs))
		for i := range out {
			out[i] = i
		}
		return out, nil
	})
	p := NewPipeline(sanitizer(), predictor, newRouter(t, memory.NewCustomerStore()))

	_, err := p.Run(context.Background(), Upload{Data: []byte(upload)})
	var lerr *segmentation.LabelingError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, segmentation.ErrTooManyClusters)
}

func TestRunArchivesUpload(t *testing.T) {
	arch := &fakeArchive{got: map[string][]byte{}}
	p := NewPipeline(sanitizer(), byIncome, newRouter(t, memory.NewCustomerStore()), WithArchive(arch), WithIDs(fixedID))

	rep, err := p.Run(context.Background(), Upload{Filename: "customers.csv", Data: []byte(upload)})
	require.NoError(t, err)
	assert.Equal(t, "mem://batch-1/customers.csv", rep.ArchivedAt)
	assert.Equal(t, []byte(upload), arch.got["batch-1/customers.csv"])

	arch.err = errors.New("access denied")
	rep, err = p.Run(context.Background(), Upload{Filename: "customers.csv", Data: []byte(upload)})
	require.NoError(t, err)
	assert.Empty(t, rep.ArchivedAt)
}

func TestRedisReports(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	reports := NewRedisReports(rdb, time.Hour)
	ctx := context.Background()

	_, err := reports.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrReportNotFound)

	p := NewPipeline(sanitizer(), byIncome, newRouter(t, memory.NewCustomerStore()), WithReports(reports), WithIDs(fixedID))
	_, err = p.Run(ctx, Upload{Filename: "customers.csv", Data: []byte(upload)})
	require.NoError(t, err)

	got, err := reports.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, MessageSuccess, got.Message)
	assert.Equal(t, 2, got.Clusters["low_tier"].ProcessedCount)
	assert.Equal(t, time.Hour, mr.TTL("batch:report:batch-1"))

	mr.FastForward(2 * time.Hour)
	_, err = reports.Get(ctx, "batch-1")
	assert.ErrorIs(t, err, ErrReportNotFound)
}
