package dynamo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/routing"
)

// fakeDynamo keeps items per partition and pages queries two at a time.
type fakeDynamo struct {
	mu          sync.Mutex
	items       map[string]map[string]map[string]types.AttributeValue
	unprocessed int // number of calls that bounce their last request
	writeCalls  int
	failCall    int // 1-based write call that fails outright
	queryErr    error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if f.writeCalls == f.failCall {
		return nil, errors.New("provisioned throughput exceeded")
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if f.unprocessed > 0 && len(reqs) > 0 {
			f.unprocessed--
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			pk, sk := str(r.PutRequest.Item["PK"]), str(r.PutRequest.Item["SK"])
			if f.items[pk] == nil {
				f.items[pk] = map[string]map[string]types.AttributeValue{}
			}
			f.items[pk][sk] = r.PutRequest.Item
		}
	}
	return out, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	part := f.items[str(in.ExpressionAttributeValues[":pk"])]
	keys := make([]string, 0, len(part))
	for k := range part {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := str(in.ExclusiveStartKey["SK"])
		start = sort.SearchStrings(keys, after) + 1
	}
	end := start + 2
	if end > len(keys) {
		end = len(keys)
	}

	out := &dynamodb.QueryOutput{Count: int32(end - start)}
	if in.Select != types.SelectCount {
		for _, k := range keys[start:end] {
			out.Items = append(out.Items, part[k])
		}
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": in.ExpressionAttributeValues[":pk"],
			"SK": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func records(ids ...string) []domain.CustomerRecord {
	out := make([]domain.CustomerRecord, len(ids))
	for i, id := range ids {
		out[i] = domain.CustomerRecord{
			CustomerID: id,
			Name:       "N " + id,
			Email:      id + "@example.com",
			Attributes: map[string]float64{"income": float64(i)},
		}
	}
	return out
}

func TestUpsertAndList(t *testing.T) {
	fake := newFakeDynamo()
	store := New(fake, "customers", 0)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "affluent", records("a", "b", "c", "d", "e")))
	require.NoError(t, store.Upsert(ctx, "stable", records("z")))

	n, err := store.Count(ctx, "affluent")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	ids, err := store.ListIDs(ctx, "affluent")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

	list, err := store.List(ctx, "stable")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "z@example.com", list[0].Email)
	assert.Equal(t, 0.0, list[0].Attributes["income"])
	assert.Nil(t, list[0].Categories)
}

func TestUpsertKeepsCategories(t *testing.T) {
	fake := newFakeDynamo()
	store := New(fake, "customers", 0)
	ctx := context.Background()

	recs := records("a")
	recs[0].Categories = map[string]string{"occupation": "engineer"}
	require.NoError(t, store.Upsert(ctx, "t", recs))

	list, err := store.List(ctx, "t")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "engineer", list[0].Categories["occupation"])
}

func TestUpsertReportsPartialWrite(t *testing.T) {
	fake := newFakeDynamo()
	fake.failCall = 2
	store := New(fake, "customers", 0)

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = string(rune('A' + i))
	}
	err := store.Upsert(context.Background(), "t", records(ids...))
	require.Error(t, err)

	var partial *routing.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, batchWriteLimit, partial.Written)

	n, _ := store.Count(context.Background(), "t")
	assert.Equal(t, batchWriteLimit, n)
}

func TestUpsertFirstBatchFailureIsNotPartial(t *testing.T) {
	fake := newFakeDynamo()
	fake.failCall = 1
	store := New(fake, "customers", 0)

	err := store.Upsert(context.Background(), "t", records("a", "b"))
	require.Error(t, err)
	var partial *routing.PartialWriteError
	assert.False(t, errors.As(err, &partial))
}

func TestUpsertReplaces(t *testing.T) {
	fake := newFakeDynamo()
	store := New(fake, "customers", 0)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "t", records("a", "b")))
	require.NoError(t, store.Upsert(ctx, "t", records("b", "a")))

	n, _ := store.Count(ctx, "t")
	assert.Equal(t, 2, n)
}

func TestUpsertChunksAndRetriesUnprocessed(t *testing.T) {
	fake := newFakeDynamo()
	fake.unprocessed = 1
	store := New(fake, "customers", 0)

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = string(rune('A' + i))
	}
	require.NoError(t, store.Upsert(context.Background(), "t", records(ids...)))

	// two chunks plus one resubmission
	assert.Equal(t, 3, fake.writeCalls)
	n, _ := store.Count(context.Background(), "t")
	assert.Equal(t, 30, n)
}

func TestQueryError(t *testing.T) {
	fake := newFakeDynamo()
	fake.queryErr = errors.New("throttled")
	store := New(fake, "customers", 0)

	_, err := store.Count(context.Background(), "t")
	assert.ErrorContains(t, err, "throttled")
	_, err = store.ListIDs(context.Background(), "t")
	assert.Error(t, err)
}
