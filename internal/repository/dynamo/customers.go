// Package dynamo stores persona tables in a single DynamoDB table. Each
// persona table becomes a partition (PK = "persona#<table>") and each
// customer an item keyed by SK = customer_id.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/ignite/persona-segmentation/internal/routing"
)

const (
	// batchWriteLimit is DynamoDB's BatchWriteItem cap.
	batchWriteLimit = 25
	maxUnprocessed  = 5
)

// API is the subset of the DynamoDB client used by CustomerStore.
type API interface {
	dynamodb.QueryAPIClient
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// customerItem is the stored shape of one customer.
type customerItem struct {
	PK         string             `dynamodbav:"PK"`
	SK         string             `dynamodbav:"SK"`
	Name       string             `dynamodbav:"Name"`
	Email      string             `dynamodbav:"Email"`
	Attributes map[string]float64 `dynamodbav:"Attributes"`
	Categories map[string]string  `dynamodbav:"Categories,omitempty"`
	UpdatedAt  string             `dynamodbav:"UpdatedAt"`
}

// CustomerStore implements routing.DestinationStore on DynamoDB.
type CustomerStore struct {
	client    API
	tableName string
	timeout   time.Duration
}

// NewCustomerStore loads AWS configuration and creates a store on tableName.
func NewCustomerStore(ctx context.Context, tableName, region, profile string, timeout time.Duration) (*CustomerStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tableName, timeout), nil
}

// New wraps an existing client.
func New(client API, tableName string, timeout time.Duration) *CustomerStore {
	return &CustomerStore{client: client, tableName: tableName, timeout: timeout}
}

func partition(table string) string { return "persona#" + table }

func (s *CustomerStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *CustomerStore) Upsert(ctx context.Context, table string, records []domain.CustomerRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	for start := 0; start < len(records); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(records) {
			end = len(records)
		}
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, r := range records[start:end] {
			av, err := attributevalue.MarshalMap(customerItem{
				PK:         partition(table),
				SK:         r.CustomerID,
				Name:       r.Name,
				Email:      r.Email,
				Attributes: r.Attributes,
				Categories: r.Categories,
				UpdatedAt:  now,
			})
			if err != nil {
				return fmt.Errorf("marshaling item %s: %w", r.CustomerID, err)
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		if err := s.writeBatch(ctx, reqs); err != nil {
			// Earlier batches are already stored.
			if start > 0 {
				err = &routing.PartialWriteError{Written: start, Err: err}
			}
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

// writeBatch resubmits unprocessed items a bounded number of times.
func (s *CustomerStore) writeBatch(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: reqs}
	for attempt := 0; attempt < maxUnprocessed; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("%d items still unprocessed", len(pending[s.tableName]))
}

func (s *CustomerStore) query(table string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partition(table)},
		},
	}
}

func (s *CustomerStore) Count(ctx context.Context, table string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	in := s.query(table)
	in.Select = types.SelectCount
	total := 0
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		total += int(page.Count)
	}
	return total, nil
}

func (s *CustomerStore) ListIDs(ctx context.Context, table string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	in := s.query(table)
	in.ProjectionExpression = aws.String("SK")
	var out []string
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list ids %s: %w", table, err)
		}
		for _, item := range page.Items {
			if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
				out = append(out, sk.Value)
			}
		}
	}
	return out, nil
}

func (s *CustomerStore) List(ctx context.Context, table string) ([]domain.CustomerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.CustomerRecord
	p := dynamodb.NewQueryPaginator(s.client, s.query(table))
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		for _, item := range page.Items {
			var ci customerItem
			if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
				return nil, fmt.Errorf("unmarshaling item: %w", err)
			}
			out = append(out, domain.CustomerRecord{
				CustomerID: ci.SK,
				Name:       ci.Name,
				Email:      ci.Email,
				Attributes: ci.Attributes,
				Categories: ci.Categories,
			})
		}
	}
	return out, nil
}
