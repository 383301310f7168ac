package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/versioned/internal/av"
)

// Client is the part of the DynamoDB API the Store uses.
// *dynamodb.Client satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// maxBatchGetKeys is the DynamoDB limit on keys per BatchGetItem call.
const maxBatchGetKeys = 100

// getItem performs a consistent read. It returns nil if the item does not exist.
func (s *Store) getItem(ctx context.Context, table string, key Key) (Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		err = fmt.Errorf("get item %s%s: %w", table, formatKey(key), err)
		if verr, ok := validationFrom(err, func(int) string { return table }); ok {
			return nil, verr
		}
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	s.config.Logger.Debug("fetched item", "table", table, "key", formatKey(key))
	return Item(av.NormalizeItem(out.Item)), nil
}

// batchGet reads refs with consistent reads, in chunks fetched concurrently.
// Items that do not exist are simply missing from the result.
func (s *Store) batchGet(ctx context.Context, refs []ItemRef) (map[string][]Item, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]Item)
	)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(refs); start += maxBatchGetKeys {
		chunk := refs[start:min(start+maxBatchGetKeys, len(refs))]
		g.Go(func() error {
			items, err := s.batchGetChunk(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for table, list := range items {
				out[table] = append(out[table], list...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// batchGetChunk re-requests unprocessed keys until none remain, backing off
// while DynamoDB makes no progress.
func (s *Store) batchGetChunk(ctx context.Context, chunk []ItemRef) (map[string][]Item, error) {
	request := make(map[string]types.KeysAndAttributes)
	for _, ref := range chunk {
		ka := request[ref.Table]
		ka.Keys = append(ka.Keys, ref.Key)
		ka.ConsistentRead = aws.Bool(true)
		request[ref.Table] = ka
	}

	var b *backoff.ExponentialBackOff
	out := make(map[string][]Item)
	for len(request) > 0 {
		resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			err = fmt.Errorf("batch get %d items: %w", len(chunk), err)
			if verr, ok := validationFrom(err, func(int) string { return soleTable(request) }); ok {
				return nil, verr
			}
			return nil, err
		}
		served := 0
		for table, items := range resp.Responses {
			for _, item := range items {
				out[table] = append(out[table], Item(av.NormalizeItem(item)))
			}
			served += len(items)
		}
		request = resp.UnprocessedKeys
		if len(request) == 0 || served > 0 {
			continue
		}
		if b == nil {
			b = backoff.NewExponentialBackOff()
			b.InitialInterval = s.config.InitialInterval
			b.MaxInterval = s.config.MaxInterval
			b.MaxElapsedTime = 0
			b.Reset()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
	return out, nil
}

// soleTable returns the table a batch request reads from, or "" if it
// spans several.
func soleTable(request map[string]types.KeysAndAttributes) string {
	if len(request) != 1 {
		return ""
	}
	for table := range request {
		return table
	}
	return ""
}

// keySchema returns the key attributes of table, hash key first. Results
// are cached for the life of the Store since key schemas never change.
func (s *Store) keySchema(ctx context.Context, table string) ([]string, error) {
	if v, ok := s.schemas.Load(table); ok {
		return v.([]string), nil
	}
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		if IsTransient(err) {
			return nil, fmt.Errorf("describe table %s: %w", table, err)
		}
		return nil, fmt.Errorf("%w: %w", &TableSchemaUnknownError{Table: table}, err)
	}
	if out.Table == nil || len(out.Table.KeySchema) == 0 {
		return nil, &TableSchemaUnknownError{Table: table}
	}
	schema := append([]types.KeySchemaElement(nil), out.Table.KeySchema...)
	sort.SliceStable(schema, func(i, j int) bool {
		return schema[i].KeyType == types.KeyTypeHash && schema[j].KeyType != types.KeyTypeHash
	})
	attrs := make([]string, len(schema))
	for i, el := range schema {
		attrs[i] = aws.ToString(el.AttributeName)
	}
	s.schemas.Store(table, attrs)
	s.config.Logger.Debug("resolved key schema", "table", table, "keyAttributes", attrs)
	return attrs, nil
}
