// Package stream runs versioned transactions in response to DynamoDB
// stream records.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/store"
)

// Stream event names.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Change is one stream record converted to store types.
type Change struct {
	Table     string
	EventName string
	Keys      store.Key
	Old       store.Item // nil unless the stream carries old images
	New       store.Item // nil on REMOVE or unless the stream carries new images
}

// RecordBuilder returns the transaction to run for a change, or nil to skip it.
type RecordBuilder func(change Change) store.Builder

// Handler processes DynamoDB stream events.
type Handler struct {
	store  *store.Store
	build  RecordBuilder
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, fn RecordBuilder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		build:  fn,
		logger: logger,
	}
}

// HandleRecords runs one transaction per record, in order. It is designed
// to be used as an AWS Lambda handler.
//
// The source item's state after the change is presumed, so builders can
// read it without a fetch. A stale presumption is corrected by the usual
// conflict retry.
func (h *Handler) HandleRecords(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Lambda retries the batch
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	change, err := ConvertRecord(record)
	if err != nil {
		return err
	}
	build := h.build(change)
	if build == nil {
		return nil
	}

	if _, err := h.store.Transact(ctx, presumed(change, build)); err != nil {
		return fmt.Errorf("%s %s: %w", change.EventName, change.Table, err)
	}
	h.logger.Info("processed record",
		"eventID", record.EventID,
		"table", change.Table,
		"event", change.EventName,
	)
	return nil
}

// presumed wraps build so that it starts from the record's view of the
// source item.
func presumed(change Change, build store.Builder) store.Builder {
	return func(tx *store.Transaction) (*store.Transaction, error) {
		var err error
		switch {
		case change.EventName == EventRemove:
			tx, err = tx.Presume(change.Table, change.Keys, nil)
		case change.New != nil:
			tx, err = tx.Presume(change.Table, change.Keys, change.New)
		}
		if err != nil {
			return nil, err
		}
		return build(tx)
	}
}

// ConvertRecord converts a stream record to a Change.
func ConvertRecord(record events.DynamoDBEventRecord) (Change, error) {
	table, err := TableFromARN(record.EventSourceArn)
	if err != nil {
		return Change{}, err
	}
	c := Change{
		Table:     table,
		EventName: record.EventName,
		Keys:      ConvertStreamKey(record.Change.Keys),
	}
	if record.Change.OldImage != nil {
		c.Old = ConvertStreamImage(record.Change.OldImage)
	}
	if record.Change.NewImage != nil && record.EventName != EventRemove {
		c.New = ConvertStreamImage(record.Change.NewImage)
	}
	return c, nil
}

// TableFromARN returns the table name of a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/tasks/stream/2024-01-01T00:00:00.000.
func TableFromARN(arn string) (string, error) {
	_, resource, ok := strings.Cut(arn, ":table/")
	if !ok {
		return "", fmt.Errorf("stream: not a table ARN: %q", arn)
	}
	name, _, _ := strings.Cut(resource, "/")
	if name == "" {
		return "", fmt.Errorf("stream: not a table ARN: %q", arn)
	}
	return name, nil
}

// ConvertStreamKey converts a DynamoDB stream key to a store.Key.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.Key {
	result := make(store.Key, len(streamKey))
	for k, v := range streamKey {
		if av := convert(v); av != nil {
			result[k] = av
		}
	}
	return result
}

// ConvertStreamImage converts a DynamoDB stream image to a store.Item.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) store.Item {
	result := make(store.Item, len(image))
	for k, v := range image {
		if av := convert(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convert(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, e := range list {
			if av := convert(e); av != nil {
				out = append(out, av)
			}
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertStreamImage(v.Map())}
	}
	return nil
}
