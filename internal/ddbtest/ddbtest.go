// Package ddbtest provides an in-memory DynamoDB for tests.
//
// DB implements the subset of the DynamoDB API that versioned transactions
// use. Conditions are evaluated, transactions are all-or-nothing and report
// per-item cancellation reasons, and BatchGetItem can be made to return
// unprocessed keys. Faults and racing writers are injected with FailNext and
// BeforeWrite.
package ddbtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/versioned/internal/av"
)

// Operation names accepted by Calls and FailNext.
const (
	OpGetItem            = "GetItem"
	OpBatchGetItem       = "BatchGetItem"
	OpPutItem            = "PutItem"
	OpDeleteItem         = "DeleteItem"
	OpTransactWriteItems = "TransactWriteItems"
	OpDescribeTable      = "DescribeTable"
)

// Request records one write submitted to the DB.
type Request struct {
	Op        string
	Table     string
	Key       string
	Condition string
	Token     string
}

type table struct {
	keyAttrs []string
	items    map[string]map[string]types.AttributeValue
}

// DB is an in-memory DynamoDB. The zero value is not usable; use New.
type DB struct {
	// BatchGetLimit caps the number of keys served per BatchGetItem call.
	// Keys beyond the cap come back as UnprocessedKeys. Zero means no cap.
	BatchGetLimit int

	mu       sync.Mutex
	tables   map[string]*table
	calls    map[string]int
	failures map[string][]error
	hooks    []func(op string)
	requests []Request
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		tables:   make(map[string]*table),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// CreateTable adds a table. The first key attribute is the hash key and the
// optional second one the range key.
func (db *DB) CreateTable(name string, keyAttrs ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[name] = &table{
		keyAttrs: append([]string(nil), keyAttrs...),
		items:    make(map[string]map[string]types.AttributeValue),
	}
}

// Put stores item unconditionally, bypassing call counting and hooks.
func (db *DB) Put(tableName string, item map[string]types.AttributeValue) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(tableName)
	if err != nil {
		return err
	}
	k, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.items[k] = av.NormalizeItem(item)
	return nil
}

// Item returns a copy of the stored item with the given key, or nil.
func (db *DB) Item(tableName string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, err := db.table(tableName)
	if err != nil {
		return nil
	}
	k, err := t.keyOf(key)
	if err != nil {
		return nil
	}
	return av.CloneItem(t.items[k])
}

// Len returns the number of items in a table.
func (db *DB) Len(tableName string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// Calls returns how many times op has been invoked.
func (db *DB) Calls(op string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[op]
}

// Writes returns the total number of write calls.
func (db *DB) Writes() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls[OpPutItem] + db.calls[OpDeleteItem] + db.calls[OpTransactWriteItems]
}

// Requests returns every write submitted so far, in order. Transactions
// contribute one entry per item.
func (db *DB) Requests() []Request {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Request(nil), db.requests...)
}

// FailNext makes the next call to op return err instead of executing.
// Queued failures are consumed in order.
func (db *DB) FailNext(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures[op] = append(db.failures[op], err)
}

// BeforeWrite registers fn to run before every write call, outside the DB
// lock, so fn may itself call Put to simulate a racing writer.
func (db *DB) BeforeWrite(fn func(op string)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.hooks = append(db.hooks, fn)
}

func (db *DB) beforeWrite(op string) {
	db.mu.Lock()
	hooks := append(([]func(string))(nil), db.hooks...)
	db.mu.Unlock()
	for _, fn := range hooks {
		fn(op)
	}
}

// begin counts the call and pops an injected failure. Must hold db.mu.
func (db *DB) begin(op string) error {
	db.calls[op]++
	if queued := db.failures[op]; len(queued) > 0 {
		db.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (db *DB) table(name string) (*table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", name)),
		}
	}
	return t, nil
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	key := make(map[string]types.AttributeValue, len(t.keyAttrs))
	for _, name := range t.keyAttrs {
		v, ok := item[name]
		if !ok {
			return "", validation("One of the required keys was not given a value")
		}
		key[name] = v
	}
	k, err := av.KeyString(key)
	if err != nil {
		return "", validation(err.Error())
	}
	return k, nil
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// GetItem implements the DynamoDB API.
func (db *DB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.begin(OpGetItem); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	if len(in.Key) != len(t.keyAttrs) {
		return nil, validation("The provided key element does not match the schema")
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: av.CloneItem(t.items[k])}, nil
}

// BatchGetItem implements the DynamoDB API, honoring BatchGetLimit.
func (db *DB) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.begin(OpBatchGetItem); err != nil {
		return nil, err
	}

	total := 0
	names := make([]string, 0, len(in.RequestItems))
	for name, ka := range in.RequestItems {
		names = append(names, name)
		total += len(ka.Keys)
	}
	if total > 100 {
		return nil, validation("Too many items requested for the BatchGetItem call")
	}
	sort.Strings(names)

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	served := 0
	for _, name := range names {
		t, err := db.table(name)
		if err != nil {
			return nil, err
		}
		ka := in.RequestItems[name]
		for _, key := range ka.Keys {
			if db.BatchGetLimit > 0 && served >= db.BatchGetLimit {
				u := out.UnprocessedKeys[name]
				u.ConsistentRead = ka.ConsistentRead
				u.Keys = append(u.Keys, av.CloneItem(key))
				out.UnprocessedKeys[name] = u
				continue
			}
			served++
			k, err := t.keyOf(key)
			if err != nil {
				return nil, err
			}
			if item, ok := t.items[k]; ok {
				out.Responses[name] = append(out.Responses[name], av.CloneItem(item))
			}
		}
	}
	return out, nil
}

// PutItem implements the DynamoDB API.
func (db *DB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	db.beforeWrite(OpPutItem)
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.begin(OpPutItem); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	cond := aws.ToString(in.ConditionExpression)
	db.record(OpPutItem, aws.ToString(in.TableName), k, cond, in.ExpressionAttributeNames, in.ExpressionAttributeValues, "")
	ok, err := Evaluate(cond, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, validation(err.Error())
	}
	if !ok {
		return nil, conditionFailed()
	}
	t.items[k] = av.NormalizeItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem implements the DynamoDB API.
func (db *DB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	db.beforeWrite(OpDeleteItem)
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.begin(OpDeleteItem); err != nil {
		return nil, err
	}
	t, err := db.table(aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	cond := aws.ToString(in.ConditionExpression)
	db.record(OpDeleteItem, aws.ToString(in.TableName), k, cond, in.ExpressionAttributeNames, in.ExpressionAttributeValues, "")
	ok, err := Evaluate(cond, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, validation(err.Error())
	}
	if !ok {
		return nil, conditionFailed()
	}
	delete(t.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

type txOp struct {
	t      *table
	key    string
	item   map[string]types.AttributeValue
	delete bool
	check  bool
}

// TransactWriteItems implements the DynamoDB API. Either every item is
// applied or none is, and a failed condition cancels the whole transaction
// with one reason per item.
func (db *DB) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	db.beforeWrite(OpTransactWriteItems)
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.begin(OpTransactWriteItems); err != nil {
		return nil, err
	}
	if len(in.TransactItems) == 0 || len(in.TransactItems) > 100 {
		return nil, validation("Member must have length between 1 and 100")
	}

	token := aws.ToString(in.ClientRequestToken)
	ops := make([]txOp, 0, len(in.TransactItems))
	seen := make(map[string]bool, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		var (
			tableName, cond string
			names           map[string]string
			values          map[string]types.AttributeValue
			keySource       map[string]types.AttributeValue
			op              = txOp{}
			kind            string
		)
		switch {
		case ti.Put != nil:
			tableName, cond = aws.ToString(ti.Put.TableName), aws.ToString(ti.Put.ConditionExpression)
			names, values, keySource = ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, ti.Put.Item
			op.item, kind = ti.Put.Item, "Put"
		case ti.Delete != nil:
			tableName, cond = aws.ToString(ti.Delete.TableName), aws.ToString(ti.Delete.ConditionExpression)
			names, values, keySource = ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues, ti.Delete.Key
			op.delete, kind = true, "Delete"
		case ti.ConditionCheck != nil:
			tableName, cond = aws.ToString(ti.ConditionCheck.TableName), aws.ToString(ti.ConditionCheck.ConditionExpression)
			names, values, keySource = ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, ti.ConditionCheck.Key
			op.check, kind = true, "ConditionCheck"
		default:
			return nil, validation("TransactWriteItem must contain exactly one operation")
		}

		t, err := db.table(tableName)
		if err != nil {
			return nil, err
		}
		k, err := t.keyOf(keySource)
		if err != nil {
			return nil, err
		}
		if seen[tableName+"\x00"+k] {
			return nil, validation("Transaction request cannot include multiple operations on one item")
		}
		seen[tableName+"\x00"+k] = true
		op.t, op.key = t, k
		ops = append(ops, op)
		db.record(OpTransactWriteItems+"."+kind, tableName, k, cond, names, values, token)

		ok, err := Evaluate(cond, names, values, t.items[k])
		if err != nil {
			return nil, validation(err.Error())
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
		} else {
			failed = true
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, op := range ops {
		switch {
		case op.check:
		case op.delete:
			delete(op.t.items, op.key)
		default:
			op.t.items[op.key] = av.NormalizeItem(op.item)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// DescribeTable implements the DynamoDB API, reporting only the key schema.
func (db *DB) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.begin(OpDescribeTable); err != nil {
		return nil, err
	}
	name := aws.ToString(in.TableName)
	t, err := db.table(name)
	if err != nil {
		return nil, err
	}
	schema := make([]types.KeySchemaElement, len(t.keyAttrs))
	for i, attr := range t.keyAttrs {
		kt := types.KeyTypeHash
		if i > 0 {
			kt = types.KeyTypeRange
		}
		schema[i] = types.KeySchemaElement{AttributeName: aws.String(attr), KeyType: kt}
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   aws.String(name),
			KeySchema:   schema,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

// record appends a write to the request log. Must hold db.mu.
func (db *DB) record(op, tableName, key, cond string, names map[string]string, values map[string]types.AttributeValue, token string) {
	db.requests = append(db.requests, Request{
		Op:        op,
		Table:     tableName,
		Key:       key,
		Condition: Explain(cond, names, values),
		Token:     token,
	})
}
