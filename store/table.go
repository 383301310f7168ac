package store

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/versioned/internal/av"
)

// TableOption configures a table binding.
type TableOption func(*tableSpec)

// WithLabel sets the human-readable name used in errors, e.g. "task".
func WithLabel(label string) TableOption {
	return func(s *tableSpec) { s.label = label }
}

// WithVersionAttribute overrides Config.VersionAttribute for the table.
func WithVersionAttribute(name string) TableOption {
	return func(s *tableSpec) { s.versionAttr = name }
}

// WithKeyAttributes declares the table's key attributes, hash key first.
// Without it they are taken from keys the transaction has seen, or looked
// up with DescribeTable.
func WithKeyAttributes(attrs ...string) TableOption {
	return func(s *tableSpec) { s.keyAttrs = append([]string(nil), attrs...) }
}

// TypedTable binds a table name and a conversion between items and T to the
// operations of a Transaction. It holds no connection and is safe to share.
type TypedTable[T any] struct {
	name        string
	spec        tableSpec
	deserialize func(Item) (T, error)
	serialize   func(T) (Item, error)
}

// NewTypedTable returns a binding that converts items with deserialize and
// serialize.
func NewTypedTable[T any](name string, deserialize func(Item) (T, error), serialize func(T) (Item, error), opts ...TableOption) TypedTable[T] {
	t := TypedTable[T]{name: name, deserialize: deserialize, serialize: serialize}
	for _, opt := range opts {
		opt(&t.spec)
	}
	return t
}

// ItemTable returns a binding that works on raw items.
func ItemTable(name string, opts ...TableOption) TypedTable[Item] {
	identity := func(item Item) (Item, error) { return Item(av.CloneItem(item)), nil }
	return NewTypedTable(name, identity, identity, opts...)
}

// MarshaledTable returns a binding that converts items with the
// attributevalue package, honoring `dynamodbav` struct tags.
func MarshaledTable[T any](name string, opts ...TableOption) TypedTable[T] {
	deserialize := func(item Item) (T, error) {
		var v T
		err := attributevalue.UnmarshalMap(item, &v)
		return v, err
	}
	serialize := func(v T) (Item, error) {
		m, err := attributevalue.MarshalMap(v)
		return Item(m), err
	}
	return NewTypedTable(name, deserialize, serialize, opts...)
}

// Name returns the table name.
func (t TypedTable[T]) Name() string { return t.name }

// Label returns the human-readable name of the table's items.
func (t TypedTable[T]) Label() string {
	if t.spec.label != "" {
		return t.spec.label
	}
	return t.name
}

// Get returns the item with the given key, and false if it does not exist.
func (t TypedTable[T]) Get(tx *Transaction, key Key) (T, bool, error) {
	var zero T
	item, err := tx.get(t.name, t.spec, key)
	if err != nil || item == nil {
		return zero, false, err
	}
	v, err := t.deserialize(item)
	if err != nil {
		return zero, false, &ValidationError{Table: t.name, Reason: "deserialize " + t.Label(), Err: err}
	}
	return v, true, nil
}

// Require returns the item with the given key or an ItemNotFoundError.
func (t TypedTable[T]) Require(tx *Transaction, key Key) (T, error) {
	var zero T
	item, err := tx.require(t.name, t.spec, key)
	if err != nil {
		return zero, err
	}
	v, err := t.deserialize(item)
	if err != nil {
		return zero, &ValidationError{Table: t.name, Reason: "deserialize " + t.Label(), Err: err}
	}
	return v, nil
}

// Put records the intent to write v.
func (t TypedTable[T]) Put(tx *Transaction, v T) (*Transaction, error) {
	item, err := t.serialize(v)
	if err != nil {
		return nil, &ValidationError{Table: t.name, Reason: "serialize " + t.Label(), Err: err}
	}
	return tx.put(t.name, t.spec, item)
}

// Delete records the intent to delete the item with the given key.
func (t TypedTable[T]) Delete(tx *Transaction, key Key) (*Transaction, error) {
	return tx.delete(t.name, t.spec, key)
}

// Presume seeds the observed state of the item with the given key. A nil v
// presumes the item does not exist.
func (t TypedTable[T]) Presume(tx *Transaction, key Key, v *T) (*Transaction, error) {
	if v == nil {
		return tx.presume(t.name, t.spec, key, nil)
	}
	item, err := t.serialize(*v)
	if err != nil {
		return nil, &ValidationError{Table: t.name, Reason: "serialize " + t.Label(), Err: err}
	}
	return tx.presume(t.name, t.spec, key, item)
}

// Define declares the table's key attributes on tx.
func (t TypedTable[T]) Define(tx *Transaction, keyAttrs ...string) *Transaction {
	return tx.Define(t.name, keyAttrs...)
}

// UpdateIfExists returns a Builder that requires the item, applies
// transform and puts the result. A missing item fails the transaction with
// an ItemNotFoundError; it is never created.
func UpdateIfExists[T any](table TypedTable[T], transform func(T) (T, error), key Key) Builder {
	return func(tx *Transaction) (*Transaction, error) {
		v, err := table.Require(tx, key)
		if err != nil {
			return nil, err
		}
		next, err := transform(v)
		if err != nil {
			return nil, err
		}
		return table.Put(tx, next)
	}
}

// UpdateOrSkip is like UpdateIfExists but commits nothing when the item
// does not exist.
func UpdateOrSkip[T any](table TypedTable[T], transform func(T) (T, error), key Key) Builder {
	return func(tx *Transaction) (*Transaction, error) {
		v, ok, err := table.Get(tx, key)
		if err != nil || !ok {
			return tx, err
		}
		next, err := transform(v)
		if err != nil {
			return nil, err
		}
		return table.Put(tx, next)
	}
}

// CreateOrUpdate returns a Builder that reads the item and puts what fn
// makes of it. fn receives nil when the item does not exist.
func CreateOrUpdate[T any](table TypedTable[T], fn func(current *T) (T, error), key Key) Builder {
	return func(tx *Transaction) (*Transaction, error) {
		v, ok, err := table.Get(tx, key)
		if err != nil {
			return nil, err
		}
		var current *T
		if ok {
			current = &v
		}
		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		return table.Put(tx, next)
	}
}
