package store

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jacentio/versioned/internal/av"
)

// Builder computes the desired end state of a transaction from a snapshot.
//
// A Builder may run many times for one call to Transact, so it must not
// perform I/O of its own or depend on mutable state outside tx. Returning a
// nil transaction with a nil error leaves tx unchanged.
type Builder func(tx *Transaction) (*Transaction, error)

// Transaction is an immutable snapshot of the items a transaction has
// observed and the writes it intends to make.
//
// Every write method returns a new Transaction and leaves the receiver
// untouched. Reads of items the snapshot has not seen block on a consistent
// GetItem when the Transaction belongs to a running attempt; the result is
// memoized for the rest of that attempt. A Transaction made by
// NewTransaction has no table connection and reports unseen items with
// ItemNotYetFetchedError.
type Transaction struct {
	tables map[string]*tableState
	sess   *session
}

type tableSpec struct {
	label       string
	versionAttr string
	keyAttrs    []string
}

func mergeSpec(base, override tableSpec) tableSpec {
	if override.label != "" {
		base.label = override.label
	}
	if override.versionAttr != "" {
		base.versionAttr = override.versionAttr
	}
	if len(override.keyAttrs) > 0 {
		base.keyAttrs = override.keyAttrs
	}
	return base
}

type intent struct {
	item   Item
	delete bool
}

// tableState is never modified once reachable from a Transaction.
type tableState struct {
	spec     tableSpec
	keys     map[string]Key
	observed map[string]Item // nil value: confirmed absent
	intents  map[string]intent
}

func (ts *tableState) clone() *tableState {
	if ts == nil {
		return &tableState{
			keys:     make(map[string]Key),
			observed: make(map[string]Item),
			intents:  make(map[string]intent),
		}
	}
	return &tableState{
		spec:     ts.spec,
		keys:     maps.Clone(ts.keys),
		observed: maps.Clone(ts.observed),
		intents:  maps.Clone(ts.intents),
	}
}

// session is the mutable arena of one attempt. All snapshots derived within
// an attempt share it; a new attempt always gets a new session.
type session struct {
	ctx   context.Context
	store *Store

	mu      sync.Mutex
	fetched map[string]map[string]Item
	keys    map[string]map[string]Key
	specs   map[string]tableSpec
	fetches int
}

func newSession(ctx context.Context, s *Store) *session {
	return &session{
		ctx:     ctx,
		store:   s,
		fetched: make(map[string]map[string]Item),
		keys:    make(map[string]map[string]Key),
		specs:   make(map[string]tableSpec),
	}
}

func (s *session) observed(table, ck string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.fetched[table][ck]
	return item, ok
}

func (s *session) spec(table string) tableSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs[table]
}

func (s *session) noteSpec(table string, spec tableSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[table] = mergeSpec(s.specs[table], spec)
}

func (s *session) anyKey(table string) Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys[table] {
		return k
	}
	return nil
}

// fetch returns the memoized state of an item, reading it on first use.
func (s *session) fetch(table, ck string, key Key) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.fetched[table][ck]; ok {
		return item, nil
	}
	s.fetches++
	item, err := s.store.getItem(s.ctx, table, key)
	if err != nil {
		return nil, err
	}
	if s.fetched[table] == nil {
		s.fetched[table] = make(map[string]Item)
		s.keys[table] = make(map[string]Key)
	}
	s.fetched[table][ck] = item
	s.keys[table][ck] = cloneKey(key)
	return item, nil
}

// NewTransaction returns an empty Transaction with no table connection.
// It is meant for exercising a Builder in tests together with Presume.
func NewTransaction() *Transaction {
	return &Transaction{tables: make(map[string]*tableState)}
}

// with returns a copy of tx in which fn has modified the state of table.
func (tx *Transaction) with(table string, spec tableSpec, fn func(ts *tableState)) *Transaction {
	tables := make(map[string]*tableState, len(tx.tables)+1)
	for name, ts := range tx.tables {
		tables[name] = ts
	}
	ts := tables[table].clone()
	ts.spec = mergeSpec(ts.spec, spec)
	if fn != nil {
		fn(ts)
	}
	tables[table] = ts
	return &Transaction{tables: tables, sess: tx.sess}
}

// spec returns what is known about table, with override taking precedence.
func (tx *Transaction) spec(table string, override tableSpec) tableSpec {
	var base tableSpec
	if tx.sess != nil {
		base = tx.sess.spec(table)
	}
	if ts, ok := tx.tables[table]; ok {
		base = mergeSpec(base, ts.spec)
	}
	return mergeSpec(base, override)
}

// knownKeyAttrs returns the key attributes of table if they can be told
// without I/O: declared, or taken from a key already seen.
func (tx *Transaction) knownKeyAttrs(table string, spec tableSpec) []string {
	if len(spec.keyAttrs) > 0 {
		return spec.keyAttrs
	}
	if ts, ok := tx.tables[table]; ok {
		for _, k := range ts.keys {
			return keyAttributesOf(k)
		}
	}
	if tx.sess != nil {
		if k := tx.sess.anyKey(table); k != nil {
			return keyAttributesOf(k)
		}
	}
	return nil
}

// keyAttrs is knownKeyAttrs falling back to the table's key schema.
func (tx *Transaction) keyAttrs(table string, spec tableSpec) ([]string, error) {
	if attrs := tx.knownKeyAttrs(table, spec); len(attrs) > 0 {
		return attrs, nil
	}
	if tx.sess == nil {
		return nil, &TableSchemaUnknownError{Table: table}
	}
	return tx.sess.store.keySchema(tx.sess.ctx, table)
}

func (tx *Transaction) lookup(table, ck string) (Item, bool) {
	if ts, ok := tx.tables[table]; ok {
		if item, ok := ts.observed[ck]; ok {
			return item, true
		}
	}
	if tx.sess != nil {
		return tx.sess.observed(table, ck)
	}
	return nil, false
}

func (tx *Transaction) intent(table, ck string) (intent, bool) {
	if ts, ok := tx.tables[table]; ok {
		in, ok := ts.intents[ck]
		return in, ok
	}
	return intent{}, false
}

// Get returns the item with the given key as the transaction currently
// sees it: the intended value if the transaction wrote it, otherwise the
// observed value. It returns nil if the item does not exist.
func (tx *Transaction) Get(table string, key Key) (Item, error) {
	return tx.get(table, tableSpec{}, key)
}

// Require is like Get but returns an ItemNotFoundError if the item does not exist.
func (tx *Transaction) Require(table string, key Key) (Item, error) {
	return tx.require(table, tableSpec{}, key)
}

// Put records the intent to write item. No I/O occurs unless the table's
// key attributes are unknown, in which case they are looked up once per
// process. A put of an item the transaction never observed is conditioned
// on the item not existing.
func (tx *Transaction) Put(table string, item Item) (*Transaction, error) {
	return tx.put(table, tableSpec{}, item)
}

// Delete records the intent to delete the item with the given key.
func (tx *Transaction) Delete(table string, key Key) (*Transaction, error) {
	return tx.delete(table, tableSpec{}, key)
}

// Presume seeds the observed state of an item without reading it. A nil
// item presumes that the item does not exist. Presume is a no-op if the
// item has already been observed. A wrong presumption costs one retry.
func (tx *Transaction) Presume(table string, key Key, item Item) (*Transaction, error) {
	return tx.presume(table, tableSpec{}, key, item)
}

// Define declares the key attributes of table, hash key first, so that puts
// to it never need a schema lookup.
func (tx *Transaction) Define(table string, keyAttrs ...string) *Transaction {
	if len(keyAttrs) == 0 {
		return tx
	}
	return tx.with(table, tableSpec{keyAttrs: append([]string(nil), keyAttrs...)}, nil)
}

func (tx *Transaction) get(table string, spec tableSpec, key Key) (Item, error) {
	if tx.sess != nil {
		tx.sess.noteSpec(table, spec)
	}
	spec = tx.spec(table, spec)
	ck, err := canonicalKey(table, tx.knownKeyAttrs(table, spec), key)
	if err != nil {
		return nil, err
	}
	if in, ok := tx.intent(table, ck); ok {
		if in.delete {
			return nil, nil
		}
		return Item(av.CloneItem(in.item)), nil
	}
	if item, ok := tx.lookup(table, ck); ok {
		return Item(av.CloneItem(item)), nil
	}
	if tx.sess == nil {
		return nil, &ItemNotYetFetchedError{Table: table, Key: cloneKey(key)}
	}
	item, err := tx.sess.fetch(table, ck, key)
	if err != nil {
		return nil, err
	}
	return Item(av.CloneItem(item)), nil
}

func (tx *Transaction) require(table string, spec tableSpec, key Key) (Item, error) {
	item, err := tx.get(table, spec, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &ItemNotFoundError{
			Table: table,
			Label: tx.spec(table, spec).label,
			Key:   cloneKey(key),
		}
	}
	return item, nil
}

func (tx *Transaction) put(table string, spec tableSpec, item Item) (*Transaction, error) {
	if item == nil {
		return nil, &ValidationError{Table: table, Reason: "cannot put a nil item"}
	}
	spec = tx.spec(table, spec)
	attrs, err := tx.keyAttrs(table, spec)
	if err != nil {
		return nil, err
	}
	key, err := keyFromItem(table, attrs, item)
	if err != nil {
		return nil, err
	}
	ck, err := canonicalKey(table, attrs, key)
	if err != nil {
		return nil, err
	}
	spec.keyAttrs = attrs
	normalized := Item(av.NormalizeItem(item))
	return tx.with(table, spec, func(ts *tableState) {
		ts.keys[ck] = key
		ts.intents[ck] = intent{item: normalized}
	}), nil
}

func (tx *Transaction) delete(table string, spec tableSpec, key Key) (*Transaction, error) {
	spec = tx.spec(table, spec)
	ck, err := canonicalKey(table, tx.knownKeyAttrs(table, spec), key)
	if err != nil {
		return nil, err
	}
	key = cloneKey(key)
	return tx.with(table, spec, func(ts *tableState) {
		ts.keys[ck] = key
		ts.intents[ck] = intent{delete: true}
	}), nil
}

func (tx *Transaction) presume(table string, spec tableSpec, key Key, item Item) (*Transaction, error) {
	spec = tx.spec(table, spec)
	ck, err := canonicalKey(table, tx.knownKeyAttrs(table, spec), key)
	if err != nil {
		return nil, err
	}
	if item != nil {
		for name, v := range key {
			if !av.Equal(item[name], v) {
				return nil, &ValidationError{
					Table:  table,
					Reason: fmt.Sprintf("presumed item does not carry key attribute %q of %s", name, formatKey(key)),
				}
			}
		}
	}
	if _, ok := tx.lookup(table, ck); ok {
		return tx, nil
	}
	key = cloneKey(key)
	normalized := Item(av.NormalizeItem(item))
	return tx.with(table, spec, func(ts *tableState) {
		ts.keys[ck] = key
		ts.observed[ck] = normalized
	}), nil
}

// observation is one observed item, used when compiling and carrying state
// between attempts.
type observation struct {
	key  Key
	item Item
}

// observations returns every item observed by tx or its session, by table
// and canonical key.
func (tx *Transaction) observations() map[string]map[string]observation {
	out := make(map[string]map[string]observation)
	add := func(table, ck string, key Key, item Item) {
		if out[table] == nil {
			out[table] = make(map[string]observation)
		}
		if _, ok := out[table][ck]; !ok {
			out[table][ck] = observation{key: key, item: item}
		}
	}
	for table, ts := range tx.tables {
		for ck, item := range ts.observed {
			add(table, ck, ts.keys[ck], item)
		}
	}
	if tx.sess != nil {
		tx.sess.mu.Lock()
		defer tx.sess.mu.Unlock()
		for table, items := range tx.sess.fetched {
			for ck, item := range items {
				add(table, ck, tx.sess.keys[table][ck], item)
			}
		}
	}
	return out
}

// tableNames returns every table referenced by tx or its session.
func (tx *Transaction) tableNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range tx.tables {
		add(name)
	}
	if tx.sess != nil {
		tx.sess.mu.Lock()
		for name := range tx.sess.fetched {
			add(name)
		}
		for name := range tx.sess.specs {
			add(name)
		}
		tx.sess.mu.Unlock()
	}
	return names
}

// detach returns an offline Transaction holding everything tx observed,
// the specs it knows and none of its intents.
func (tx *Transaction) detach() *Transaction {
	out := NewTransaction()
	obs := tx.observations()
	for _, table := range tx.tableNames() {
		ts := (*tableState)(nil).clone()
		ts.spec = tx.spec(table, tableSpec{})
		for ck, o := range obs[table] {
			ts.keys[ck] = o.key
			ts.observed[ck] = o.item
		}
		out.tables[table] = ts
	}
	return out
}
