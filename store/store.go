package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Store runs versioned transactions against DynamoDB.
// A Store is safe for concurrent use.
type Store struct {
	client  Client
	config  Config
	schemas sync.Map // table name -> []string
}

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the validated configuration of the Store.
func (s *Store) Config() Config {
	return s.config
}

type transactOptions struct {
	prefetch []ItemRef
	backOff  backoff.BackOff
}

// TransactOption configures one call to Transact.
type TransactOption func(*transactOptions)

// WithPrefetch reads the given items in one batch before the first attempt.
// Options accumulate.
func WithPrefetch(table string, keys ...Key) TransactOption {
	return func(o *transactOptions) {
		for _, k := range keys {
			o.prefetch = append(o.prefetch, ItemRef{Table: table, Key: k})
		}
	}
}

// WithBackOff replaces the attempts budget. The transaction is retried for
// as long as b yields a delay; backoff.Stop ends it with an
// AttemptsExhaustedError.
func WithBackOff(b backoff.BackOff) TransactOption {
	return func(o *transactOptions) {
		o.backOff = b
	}
}

// Transact runs build until its result commits.
//
// Each attempt starts from a fresh snapshot seeded with everything the
// previous attempt observed, except the items whose write conditions failed,
// which are read again. build is invoked, its intended writes are compiled
// into conditional writes and submitted. A lone write goes out as one
// PutItem or DeleteItem; anything more becomes one TransactWriteItems call
// in which items that were only read are asserted unchanged.
//
// Transact returns the committed snapshot, or the first error that retrying
// cannot fix: an error from build such as ItemNotFoundError, a
// ValidationError, or an AttemptsExhaustedError once conflicts outlast the
// budget. A submitted write is never cancelled; ctx is honored between
// attempts and during reads.
func (s *Store) Transact(ctx context.Context, build Builder, opts ...TransactOption) (*Transaction, error) {
	var o transactOptions
	for _, opt := range opts {
		opt(&o)
	}
	b := o.backOff
	if b == nil {
		b = s.newBackOff()
	}
	b.Reset()
	b = backoff.WithContext(b, ctx)

	start := time.Now()
	seeds, refetch := NewTransaction(), o.prefetch
	for attempt := 1; ; attempt++ {
		committed, carry, err := s.attempt(ctx, build, seeds, refetch)
		if err == nil {
			return committed, nil
		}

		var conflict *ConflictError
		isConflict := errors.As(err, &conflict)
		if !isConflict && !IsTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("versioned: transaction abandoned after %d attempts: %w", attempt, ctx.Err())
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("versioned: transaction abandoned after %d attempts: %w", attempt, ctx.Err())
			}
			s.config.Logger.Error("transaction attempts exhausted",
				"attempts", attempt,
				"error", err,
			)
			return nil, &AttemptsExhaustedError{Attempts: attempt, Elapsed: time.Since(start), Cause: err}
		}

		s.config.Logger.Warn("transaction attempt lost, retrying",
			"attempt", attempt,
			"sleep", wait,
			"error", err,
		)

		seeds, refetch = carry, nil
		if isConflict {
			refetch = conflict.Refs
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("versioned: transaction abandoned after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// attempt runs one Prefetching, Building, Compiling, Submitting cycle.
// On failure it returns what the attempt observed, for seeding the next one.
func (s *Store) attempt(ctx context.Context, build Builder, seeds *Transaction, refetch []ItemRef) (committed, carry *Transaction, err error) {
	sess := newSession(ctx, s)
	tx := &Transaction{tables: seeds.tables, sess: sess}

	tx, err = s.prefetch(tx, refetch)
	if err != nil {
		return nil, seeds, err
	}

	out, err := build(tx)
	if err != nil {
		return nil, tx.detach(), err
	}
	if out == nil {
		out = tx
	}
	if out.sess != sess {
		return nil, tx.detach(), &ValidationError{Reason: "builder returned a transaction it was not given"}
	}

	if err := s.resolveBlindDeletes(out); err != nil {
		return nil, out.detach(), err
	}

	p, err := s.compile(out, s.config.Now())
	if err != nil {
		return nil, out.detach(), err
	}
	if err := s.submit(ctx, p); err != nil {
		return nil, out.detach(), err
	}

	s.config.Logger.Debug("transaction committed",
		"writes", p.writes,
		"items", len(p.effects),
		"fetches", sess.fetches,
	)
	return p.commit(out), nil, nil
}

// prefetch reads refs in one batch and records them as observed, replacing
// any state carried over from an earlier attempt.
func (s *Store) prefetch(tx *Transaction, refs []ItemRef) (*Transaction, error) {
	if len(refs) == 0 {
		return tx, nil
	}

	attrsByTable := make(map[string][]string)
	seen := make(map[string]map[string]Key)
	var unique []ItemRef
	for _, ref := range refs {
		attrs, ok := attrsByTable[ref.Table]
		if !ok {
			attrs = tx.knownKeyAttrs(ref.Table, tx.spec(ref.Table, tableSpec{}))
			if len(attrs) == 0 {
				attrs = keyAttributesOf(ref.Key)
			}
			attrsByTable[ref.Table] = attrs
			seen[ref.Table] = make(map[string]Key)
		}
		ck, err := canonicalKey(ref.Table, attrs, ref.Key)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref.Table][ck]; dup {
			continue
		}
		seen[ref.Table][ck] = cloneKey(ref.Key)
		unique = append(unique, ItemRef{Table: ref.Table, Key: seen[ref.Table][ck]})
	}

	items, err := s.batchGet(tx.sess.ctx, unique)
	if err != nil {
		return nil, err
	}

	for table, keys := range seen {
		found := make(map[string]Item, len(items[table]))
		for _, item := range items[table] {
			key, err := keyFromItem(table, attrsByTable[table], item)
			if err != nil {
				return nil, err
			}
			ck, err := canonicalKey(table, attrsByTable[table], key)
			if err != nil {
				return nil, err
			}
			found[ck] = item
		}
		tx = tx.with(table, tableSpec{}, func(ts *tableState) {
			for ck, key := range keys {
				ts.keys[ck] = key
				ts.observed[ck] = found[ck]
			}
		})
	}
	s.config.Logger.Debug("prefetched items", "requested", len(unique))
	return tx, nil
}

// resolveBlindDeletes reads every item the transaction deletes without
// having observed it, so that the compiler can tell a real delete from one
// of an item that is not there.
func (s *Store) resolveBlindDeletes(tx *Transaction) error {
	for table, ts := range tx.tables {
		for ck, in := range ts.intents {
			if !in.delete {
				continue
			}
			if _, ok := tx.lookup(table, ck); ok {
				continue
			}
			if _, err := tx.sess.fetch(table, ck, ts.keys[ck]); err != nil {
				return err
			}
		}
	}
	return nil
}

// submit issues the plan. Submitted writes run to completion even if ctx
// is cancelled.
func (s *Store) submit(ctx context.Context, p *plan) error {
	if len(p.effects) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var err error
	switch {
	case p.single && p.effects[0].kind == effectPut:
		var in *dynamodb.PutItemInput
		if in, err = p.effects[0].putInput(); err != nil {
			return err
		}
		_, err = s.client.PutItem(ctx, in)
	case p.single:
		var in *dynamodb.DeleteItemInput
		if in, err = p.effects[0].deleteInput(); err != nil {
			return err
		}
		_, err = s.client.DeleteItem(ctx, in)
	default:
		items := make([]types.TransactWriteItem, len(p.effects))
		for i, e := range p.effects {
			if items[i], err = e.transactItem(); err != nil {
				return err
			}
		}
		_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems:      items,
			ClientRequestToken: aws.String(uuid.NewString()),
		})
	}
	if err == nil {
		return nil
	}
	if conflict, ok := conflictFrom(err, p); ok {
		return conflict
	}
	if verr, ok := validationFrom(err, p.tableOf); ok {
		return verr
	}
	return fmt.Errorf("versioned: submit %d items: %w", len(p.effects), err)
}
