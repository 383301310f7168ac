// Package store provides versioned, optimistic multi-item transactions over DynamoDB.
//
// Callers describe the end state they want as a [Builder], a pure function
// from one [Transaction] snapshot to another. [Store.Transact] runs the
// builder, turns the difference between what it observed and what it
// intends into conditional writes, and retries with fresh reads when
// another writer got there first.
//
// # Key Features
//
//   - Lazy, memoized consistent reads inside a builder
//   - Optimistic creation: a put of an unread item asserts it does not exist
//   - Version attribute on every item, incremented by exactly one per write
//   - Items that were only read, even as absent, are asserted unchanged in
//     multi-item commits
//   - Lone writes use PutItem or DeleteItem instead of TransactWriteItems
//   - Targeted refetch of conflicting items between attempts
//
// # Builders
//
// A builder reads with Get and Require and records writes with Put and
// Delete. Every write returns a new snapshot:
//
//	tasks := store.ItemTable("tasks", store.WithLabel("task"))
//	_, err := s.Transact(ctx, func(tx *store.Transaction) (*store.Transaction, error) {
//	    task, err := tasks.Require(tx, store.StringKey("id", "task1"))
//	    if err != nil {
//	        return nil, err
//	    }
//	    task["done"] = &types.AttributeValueMemberBOOL{Value: true}
//	    return tasks.Put(tx, task)
//	})
//
// Builders may run several times, so they must not perform I/O or mutate
// state outside the snapshot. [NewTransaction] and [Transaction.Presume]
// make builders testable without DynamoDB.
//
// # Configuration
//
// Use [DefaultConfig] as a starting point. Zero fields take their defaults:
//
//	cfg := store.DefaultConfig()
//	cfg.Timeout = 10 * time.Second
//	s := store.New(dynamodb.NewFromConfig(awsCfg), cfg)
//
// # Errors
//
//   - [ErrItemNotFound] - Require found no item
//   - [ErrValidation] - malformed key, oversized transaction, bad version attribute
//   - [ErrTableSchemaUnknown] - a put could not derive the item's key
//   - [ErrItemNotYetFetched] - offline snapshot read an unknown item
//   - [ErrAttemptsExhausted] - conflicts outlasted the retry budget
package store
