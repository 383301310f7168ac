package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrItemNotFound is returned by Require when the item does not exist.
	ErrItemNotFound = errors.New("versioned: item not found")

	// ErrValidation is returned for malformed keys, oversized transactions and
	// schema mismatches. It is never retried.
	ErrValidation = errors.New("versioned: validation failed")

	// ErrItemNotYetFetched is returned when an offline transaction is asked
	// for an item it has no state for.
	ErrItemNotYetFetched = errors.New("versioned: item not yet fetched")

	// ErrTableSchemaUnknown is returned when a put needs a table's key
	// attributes and they cannot be determined.
	ErrTableSchemaUnknown = errors.New("versioned: table key schema unknown")

	// ErrConflict is returned when a write condition failed because another
	// writer changed an item first.
	ErrConflict = errors.New("versioned: concurrent modification")

	// ErrAttemptsExhausted is returned when the retry budget is spent.
	ErrAttemptsExhausted = errors.New("versioned: transaction attempts exhausted")
)

// ItemRef names one item of one table.
type ItemRef struct {
	Table string
	Key   Key
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%s%s", r.Table, formatKey(r.Key))
}

// ItemNotFoundError reports a required item that does not exist.
type ItemNotFoundError struct {
	Table string
	Label string
	Key   Key
}

func (e *ItemNotFoundError) Error() string {
	name := e.Table
	if e.Label != "" && e.Label != e.Table {
		name = fmt.Sprintf("%s (%s)", e.Label, e.Table)
	}
	return fmt.Sprintf("versioned: %s item %s not found", name, formatKey(e.Key))
}

// Is matches ErrItemNotFound.
func (e *ItemNotFoundError) Is(target error) bool { return target == ErrItemNotFound }

// ValidationError reports input that can never succeed.
type ValidationError struct {
	Table  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("versioned: validation failed")
	if e.Table != "" {
		b.WriteString(" for table ")
		b.WriteString(e.Table)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// ItemNotYetFetchedError reports a read of an unknown item on a transaction
// that has no connection to the table, such as one made by NewTransaction.
type ItemNotYetFetchedError struct {
	Table string
	Key   Key
}

func (e *ItemNotYetFetchedError) Error() string {
	return fmt.Sprintf("versioned: item %s%s has not been fetched or presumed", e.Table, formatKey(e.Key))
}

// Is matches ErrItemNotYetFetched.
func (e *ItemNotYetFetchedError) Is(target error) bool { return target == ErrItemNotYetFetched }

// TableSchemaUnknownError reports a put whose key could not be derived.
// Define the table or bind it with WithKeyAttributes to avoid it.
type TableSchemaUnknownError struct {
	Table string
}

func (e *TableSchemaUnknownError) Error() string {
	return fmt.Sprintf("versioned: key attributes of table %s are unknown", e.Table)
}

// Is matches ErrTableSchemaUnknown and ErrValidation.
func (e *TableSchemaUnknownError) Is(target error) bool {
	return target == ErrTableSchemaUnknown || target == ErrValidation
}

// ConflictError reports write conditions that failed. Refs lists the items
// whose conditions failed; they are refetched before the next attempt.
type ConflictError struct {
	Refs []ItemRef
	Err  error
}

func (e *ConflictError) Error() string {
	refs := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		refs[i] = r.String()
	}
	return fmt.Sprintf("versioned: conflict on %s: %v", strings.Join(refs, ", "), e.Err)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// AttemptsExhaustedError is returned when conflicts or transient failures
// outlast the retry budget. Cause is the failure of the last attempt.
type AttemptsExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Cause    error
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("versioned: transaction attempts exhausted after %d attempts in %s: %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Cause)
}

// Is matches ErrAttemptsExhausted.
func (e *AttemptsExhaustedError) Is(target error) bool { return target == ErrAttemptsExhausted }

func (e *AttemptsExhaustedError) Unwrap() error { return e.Cause }
