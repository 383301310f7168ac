package store

import (
	"errors"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
)

// Cancellation reason codes that do not stop a transaction from being
// retried as is. "None" marks items that did not cause the cancellation.
var transientCancellationCodes = map[string]bool{
	"":                              true,
	"None":                          true,
	"TransactionConflict":           true,
	"ThrottlingError":               true,
	"ProvisionedThroughputExceeded": true,
}

// IsTransient reports whether err is a throttling, capacity or connectivity
// failure after which the same request may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var (
		inProgress *types.TransactionInProgressException
		txConflict *types.TransactionConflictException
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		canceled   *types.TransactionCanceledException
		netErr     net.Error
	)
	switch {
	case errors.As(err, &inProgress),
		errors.As(err, &txConflict),
		errors.As(err, &throughput),
		errors.As(err, &limit),
		errors.As(err, &internal),
		errors.As(err, &netErr):
		return true
	case errors.As(err, &canceled):
		for _, reason := range canceled.CancellationReasons {
			if !transientCancellationCodes[aws.ToString(reason.Code)] {
				return false
			}
		}
		return true
	}

	var retryable interface{ RetryableError() bool }
	if errors.As(err, &retryable) && retryable.RetryableError() {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "ServiceUnavailable", "InternalFailure":
			return true
		}
	}
	return false
}

// conflictFrom maps a failed submission to the items whose conditions
// failed. It reports false for anything that is not a pure condition
// failure or a mix of condition failures and transient reasons.
func conflictFrom(err error, p *plan) (*ConflictError, bool) {
	var condErr *types.ConditionalCheckFailedException
	if p.single && errors.As(err, &condErr) {
		return &ConflictError{Refs: []ItemRef{p.effects[0].ref()}, Err: err}, true
	}

	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return nil, false
	}
	var refs []ItemRef
	for i, reason := range txErr.CancellationReasons {
		code := aws.ToString(reason.Code)
		switch {
		case code == "ConditionalCheckFailed":
			if i < len(p.effects) {
				refs = append(refs, p.effects[i].ref())
			}
		case transientCancellationCodes[code]:
		default:
			return nil, false
		}
	}
	if len(refs) == 0 {
		return nil, false
	}
	return &ConflictError{Refs: refs, Err: err}, true
}

// validationFrom reports whether DynamoDB rejected a request as malformed,
// either outright or through a ValidationError cancellation reason. tableOf
// names the table of the i-th transaction item; i is -1 for an outright
// rejection.
func validationFrom(err error, tableOf func(i int) string) (*ValidationError, bool) {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if aws.ToString(reason.Code) == "ValidationError" {
				return &ValidationError{
					Table:  tableOf(i),
					Reason: "rejected by DynamoDB: " + aws.ToString(reason.Message),
					Err:    err,
				}, true
			}
		}
		return nil, false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
		return &ValidationError{Table: tableOf(-1), Reason: "rejected by DynamoDB", Err: err}, true
	}
	return nil, false
}

// newBackOff returns the default attempts budget: randomized exponential
// sleeps bounded by Timeout and MaxAttempts.
func (s *Store) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	b.RandomizationFactor = 0.9
	b.MaxElapsedTime = s.config.Timeout
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(s.config.MaxAttempts-1))
}
