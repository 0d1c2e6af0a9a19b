package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no item exists at the key.
	ErrNotFound = errors.New("flock: item not found")

	// ErrConditionFailed is returned when a conditional write's condition does not hold.
	ErrConditionFailed = errors.New("flock: condition check failed")

	// ErrTransactionSizeExceeded is returned when a transaction holds more ops than MaxBatchSize.
	// Callers must chunk their writes; this is a programming error and is never retried.
	ErrTransactionSizeExceeded = errors.New("flock: transaction size exceeded")

	// ErrTransient marks store failures that survived the client's retry policy.
	ErrTransient = errors.New("flock: transient store error")
)

// Reason codes reported per op in a cancelled transaction.
const (
	ReasonNone            = "None"
	ReasonConditionFailed = "ConditionalCheckFailed"
)

// TransactionCanceledError reports why a transaction was rolled back.
// Reasons is indexed like the ops passed to Transact.
type TransactionCanceledError struct {
	Reasons []string
}

func (e *TransactionCanceledError) Error() string {
	return fmt.Sprintf("flock: transaction cancelled [%s]", strings.Join(e.Reasons, ", "))
}

// Is reports ErrConditionFailed when any op failed its condition.
func (e *TransactionCanceledError) Is(target error) bool {
	return target == ErrConditionFailed && e.FailedIndex() >= 0
}

// FailedIndex returns the index of the first op whose condition failed, or -1.
func (e *TransactionCanceledError) FailedIndex() int {
	for i, r := range e.Reasons {
		if r == ReasonConditionFailed {
			return i
		}
	}
	return -1
}

// FailedOpIndex extracts the failing op index from a Transact error, or -1.
func FailedOpIndex(err error) int {
	var txErr *TransactionCanceledError
	if errors.As(err, &txErr) {
		return txErr.FailedIndex()
	}
	return -1
}
