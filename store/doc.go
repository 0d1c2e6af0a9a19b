// Package store provides the partitioned key-value item store used by every
// component of flock.
//
// All entities live in one table addressed by a composite key: a partition
// key ("PK") and a sort key ("SK"). Items that share a partition key are
// range-queryable by sort key prefix.
//
// # Operations
//
// The [Store] interface exposes:
//
//   - Get: point read by key
//   - Query: range read by partition key and sort key prefix
//   - ConditionalPut / ConditionalDelete: single-item writes guarded by
//     an existence condition
//   - Transact: up to MaxBatchSize put/delete/add ops committed atomically
//
// Add ops apply an additive delta to a numeric attribute. Counters are never
// read, modified and written back; they are always expressed as deltas
// co-transacted with the records they summarize.
//
// # Implementations
//
// [Dynamo] is backed by DynamoDB through aws-sdk-go-v2. [Memory] keeps items
// in process and enforces the same size limit and condition semantics; it is
// used by tests and local runs.
//
// # Errors
//
//   - [ErrNotFound] - no item at the key
//   - [ErrConditionFailed] - a write condition did not hold
//   - [ErrTransactionSizeExceeded] - too many ops in one transaction
//   - [ErrTransient] - the backend failed after client retries
//
// A cancelled transaction returns a [*TransactionCanceledError] whose
// Reasons are indexed like the submitted ops, so callers can tell which
// guard tripped.
package store
