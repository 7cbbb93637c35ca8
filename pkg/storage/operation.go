package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cotoami/cotoami-node/pkg/metrics"
)

// Querier is the read-only surface shared by *sql.Conn and *sql.Tx,
// letting a ReadOperation run against either a plain read snapshot or
// in the middle of a write transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer extends Querier with the ability to run statements that
// mutate the database. *sql.Tx satisfies it.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ReadOperation is a unit of work that only reads. It can be run
// through Read (a dedicated read snapshot) or composed into a
// WriteOperation to read-before-write inside the same transaction.
type ReadOperation[T any] func(ctx context.Context, q Querier) (T, error)

// WriteOperation is a unit of work that may mutate the database. It
// always runs inside the single write transaction driven by Write.
type WriteOperation[T any] func(ctx context.Context, x Execer) (T, error)

// MapRead transforms a ReadOperation's result without touching the
// connection again.
func MapRead[T, U any](op ReadOperation[T], f func(T) (U, error)) ReadOperation[U] {
	return func(ctx context.Context, q Querier) (U, error) {
		var zero U
		v, err := op(ctx, q)
		if err != nil {
			return zero, err
		}
		return f(v)
	}
}

// AndThenRead sequences a second ReadOperation, chosen from the first
// one's result, against the same connection.
func AndThenRead[T, U any](op ReadOperation[T], f func(T) ReadOperation[U]) ReadOperation[U] {
	return func(ctx context.Context, q Querier) (U, error) {
		var zero U
		v, err := op(ctx, q)
		if err != nil {
			return zero, err
		}
		return f(v)(ctx, q)
	}
}

// MapWrite transforms a WriteOperation's result without touching the
// connection again.
func MapWrite[T, U any](op WriteOperation[T], f func(T) (U, error)) WriteOperation[U] {
	return func(ctx context.Context, x Execer) (U, error) {
		var zero U
		v, err := op(ctx, x)
		if err != nil {
			return zero, err
		}
		return f(v)
	}
}

// AndThenWrite sequences a second WriteOperation, chosen from the first
// one's result, inside the same transaction.
func AndThenWrite[T, U any](op WriteOperation[T], f func(T) WriteOperation[U]) WriteOperation[U] {
	return func(ctx context.Context, x Execer) (U, error) {
		var zero U
		v, err := op(ctx, x)
		if err != nil {
			return zero, err
		}
		return f(v)(ctx, x)
	}
}

// ReadOnly lifts a ReadOperation into a WriteOperation so it can be
// composed with AndThenWrite inside a write transaction (e.g. to check
// a precondition before mutating).
func ReadOnly[T any](op ReadOperation[T]) WriteOperation[T] {
	return func(ctx context.Context, x Execer) (T, error) {
		return op(ctx, x)
	}
}

// Read runs op against a fresh connection from the read pool.
func Read[T any](ctx context.Context, e *Engine, op ReadOperation[T]) (T, error) {
	var zero T
	conn, err := e.read.Conn(ctx)
	if err != nil {
		return zero, err
	}
	defer conn.Close()
	return op(ctx, conn)
}

// Write runs op inside a single immediate write transaction: begin,
// run, commit on success or roll back on error. Only one Write can be
// in flight at a time since the underlying *sql.DB is capped to a
// single connection.
func Write[T any](ctx context.Context, e *Engine, op WriteOperation[T]) (T, error) {
	var zero T

	waitTimer := metrics.NewTimer()
	tx, err := e.write.BeginTx(ctx, nil)
	waitTimer.ObserveDuration(metrics.WriteLockWaitSeconds)
	if err != nil {
		return zero, err
	}

	runStart := time.Now()
	v, err := op(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	metrics.WriteTransactionDuration.WithLabelValues("write").Observe(time.Since(runStart).Seconds())
	return v, nil
}
