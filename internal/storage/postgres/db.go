// Package postgres implements the booking core's persistence on pgx: serializable
// transactions, resource row locks and the appointment/catalogue repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

var (
	// ErrResourceNotFound is returned when a resource is missing or inactive.
	ErrResourceNotFound = appointment.ErrResourceNotFound
	// ErrAppointmentNotFound is returned when an appointment id is unknown.
	ErrAppointmentNotFound = errors.New("postgres: appointment not found")
	// ErrBlockNotFound is returned when a blocking event id is unknown.
	ErrBlockNotFound = errors.New("postgres: blocking event not found")
	// ErrLocked is returned when a SKIP LOCKED read finds the row held by another transaction.
	ErrLocked = errors.New("postgres: row locked")
)

// Querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can open transactions.
type DB interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// QuerierFrom returns the transaction bound to ctx, or db when none is open.
func QuerierFrom(ctx context.Context, db Querier) Querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

const defaultTxAttempts = 3

// TxRunner runs functions inside serializable transactions, retrying serialization failures.
type TxRunner struct {
	db          DB
	maxAttempts int
	backoff     time.Duration
	logger      *logging.Logger
}

// NewTxRunner creates a runner with three attempts.
func NewTxRunner(db DB, logger *logging.Logger) *TxRunner {
	if db == nil {
		panic("postgres: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TxRunner{db: db, maxAttempts: defaultTxAttempts, backoff: 10 * time.Millisecond, logger: logger}
}

// WithMaxAttempts overrides the retry budget.
func (r *TxRunner) WithMaxAttempts(n int) *TxRunner {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// InTx runs fn in a serializable transaction bound to the context passed to fn.
// When ctx already carries a transaction fn joins it. Serialization failures and
// deadlocks re-run fn on a fresh transaction.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		r.logger.Warn("postgres: retrying serializable transaction", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return err
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsRetryable reports serialization failures (40001) and deadlocks (40P01).
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

// IsExclusionViolation reports an exclusion-constraint violation (23P01).
func IsExclusionViolation(err error) bool {
	return pgCode(err) == "23P01"
}

func isInvalidUUID(err error) bool {
	return pgCode(err) == "22P02"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}
