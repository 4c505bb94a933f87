package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/routeguard/repositories"
	"go.uber.org/zap"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

type transactionContextKey struct{}

// TransactionManager runs catalog writes. A write validates the whole route
// graph before storing, so transactions default to serializable isolation:
// two concurrent writes that each pass validation cannot both commit a
// combination that leaves a route unresolvable.
type TransactionManager struct {
	db        *DB
	isolation sql.IsolationLevel
	logger    *zap.Logger
}

// NewTransactionManager creates a serializable transaction manager
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return NewTransactionManagerWithIsolation(db, sql.LevelSerializable, logger)
}

// NewTransactionManagerWithIsolation creates a transaction manager using level
func NewTransactionManagerWithIsolation(db *DB, level sql.IsolationLevel, logger *zap.Logger) *TransactionManager {
	return &TransactionManager{
		db:        db,
		isolation: level,
		logger:    logger,
	}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, &sql.TxOptions{Isolation: tm.isolation})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tm.logger.Debug("transaction started", zap.Stringer("isolation", tm.isolation))

	return &Transaction{
		tx:     sqlTx,
		ctx:    ctx,
		logger: tm.logger,
	}, nil
}

// InTransaction runs fn with the transaction attached to its context.
// Commits when fn succeeds, rolls back otherwise.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, transactionContextKey{}, tx)
	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err),
			)
		}
		return err
	}

	return tx.Commit()
}

// IsRetryable reports whether err aborted the transaction because it
// conflicted with a concurrent one. Such a transaction can be run again.
func (tm *TransactionManager) IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == serializationFailure || pqErr.Code == deadlockDetected
}

// Transaction wraps a *sql.Tx
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls back the transaction. Rolling back a finished transaction is a no-op.
func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back")
	return nil
}

// Context returns the context the transaction was started with
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// GetTransactionFromContext returns the transaction attached by InTransaction
func GetTransactionFromContext(ctx context.Context) (repositories.Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(repositories.Transaction)
	return tx, ok
}

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// bindExecutor picks, in order, the transaction a repository was bound to
// with WithTx, the transaction attached to ctx, then the pool.
func bindExecutor(ctx context.Context, db *DB, tx *Transaction) Executor {
	if tx != nil {
		return tx.tx
	}
	if ctxTx, ok := GetTransactionFromContext(ctx); ok {
		if pgTx, ok := ctxTx.(*Transaction); ok {
			return pgTx.tx
		}
	}
	return db.DB
}

func asTransaction(tx repositories.Transaction) *Transaction {
	pgTx, _ := tx.(*Transaction)
	return pgTx
}

var _ repositories.RetryClassifier = (*TransactionManager)(nil)
