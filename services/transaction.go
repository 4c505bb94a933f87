package services

import (
	"context"
	"fmt"

	"github.com/upb/routeguard/repositories"
)

// MaxTransactionAttempts bounds how often a transaction aborted by a
// concurrent writer is run again
const MaxTransactionAttempts = 3

// WithTransaction runs fn in a transaction, committing on success and
// rolling back on error.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	_, err := WithTransactionResult(ctx, txMgr, func(ctx context.Context, tx repositories.Transaction) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}

// WithTransactionResult runs fn in a transaction and returns its result.
// When txMgr classifies a failure as retryable the whole transaction is run
// again, up to MaxTransactionAttempts times, after which ErrConcurrentUpdate
// is returned. fn must therefore have no effects outside the transaction.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) (T, error)) (T, error) {
	classifier, _ := txMgr.(repositories.RetryClassifier)

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= MaxTransactionAttempts; attempt++ {
		result, err = runTransaction(ctx, txMgr, fn)
		if err == nil || classifier == nil || !classifier.IsRetryable(err) {
			return result, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
	}

	var zero T
	return zero, NewDomainError(ErrorTypeConflict, ErrConcurrentUpdate.Message, err).
		WithDetail("attempts", MaxTransactionAttempts)
}

func runTransaction[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) (T, error)) (T, error) {
	var result T

	tx, err := txMgr.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	result, err = fn(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return result, fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}
