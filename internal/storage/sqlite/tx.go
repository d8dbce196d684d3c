package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// isBusyError reports whether err is SQLite's transient "database is
// locked"/"database is busy" condition, which callers should retry rather
// than surface. modernc.org/sqlite does not export a typed sentinel for
// this the way some cgo drivers do, so we match on the message text the
// driver produces, the same way the teacher's beginImmediateWithRetry
// comment in internal/storage/sqlite/queries.go describes working around
// SQLITE_BUSY.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// withTx runs fn inside a transaction opened with the driver's default
// options (transactions are serialised by the Store's single connection,
// see Open), retrying with bounded exponential backoff on transient lock
// contention, and committing on success / rolling back on failure. This
// generalizes the teacher's per-call begin + defer-rollback idiom in
// queries.go into one reusable helper.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Second
	bo := backoff.WithContext(policy, ctx)

	op := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusyError(err) {
				return err // retried by backoff.Retry
			}
			return backoff.Permanent(mqerrors.New(mqerrors.KindStoreError, "withTx.Begin", err))
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isBusyError(err) {
				return err
			}
			var perr *mqerrors.Error
			if errors.As(err, &perr) {
				return backoff.Permanent(err)
			}
			return backoff.Permanent(mqerrors.New(mqerrors.KindStoreError, "withTx.fn", err))
		}

		if err := tx.Commit(); err != nil {
			if isBusyError(err) {
				return err
			}
			return backoff.Permanent(mqerrors.New(mqerrors.KindStoreError, "withTx.Commit", err))
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		if isBusyError(err) {
			return mqerrors.New(mqerrors.KindLockContention, "withTx", err)
		}
		return err
	}
	return nil
}

// wrapDBError converts sql.ErrNoRows into a NotFound *mqerrors.Error and
// anything else into a StoreError, following the teacher's wrapDBError
// helper in internal/storage/sqlite/errors.go.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return mqerrors.New(mqerrors.KindNotFound, op, err)
	}
	return mqerrors.New(mqerrors.KindStoreError, op, err)
}
