// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/theaterops/canteend/internal/metrics"
)

// Execute runs fn against the database, racing each attempt against timeout.
// Transient failures back off min(2^n * BaseRetryDelay, MaxRetryDelay) and
// retry up to maxRetries total attempts, re-verifying the connection state
// before each retry. NotReady and Permanent failures surface immediately.
//
// Transient errors never escape Execute until the retry budget is exhausted;
// the exhausted error carries KindTransient so callers can distinguish "the
// database is unwell" from "the query is wrong".
func Execute[T any](ctx context.Context, m *Manager, queryName string, timeout time.Duration, maxRetries int, fn func(ctx context.Context, db *mongo.Database) (T, error)) (T, error) {
	var zero T
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := m.cfg.BaseRetryDelay << uint(attempt-1)
			if delay > m.cfg.MaxRetryDelay {
				delay = m.cfg.MaxRetryDelay
			}
			if !sleepCtx(ctx, delay) {
				return zero, ctx.Err()
			}
			if m.State() != StateConnected {
				m.Trigger()
				lastErr = ErrNotReady
				metrics.DBQueryRetries.Inc()
				continue
			}
			metrics.DBQueryRetries.Inc()
		}

		if m.State() != StateConnected && attempt == 0 {
			m.Trigger()
			return zero, &Error{Kind: KindNotReady, Query: queryName, Err: ErrNotReady}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(attemptCtx, m.Database())
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err

		switch Classify(err) {
		case KindPermanent:
			return zero, &Error{Kind: KindPermanent, Query: queryName, Err: err}
		case KindNotReady:
			m.Trigger()
			return zero, &Error{Kind: KindNotReady, Query: queryName, Err: err}
		case KindTransient:
			m.logger.Debug().
				Err(err).
				Str("query", queryName).
				Int("attempt", attempt+1).
				Msg("transient query failure")
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
	}

	m.noteFailure(lastErr)
	return zero, &Error{Kind: KindTransient, Query: queryName, Err: lastErr}
}
