// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package stocknotify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/metrics"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/store"
)

// Notification kinds.
const (
	KindExpiring = "expiring"
	KindExpired  = "expired"
	KindLow      = "low"
	KindDaily    = "daily"
)

// Notification is the structured payload handed to the mail channel: one
// theater, one kind, the classified rows.
type Notification struct {
	Theater models.Theater
	Kind    string
	Rows    any
}

// Repository is the store slice the jobs read from.
type Repository interface {
	ActiveTheaters(ctx context.Context) ([]models.Theater, error)
	ActiveProducts(ctx context.Context, theaterID primitive.ObjectID) ([]models.Product, error)
	LedgerFor(ctx context.Context, theaterID, productID primitive.ObjectID, year int, month time.Month) (*models.MonthlyStockLedger, error)
}

// Jobs holds the four scheduled stock-notification job bodies. Failures for
// one theater or product are logged and skipped; a job run never aborts, and
// nothing retries within a run.
type Jobs struct {
	repo   Repository
	mailer Mailer
	logger zerolog.Logger

	// now is a clock hook for tests.
	now func() time.Time
}

// NewJobs wires the job bodies.
func NewJobs(repo Repository, mailer Mailer) *Jobs {
	return &Jobs{
		repo:   repo,
		mailer: mailer,
		logger: logging.Component("stocknotify"),
		now:    time.Now,
	}
}

// ExpiringStockCheck mails each opted-in theater its entries expiring within
// the next three days.
func (j *Jobs) ExpiringStockCheck(ctx context.Context) error {
	return j.run(ctx, KindExpiring, func(ctx context.Context, theater models.Theater, products []models.Product, now time.Time) (any, int) {
		var rows []ExpiringRow
		for _, p := range products {
			ledger, ok := j.ledger(ctx, theater, p, now)
			if !ok {
				continue
			}
			rows = append(rows, ClassifyExpiring(p, ledger.StockDetails, now)...)
		}
		return rows, len(rows)
	})
}

// ExpiredStockCheck mails each opted-in theater its already-expired stock.
func (j *Jobs) ExpiredStockCheck(ctx context.Context) error {
	return j.run(ctx, KindExpired, func(ctx context.Context, theater models.Theater, products []models.Product, now time.Time) (any, int) {
		var rows []ExpiredRow
		for _, p := range products {
			ledger, ok := j.ledger(ctx, theater, p, now)
			if !ok {
				continue
			}
			rows = append(rows, ClassifyExpired(p, ledger.StockDetails, now)...)
		}
		return rows, len(rows)
	})
}

// LowStockCheck mails products at or predicted to reach their threshold.
func (j *Jobs) LowStockCheck(ctx context.Context) error {
	return j.run(ctx, KindLow, func(ctx context.Context, theater models.Theater, products []models.Product, now time.Time) (any, int) {
		var rows []LowStockRow
		for _, p := range products {
			ledger, ok := j.ledger(ctx, theater, p, now)
			if !ok {
				continue
			}
			if row := EvaluateLowStock(p, ledger, now); row != nil {
				rows = append(rows, *row)
			}
		}
		return rows, len(rows)
	})
}

// DailyStockReport mails a full per-product status table.
func (j *Jobs) DailyStockReport(ctx context.Context) error {
	return j.run(ctx, KindDaily, func(ctx context.Context, theater models.Theater, products []models.Product, now time.Time) (any, int) {
		var rows []ReportRow
		for _, p := range products {
			ledger, ok := j.ledger(ctx, theater, p, now)
			if !ok {
				continue
			}
			if row := BuildReportRow(p, ledger, now); row != nil {
				rows = append(rows, *row)
			}
		}
		return rows, len(rows)
	})
}

type classifyFunc func(ctx context.Context, theater models.Theater, products []models.Product, now time.Time) (any, int)

func (j *Jobs) run(ctx context.Context, kind string, classify classifyFunc) error {
	now := j.now()
	theaters, err := j.repo.ActiveTheaters(ctx)
	if err != nil {
		return fmt.Errorf("stocknotify: listing theaters: %w", err)
	}

	for _, theater := range theaters {
		if len(theater.NotificationEmails) == 0 {
			continue
		}

		products, err := j.repo.ActiveProducts(ctx, theater.ID)
		if err != nil {
			j.logger.Error().Err(err).Str("theater", theater.Name).Msg("loading products failed, skipping theater")
			continue
		}

		rows, count := classify(ctx, theater, products, now)
		if count == 0 {
			continue
		}

		n := Notification{Theater: theater, Kind: kind, Rows: rows}
		if err := j.dispatch(ctx, n, count); err != nil {
			metrics.MailsDispatched.WithLabelValues(kind, "error").Inc()
			j.logger.Error().Err(err).
				Str("theater", theater.Name).
				Str("kind", kind).
				Msg("mail dispatch failed, continuing")
			continue
		}
		metrics.MailsDispatched.WithLabelValues(kind, "ok").Inc()
		j.logger.Info().
			Str("theater", theater.Name).
			Str("kind", kind).
			Int("rows", count).
			Msg("notification dispatched")
	}
	return nil
}

// ledger loads the current-month ledger for one product. A missing ledger is
// normal (no movements yet); other failures log and skip the product.
func (j *Jobs) ledger(ctx context.Context, theater models.Theater, p models.Product, now time.Time) (*models.MonthlyStockLedger, bool) {
	ledger, err := j.repo.LedgerFor(ctx, theater.ID, p.ID, now.Year(), now.Month())
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		j.logger.Warn().Err(err).
			Str("theater", theater.Name).
			Str("product", p.Name).
			Msg("loading ledger failed, skipping product")
		return nil, false
	}
	return ledger, true
}

func (j *Jobs) dispatch(ctx context.Context, n Notification, count int) error {
	subject, body := renderMail(n, count)
	return j.mailer.Send(ctx, n.Theater.NotificationEmails, subject, body)
}

// renderMail flattens a notification into a plain-text message.
func renderMail(n Notification, count int) (subject, body string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Theater: %s\n\n", n.Theater.Name)

	switch rows := n.Rows.(type) {
	case []ExpiringRow:
		subject = fmt.Sprintf("[%s] %d product(s) expiring within 3 days", n.Theater.Name, count)
		for _, r := range rows {
			fmt.Fprintf(&b, "- %s: %d %s expires %s (in %d day(s))\n",
				r.Product, r.Balance, r.Unit, r.ExpireDate.Format("2006-01-02"), r.DaysUntilExpiry)
		}
	case []ExpiredRow:
		subject = fmt.Sprintf("[%s] %d expired product(s) in stock", n.Theater.Name, count)
		for _, r := range rows {
			fmt.Fprintf(&b, "- %s: %d %s expired on %s\n",
				r.Product, r.Balance, r.Unit, r.ExpireDate.Format("2006-01-02"))
		}
	case []LowStockRow:
		subject = fmt.Sprintf("[%s] %d product(s) low on stock", n.Theater.Name, count)
		for _, r := range rows {
			fmt.Fprintf(&b, "- %s: %d %s on hand (min %d) - %s\n",
				r.Product, r.CurrentStock, r.Unit, r.MinStock, r.WarningType)
		}
	case []ReportRow:
		subject = fmt.Sprintf("[%s] Daily stock report", n.Theater.Name)
		for _, r := range rows {
			fmt.Fprintf(&b, "- %s: %d %s (min %d, sold %d, closing %d) - %s\n",
				r.Product, r.CurrentStock, r.Unit, r.MinStock, r.TotalSales, r.ClosingBalance, r.Status)
		}
	}
	return subject, b.String()
}
