// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package stocknotify classifies stock ledgers into notification rows and
// dispatches per-theater batch e-mails.
package stocknotify

import (
	"time"

	"github.com/theaterops/canteend/internal/models"
)

// Warning types on low-stock rows.
const (
	WarnBelowThreshold = "Below Threshold"
	WarnApproaching    = "Will Reach Threshold Soon"
)

// Daily report statuses, in precedence order.
const (
	StatusExpired      = "Expired"
	StatusExpiringSoon = "Expiring Soon"
	StatusOutOfStock   = "Out of Stock"
	StatusLowStock     = "Low Stock"
	StatusActive       = "Active"
)

// expiryWindowDays is how far ahead the expiring check looks.
const expiryWindowDays = 3

// halfHoursPerDay converts average daily sales into a 30-minute burn rate.
const halfHoursPerDay = 48

// ExpiringRow is one entry expiring within the lookahead window.
type ExpiringRow struct {
	Product         string    `json:"product"`
	Unit            string    `json:"unit"`
	Balance         int       `json:"balance"`
	ExpireDate      time.Time `json:"expireDate"`
	DaysUntilExpiry int       `json:"daysUntilExpiry"`
}

// ExpiredRow is one entry already past its expiry date with stock on hand.
type ExpiredRow struct {
	Product    string    `json:"product"`
	Unit       string    `json:"unit"`
	Balance    int       `json:"balance"`
	ExpireDate time.Time `json:"expireDate"`
}

// LowStockRow is one product at or approaching its minimum stock.
type LowStockRow struct {
	Product           string  `json:"product"`
	Unit              string  `json:"unit"`
	CurrentStock      int     `json:"currentStock"`
	MinStock          int     `json:"minStock"`
	AverageDailySales float64 `json:"averageDailySales"`
	PredictedStock    float64 `json:"predictedStockIn30Min"`
	WarningType       string  `json:"warningType"`
}

// ReportRow is one product line on the daily stock report. TotalSales and
// ClosingBalance are the ledger's month-to-date roll-ups.
type ReportRow struct {
	Product        string `json:"product"`
	Unit           string `json:"unit"`
	CurrentStock   int    `json:"currentStock"`
	MinStock       int    `json:"minStock"`
	TotalSales     int    `json:"totalSales"`
	ClosingBalance int    `json:"closingBalance"`
	Status         string `json:"status"`
}

// dayStart truncates to midnight in the time's own location.
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ClassifyExpiring emits entries whose expiry falls inside [today 00:00,
// today+3 23:59:59] with stock on hand. The ledger must be date-sorted.
func ClassifyExpiring(product models.Product, entries []models.StockEntry, now time.Time) []ExpiringRow {
	t0 := dayStart(now)
	t3 := t0.AddDate(0, 0, expiryWindowDays+1).Add(-time.Second)

	var rows []ExpiringRow
	for _, e := range entries {
		if e.ExpireDate == nil || e.Balance <= 0 {
			continue
		}
		exp := *e.ExpireDate
		if exp.Before(t0) || exp.After(t3) {
			continue
		}
		rows = append(rows, ExpiringRow{
			Product:         product.Name,
			Unit:            e.UnitOrDefault(),
			Balance:         e.Balance,
			ExpireDate:      exp,
			DaysUntilExpiry: daysUntil(t0, exp),
		})
	}
	return rows
}

// daysUntil is ceil((exp - t0) / 1 day), never negative.
func daysUntil(t0, exp time.Time) int {
	d := exp.Sub(t0)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// ClassifyExpired emits entries already past midnight today with stock on hand.
func ClassifyExpired(product models.Product, entries []models.StockEntry, now time.Time) []ExpiredRow {
	t0 := dayStart(now)

	var rows []ExpiredRow
	for _, e := range entries {
		if e.ExpireDate == nil || e.Balance <= 0 || !e.ExpireDate.Before(t0) {
			continue
		}
		rows = append(rows, ExpiredRow{
			Product:    product.Name,
			Unit:       e.UnitOrDefault(),
			Balance:    e.Balance,
			ExpireDate: *e.ExpireDate,
		})
	}
	return rows
}

// currentStock derives on-hand stock from one entry, floored at zero.
func currentStock(e models.StockEntry) int {
	cs := e.InvordStock - e.Sales - e.ExpiredStock - e.DamageStock
	if cs < 0 {
		return 0
	}
	return cs
}

// averageDailySales averages sales over entries in the last seven calendar
// days, counting only entries that actually sold. Returns 0 with no such
// entries.
func averageDailySales(entries []models.StockEntry, now time.Time) float64 {
	cutoff := dayStart(now).AddDate(0, 0, -7)

	sum, n := 0, 0
	for _, e := range entries {
		if e.Date.Before(cutoff) || e.Sales <= 0 {
			continue
		}
		sum += e.Sales
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// EvaluateLowStock returns a row when the product is at or predicted to reach
// its minimum stock within 30 minutes, nil otherwise. The ledger must be
// date-sorted: the latest entry drives the current figure.
func EvaluateLowStock(product models.Product, ledger *models.MonthlyStockLedger, now time.Time) *LowStockRow {
	latest := ledger.LatestEntry()
	if latest == nil {
		return nil
	}

	cs := currentStock(*latest)
	avg := averageDailySales(ledger.StockDetails, now)
	predicted := float64(cs) - avg/halfHoursPerDay

	var warning string
	switch {
	case cs > 0 && cs <= product.MinStock:
		warning = WarnBelowThreshold
	case predicted > 0 && predicted <= float64(product.MinStock):
		warning = WarnApproaching
	default:
		return nil
	}

	return &LowStockRow{
		Product:           product.Name,
		Unit:              latest.UnitOrDefault(),
		CurrentStock:      cs,
		MinStock:          product.MinStock,
		AverageDailySales: avg,
		PredictedStock:    predicted,
		WarningType:       warning,
	}
}

// BuildReportRow summarises one product for the daily report, using today's
// entry or, when today has none, the latest. Nil when the ledger is empty.
func BuildReportRow(product models.Product, ledger *models.MonthlyStockLedger, now time.Time) *ReportRow {
	entry := entryForDay(ledger, now)
	if entry == nil {
		return nil
	}

	cs := currentStock(*entry)
	row := &ReportRow{
		Product:        product.Name,
		Unit:           entry.UnitOrDefault(),
		CurrentStock:   cs,
		MinStock:       product.MinStock,
		TotalSales:     ledger.TotalSales,
		ClosingBalance: ledger.ClosingBalance,
	}

	t0 := dayStart(now)
	switch {
	case entry.ExpireDate != nil && entry.ExpireDate.Before(t0):
		row.Status = StatusExpired
	case entry.ExpireDate != nil && daysUntil(t0, *entry.ExpireDate) <= expiryWindowDays:
		row.Status = StatusExpiringSoon
	case cs == 0:
		row.Status = StatusOutOfStock
	case cs <= product.MinStock:
		row.Status = StatusLowStock
	default:
		row.Status = StatusActive
	}
	return row
}

// entryForDay picks today's entry, falling back to the most recent one.
func entryForDay(ledger *models.MonthlyStockLedger, now time.Time) *models.StockEntry {
	t0 := dayStart(now)
	for i := range ledger.StockDetails {
		e := &ledger.StockDetails[i]
		if dayStart(e.Date.In(now.Location())).Equal(t0) {
			return e
		}
	}
	return ledger.LatestEntry()
}
