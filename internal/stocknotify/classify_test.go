// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package stocknotify

import (
	"testing"
	"time"

	"github.com/theaterops/canteend/internal/models"
)

func datePtr(t time.Time) *time.Time { return &t }

func TestClassifyExpiringBoundary(t *testing.T) {
	// Today = 2025-01-10 00:00 local. The window closes at 2025-01-13 23:59:59:
	// entries through the 13th are emitted, the 14th is not.
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.Local)
	product := models.Product{Name: "Popcorn"}

	var entries []models.StockEntry
	for _, day := range []int{10, 12, 13, 14} {
		entries = append(entries, models.StockEntry{
			Date:       time.Date(2025, 1, day-5, 0, 0, 0, 0, time.Local),
			Balance:    5,
			ExpireDate: datePtr(time.Date(2025, 1, day, 0, 0, 0, 0, time.Local)),
		})
	}

	rows := ClassifyExpiring(product, entries, now)
	if len(rows) != 3 {
		t.Fatalf("emitted %d rows, want 3 (through day +3 inclusive)", len(rows))
	}
	for _, r := range rows {
		if r.ExpireDate.Day() == 14 {
			t.Error("day +4 must not be emitted")
		}
	}

	wantDays := []int{0, 2, 3}
	for i, r := range rows {
		if r.DaysUntilExpiry != wantDays[i] {
			t.Errorf("row %d daysUntilExpiry = %d, want %d", i, r.DaysUntilExpiry, wantDays[i])
		}
	}
}

func TestClassifyExpiringSkipsZeroBalanceAndNilDate(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.Local)
	entries := []models.StockEntry{
		{Balance: 0, ExpireDate: datePtr(now.AddDate(0, 0, 1))},
		{Balance: 5},
	}
	if rows := ClassifyExpiring(models.Product{Name: "Soda"}, entries, now); len(rows) != 0 {
		t.Errorf("emitted %d rows, want 0", len(rows))
	}
}

func TestClassifyExpired(t *testing.T) {
	now := time.Date(2025, 1, 10, 15, 30, 0, 0, time.Local)
	entries := []models.StockEntry{
		{Balance: 3, ExpireDate: datePtr(time.Date(2025, 1, 9, 0, 0, 0, 0, time.Local))},  // past
		{Balance: 0, ExpireDate: datePtr(time.Date(2025, 1, 8, 0, 0, 0, 0, time.Local))},  // no stock
		{Balance: 4, ExpireDate: datePtr(time.Date(2025, 1, 10, 0, 0, 0, 0, time.Local))}, // today, not past
	}

	rows := ClassifyExpired(models.Product{Name: "Nachos"}, entries, now)
	if len(rows) != 1 {
		t.Fatalf("emitted %d rows, want 1", len(rows))
	}
	if rows[0].Balance != 3 {
		t.Errorf("balance = %d, want 3", rows[0].Balance)
	}
}

func TestEvaluateLowStockPredictiveTrigger(t *testing.T) {
	// minStock=10, currentStock=12, sales over the last 7 days {240, 0, 240}:
	// averageDailySales = 480/2 = 240, predicted = 12 - 240/48 = 7.
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)
	product := models.Product{Name: "Cola", MinStock: 10}
	ledger := &models.MonthlyStockLedger{StockDetails: []models.StockEntry{
		{Date: now.AddDate(0, 0, -3), Sales: 240},
		{Date: now.AddDate(0, 0, -2), Sales: 0},
		{Date: now.AddDate(0, 0, -1), Sales: 240, InvordStock: 252, ExpiredStock: 0, DamageStock: 0},
	}}

	row := EvaluateLowStock(product, ledger, now)
	if row == nil {
		t.Fatal("expected a low-stock row")
	}
	if row.CurrentStock != 12 {
		t.Errorf("currentStock = %d, want 12", row.CurrentStock)
	}
	if row.AverageDailySales != 240 {
		t.Errorf("averageDailySales = %v, want 240", row.AverageDailySales)
	}
	if row.PredictedStock != 7 {
		t.Errorf("predictedStockIn30Min = %v, want 7", row.PredictedStock)
	}
	if row.WarningType != WarnApproaching {
		t.Errorf("warningType = %q, want %q", row.WarningType, WarnApproaching)
	}
}

func TestEvaluateLowStockAlreadyBelow(t *testing.T) {
	now := time.Now()
	product := models.Product{Name: "Candy", MinStock: 10}
	ledger := &models.MonthlyStockLedger{StockDetails: []models.StockEntry{
		{Date: now, InvordStock: 8},
	}}

	row := EvaluateLowStock(product, ledger, now)
	if row == nil {
		t.Fatal("expected a low-stock row")
	}
	if row.WarningType != WarnBelowThreshold {
		t.Errorf("warningType = %q, want %q", row.WarningType, WarnBelowThreshold)
	}
}

func TestEvaluateLowStockHealthy(t *testing.T) {
	now := time.Now()
	product := models.Product{Name: "Water", MinStock: 10}
	ledger := &models.MonthlyStockLedger{StockDetails: []models.StockEntry{
		{Date: now, InvordStock: 500, Sales: 20},
	}}

	if row := EvaluateLowStock(product, ledger, now); row != nil {
		t.Errorf("healthy product emitted %+v", row)
	}
}

func TestEvaluateLowStockEmptyLedger(t *testing.T) {
	if row := EvaluateLowStock(models.Product{MinStock: 5}, &models.MonthlyStockLedger{}, time.Now()); row != nil {
		t.Errorf("empty ledger emitted %+v", row)
	}
}

func TestCurrentStockFloorsAtZero(t *testing.T) {
	e := models.StockEntry{InvordStock: 10, Sales: 15}
	if got := currentStock(e); got != 0 {
		t.Errorf("currentStock = %d, want 0", got)
	}
}

func TestBuildReportRowStatusPrecedence(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)
	today := time.Date(2025, 1, 10, 0, 0, 0, 0, time.Local)
	product := models.Product{Name: "Juice", MinStock: 10}

	tests := []struct {
		name  string
		entry models.StockEntry
		want  string
	}{
		{
			"expired beats everything",
			models.StockEntry{Date: today, InvordStock: 0, ExpireDate: datePtr(today.AddDate(0, 0, -1))},
			StatusExpired,
		},
		{
			"expiring soon beats out of stock",
			models.StockEntry{Date: today, InvordStock: 0, ExpireDate: datePtr(today.AddDate(0, 0, 2))},
			StatusExpiringSoon,
		},
		{
			"out of stock beats low stock",
			models.StockEntry{Date: today, InvordStock: 0},
			StatusOutOfStock,
		},
		{
			"low stock",
			models.StockEntry{Date: today, InvordStock: 5},
			StatusLowStock,
		},
		{
			"active",
			models.StockEntry{Date: today, InvordStock: 100},
			StatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &models.MonthlyStockLedger{StockDetails: []models.StockEntry{tt.entry}}
			row := BuildReportRow(product, ledger, now)
			if row == nil {
				t.Fatal("expected a report row")
			}
			if row.Status != tt.want {
				t.Errorf("status = %q, want %q", row.Status, tt.want)
			}
		})
	}
}

func TestBuildReportRowFallsBackToLatestEntry(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)
	ledger := &models.MonthlyStockLedger{StockDetails: []models.StockEntry{
		{Date: time.Date(2025, 1, 7, 0, 0, 0, 0, time.Local), InvordStock: 50},
		{Date: time.Date(2025, 1, 8, 0, 0, 0, 0, time.Local), InvordStock: 30},
	}}

	row := BuildReportRow(models.Product{Name: "Chips", MinStock: 5}, ledger, now)
	if row == nil {
		t.Fatal("expected a report row")
	}
	if row.CurrentStock != 30 {
		t.Errorf("currentStock = %d, want latest entry's 30", row.CurrentStock)
	}
}

func TestBuildReportRowEmptyLedger(t *testing.T) {
	if row := BuildReportRow(models.Product{}, &models.MonthlyStockLedger{}, time.Now()); row != nil {
		t.Errorf("empty ledger emitted %+v", row)
	}
}

func TestDaysUntil(t *testing.T) {
	t0 := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		exp  time.Time
		want int
	}{
		{t0, 0},
		{t0.Add(12 * time.Hour), 1},
		{t0.AddDate(0, 0, 3), 3},
		{t0.AddDate(0, 0, -1), 0},
	}
	for _, tt := range tests {
		if got := daysUntil(t0, tt.exp); got != tt.want {
			t.Errorf("daysUntil(%v) = %d, want %d", tt.exp, got, tt.want)
		}
	}
}
