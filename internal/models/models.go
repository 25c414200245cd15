// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package models defines the MongoDB document types shared across Canteend.
package models

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultUnit is applied to stock entries persisted without a unit.
const DefaultUnit = "Nos"

// Theater is a venue owning its own products, stock and QR artifacts.
type Theater struct {
	ID      primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Name    string             `json:"name" bson:"name"`
	Active  bool               `json:"active" bson:"active"`
	Email   string             `json:"email,omitempty" bson:"email,omitempty"`
	Phone   string             `json:"phone,omitempty" bson:"phone,omitempty"`
	Address string             `json:"address,omitempty" bson:"address,omitempty"`
	LogoURL string             `json:"logoUrl,omitempty" bson:"logoUrl,omitempty"`

	// NotificationEmails is the per-theater opt-in list for stock e-mails.
	// An empty list means the theater receives no notifications.
	NotificationEmails []string `json:"notificationEmails,omitempty" bson:"notificationEmails,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Product is a canteen line item sold by one theater.
type Product struct {
	ID        primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	TheaterID primitive.ObjectID `json:"theaterId" bson:"theaterId"`
	Name      string             `json:"name" bson:"name"`
	Category  string             `json:"category,omitempty" bson:"category,omitempty"`
	Unit      string             `json:"unit,omitempty" bson:"unit,omitempty"`
	MinStock  int                `json:"minStock" bson:"minStock"`
	Price     float64            `json:"price,omitempty" bson:"price,omitempty"`
	Active    bool               `json:"active" bson:"active"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// StockEntry is one day's stock movement inside a monthly ledger.
// Quantities are non-negative; Balance is the running on-hand after the entry.
type StockEntry struct {
	Date            time.Time  `json:"date" bson:"date"`
	OldStock        int        `json:"oldStock" bson:"oldStock"`
	InvordStock     int        `json:"invordStock" bson:"invordStock"`
	DirectStock     int        `json:"directStock" bson:"directStock"`
	Sales           int        `json:"sales" bson:"sales"`
	Addon           int        `json:"addon" bson:"addon"`
	StockAdjustment int        `json:"stockAdjustment" bson:"stockAdjustment"`
	CancelStock     int        `json:"cancelStock" bson:"cancelStock"`
	ExpiredStock    int        `json:"expiredStock" bson:"expiredStock"`
	DamageStock     int        `json:"damageStock" bson:"damageStock"`
	Balance         int        `json:"balance" bson:"balance"`
	Unit            string     `json:"unit,omitempty" bson:"unit,omitempty"`
	Type            string     `json:"type,omitempty" bson:"type,omitempty"`
	ExpireDate      *time.Time `json:"expireDate,omitempty" bson:"expireDate,omitempty"`
}

// UnitOrDefault returns the entry unit, defaulting persisted blanks.
func (e StockEntry) UnitOrDefault() string {
	if e.Unit == "" {
		return DefaultUnit
	}
	return e.Unit
}

// MonthlyStockLedger holds one product's ordered stock movements for one
// calendar month. Exactly one ledger exists per (theater, product, year, month).
type MonthlyStockLedger struct {
	ID             primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	TheaterID      primitive.ObjectID `json:"theaterId" bson:"theaterId"`
	ProductID      primitive.ObjectID `json:"productId" bson:"productId"`
	Year           int                `json:"year" bson:"year"`
	Month          int                `json:"month" bson:"month"`
	StockDetails   []StockEntry       `json:"stockDetails" bson:"stockDetails"`
	TotalSales     int                `json:"totalSales" bson:"totalSales"`
	ClosingBalance int                `json:"closingBalance" bson:"closingBalance"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// SortEntriesByDate orders StockDetails in non-decreasing date order.
// Classification relies on this ordering; loaders call it before returning.
func (l *MonthlyStockLedger) SortEntriesByDate() {
	sort.SliceStable(l.StockDetails, func(i, j int) bool {
		return l.StockDetails[i].Date.Before(l.StockDetails[j].Date)
	})
}

// LatestEntry returns the most recent entry by date, or nil for an empty ledger.
// Assumes SortEntriesByDate has run.
func (l *MonthlyStockLedger) LatestEntry() *StockEntry {
	if len(l.StockDetails) == 0 {
		return nil
	}
	return &l.StockDetails[len(l.StockDetails)-1]
}

// QRArtifact kinds.
const (
	QRKindSingle = "single"
	QRKindScreen = "screen"
)

// QRArtifact is a generated QR image plus its database row, treated atomically:
// the stored image and the row land together, or neither does.
type QRArtifact struct {
	ID            primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	TheaterID     primitive.ObjectID `json:"theaterId" bson:"theaterId"`
	Kind          string             `json:"kind" bson:"kind"`
	QRName        string             `json:"qrName" bson:"qrName"`
	SeatClass     string             `json:"seatClass,omitempty" bson:"seatClass,omitempty"`
	Seat          string             `json:"seat,omitempty" bson:"seat,omitempty"`
	DataPayload   string             `json:"dataPayload" bson:"dataPayload"`
	ImageLocation string             `json:"imageLocation" bson:"imageLocation"`
	LogoLocation  string             `json:"logoLocation,omitempty" bson:"logoLocation,omitempty"`
	BatchID       string             `json:"batchId,omitempty" bson:"batchId,omitempty"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
	CreatedBy     string             `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
}

// Order is the authoritative POS order record. Canteend only projects it onto
// the event stream; mutation is the HTTP collaborator's concern.
type Order struct {
	ID         primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	TheaterID  primitive.ObjectID `json:"theaterId" bson:"theaterId"`
	OrderNo    string             `json:"orderNo" bson:"orderNo"`
	Status     string             `json:"status" bson:"status"`
	Seat       string             `json:"seat,omitempty" bson:"seat,omitempty"`
	Items      []OrderItem        `json:"items" bson:"items"`
	Total      float64            `json:"total" bson:"total"`
	CreatedAt  time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt" bson:"updatedAt"`
	CustomerID string             `json:"customerId,omitempty" bson:"customerId,omitempty"`
}

// OrderItem is a single product line on an order.
type OrderItem struct {
	ProductID primitive.ObjectID `json:"productId" bson:"productId"`
	Name      string             `json:"name" bson:"name"`
	Quantity  int                `json:"quantity" bson:"quantity"`
	Price     float64            `json:"price" bson:"price"`
}

// OrderSummary is the reduced projection pushed to POS agents. Field order and
// content are deterministic functions of the order record.
type OrderSummary struct {
	OrderID   string             `json:"orderId"`
	OrderNo   string             `json:"orderNo"`
	Status    string             `json:"status"`
	Seat      string             `json:"seat,omitempty"`
	Items     []OrderItemSummary `json:"items"`
	Total     float64            `json:"total"`
	CreatedAt time.Time          `json:"createdAt"`
}

// OrderItemSummary is the reduced per-line projection.
type OrderItemSummary struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Summarize builds the POS projection of an order.
func (o *Order) Summarize() OrderSummary {
	items := make([]OrderItemSummary, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemSummary{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}
	return OrderSummary{
		OrderID:   o.ID.Hex(),
		OrderNo:   o.OrderNo,
		Status:    o.Status,
		Seat:      o.Seat,
		Items:     items,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
	}
}
