// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/theaterops/canteend/internal/cron"
	"github.com/theaterops/canteend/internal/database"
	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/posbus"
	"github.com/theaterops/canteend/internal/qrartifact"
	"github.com/theaterops/canteend/internal/settings"
	"github.com/theaterops/canteend/internal/storage"
	"github.com/theaterops/canteend/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type fakeRepo struct {
	theaters  map[string]*models.Theater
	artifacts []*models.QRArtifact
}

func (f *fakeRepo) TheaterByID(ctx context.Context, id primitive.ObjectID) (*models.Theater, error) {
	theater, ok := f.theaters[id.Hex()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return theater, nil
}

func (f *fakeRepo) InsertQRArtifact(ctx context.Context, artifact *models.QRArtifact) error {
	f.artifacts = append(f.artifacts, artifact)
	return nil
}

type memSettings struct {
	doc *models.SystemSettings
}

func (m *memSettings) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	cp := *m.doc
	return &cp, nil
}

func (m *memSettings) SaveSettings(ctx context.Context, s *models.SystemSettings) error {
	cp := *s
	m.doc = &cp
	return nil
}

type fixture struct {
	handler http.Handler
	bus     *posbus.Bus
	repo    *fakeRepo
	theater models.Theater
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	theater := models.Theater{
		ID:     primitive.NewObjectID(),
		Name:   "Grand Odeon",
		Active: true,
	}
	repo := &fakeRepo{theaters: map[string]*models.Theater{theater.ID.Hex(): &theater}}

	registry := settings.New(&memSettings{doc: models.DefaultSystemSettings()})
	if err := registry.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	blobs := storage.New(storage.Config{Root: t.TempDir(), BaseURL: "https://cdn.example.com"})
	pipeline := qrartifact.New(repo, blobs, registry, "https://menu.example.com")

	db := database.New(database.Config{URI: "mongodb://unused", Database: "canteend_test"})
	bus := posbus.New()
	t.Cleanup(bus.Shutdown)
	supervisor := cron.NewSupervisor(registry)

	return &fixture{
		handler: NewRouter(db, bus, pipeline, registry, supervisor),
		bus:     bus,
		repo:    repo,
		theater: theater,
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["database"] != "disconnected" {
		t.Errorf("body = %v", body)
	}
}

func TestQRSingleGeneratesArtifact(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(map[string]any{
		"theaterId": f.theater.ID.Hex(),
		"qrName":    "Main Counter",
	})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/qr/single", bytes.NewReader(payload)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var artifact models.QRArtifact
	if err := json.Unmarshal(rec.Body.Bytes(), &artifact); err != nil {
		t.Fatal(err)
	}
	if artifact.Kind != models.QRKindSingle {
		t.Errorf("kind = %q", artifact.Kind)
	}
	if !strings.Contains(artifact.ImageLocation, "/uploads/qr-codes/single/Grand_Odeon/") {
		t.Errorf("imageLocation = %q", artifact.ImageLocation)
	}
	if !strings.Contains(artifact.DataPayload, "qrName=Main%20Counter") {
		t.Errorf("payload = %q", artifact.DataPayload)
	}
	if len(f.repo.artifacts) != 1 {
		t.Errorf("inserted %d rows", len(f.repo.artifacts))
	}
}

func TestQRSingleUnknownTheater(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(map[string]any{
		"theaterId": primitive.NewObjectID().Hex(),
		"qrName":    "Main",
	})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/qr/single", bytes.NewReader(payload)))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQRSingleValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{nope"},
		{"bad theater id", `{"theaterId":"xyz","qrName":"Main"}`},
		{"missing qrName", `{"theaterId":"` + f.theater.ID.Hex() + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/qr/single", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQRScreenBatch(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(map[string]any{
		"theaterId": f.theater.ID.Hex(),
		"qrName":    "Screen - 1",
		"seats":     []string{"A1", "A2"},
	})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/qr/screen", bytes.NewReader(payload)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var batch qrartifact.ScreenBatch
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatal(err)
	}
	if len(batch.Artifacts) != 2 || len(batch.Failed) != 0 || batch.BatchID == "" {
		t.Errorf("batch = %+v", batch)
	}
	if got := batch.Artifacts[0].DataPayload; !strings.Contains(got, "qrName=Screen%20-%201&seat=A1&type=screen") {
		t.Errorf("payload = %q", got)
	}
	if !strings.Contains(batch.Artifacts[0].ImageLocation, "/qr-codes/screen/Grand_Odeon/Screen___1/") {
		t.Errorf("imageLocation = %q", batch.Artifacts[0].ImageLocation)
	}
}

func TestPosEventValidation(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pos/events",
		strings.NewReader(`{"event":"exploded","order":{}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown event status = %d, want 400", rec.Code)
	}
}

func TestPosEventNoSubscribers(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(posEventRequest{
		Event: posbus.EventCreated,
		Order: models.Order{ID: primitive.NewObjectID(), TheaterID: f.theater.ID},
	})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pos/events", bytes.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["delivered"] != 0 {
		t.Errorf("delivered = %d, want 0", body["delivered"])
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newFixture(t)

	// PUT a new SMTP section.
	put := httptest.NewRequest(http.MethodPut, "/api/v1/settings/smtp",
		strings.NewReader(`{"host":"mail.example.com","port":587,"password":"hunter2"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, put)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body)
	}

	// GET returns the change with the password masked.
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))
	var doc models.SystemSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.SMTP.Host != "mail.example.com" {
		t.Errorf("host = %q", doc.SMTP.Host)
	}
	if doc.SMTP.Password == "hunter2" {
		t.Error("password not redacted")
	}
}

func TestSettingsUnknownSection(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/settings/nope", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestPosStreamRejectsInvalidTheaterID(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/pos-stream?theaterId=garbage"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, posbus.ClosePolicyViolation) {
		t.Errorf("expected close 1008, got %v", err)
	}
}

func TestPosStreamDeliversBroadcasts(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/pos-stream?theaterId="+f.theater.ID.Hex()), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Give the server a beat to register the subscription.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, subs := f.bus.Stats(); subs == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	order := &models.Order{ID: primitive.NewObjectID(), TheaterID: f.theater.ID, OrderNo: "ORD-9"}
	if got := f.bus.Broadcast(posbus.EventCreated, order); got != 1 {
		t.Fatalf("delivered = %d", got)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame posbus.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "pos_order" || frame.Order.OrderNo != "ORD-9" {
		t.Errorf("frame = %+v", frame)
	}
}
