// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package qrartifact

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/models"
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
	insertErr error
}

func (f *fakeRepo) TheaterByID(ctx context.Context, id primitive.ObjectID) (*models.Theater, error) {
	theater, ok := f.theaters[id.Hex()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return theater, nil
}

func (f *fakeRepo) InsertQRArtifact(ctx context.Context, artifact *models.QRArtifact) error {
	if f.insertErr != nil {
		return f.insertErr
	}
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

// failingRemote delegates local writes to a real store but fails remote puts.
type failingRemote struct {
	*storage.Store
}

func (f *failingRemote) Put(data []byte, logicalDir, name, contentType string) (string, error) {
	return "", errors.New("bucket unreachable")
}

// brokenBlobs fails every write path.
type brokenBlobs struct {
	*storage.Store
}

func (b *brokenBlobs) Put(data []byte, logicalDir, name, contentType string) (string, error) {
	return "", errors.New("bucket unreachable")
}

func (b *brokenBlobs) PutLocal(data []byte, logicalDir, name, contentType string) (string, error) {
	return "", errors.New("disk full")
}

func newTestRegistry(t *testing.T) *settings.Registry {
	t.Helper()
	r := settings.New(&memSettings{doc: models.DefaultSystemSettings()})
	if err := r.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return r
}

func testSetup(t *testing.T) (*Pipeline, *fakeRepo, *storage.Store, models.Theater) {
	t.Helper()
	theater := models.Theater{
		ID:     primitive.NewObjectID(),
		Name:   "Grand Odeon",
		Active: true,
	}
	repo := &fakeRepo{theaters: map[string]*models.Theater{theater.ID.Hex(): &theater}}
	blobs := storage.New(storage.Config{Root: t.TempDir(), BaseURL: "https://cdn.example.com"})
	p := New(repo, blobs, newTestRegistry(t), "https://menu.example.com")
	return p, repo, blobs, theater
}

func TestGenerateSinglePayloadAndFolder(t *testing.T) {
	p, repo, blobs, theater := testSetup(t)

	artifact, err := p.GenerateSingle(context.Background(), Request{
		TheaterID: theater.ID,
		QRName:    "Main Counter",
	})
	if err != nil {
		t.Fatalf("GenerateSingle failed: %v", err)
	}

	wantPayload := "https://menu.example.com/menu/" + theater.ID.Hex() + "?qrName=Main%20Counter&type=single"
	if artifact.DataPayload != wantPayload {
		t.Errorf("payload = %q, want %q", artifact.DataPayload, wantPayload)
	}
	if !strings.Contains(artifact.ImageLocation, "/uploads/qr-codes/single/Grand_Odeon/") {
		t.Errorf("imageLocation = %q", artifact.ImageLocation)
	}

	// The stored bytes are a decodable PNG (artifact atomicity, read side).
	data, _, err := blobs.Get(artifact.ImageLocation)
	if err != nil {
		t.Fatalf("stored image unreadable: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("stored bytes are not PNG: %v", err)
	}
	if len(repo.artifacts) != 1 {
		t.Errorf("inserted %d rows", len(repo.artifacts))
	}
}

func TestGenerateScreenEncodingAndBatch(t *testing.T) {
	p, _, _, theater := testSetup(t)

	batch, err := p.GenerateScreen(context.Background(), Request{
		TheaterID: theater.ID,
		QRName:    "Screen - 1",
	}, []string{"A1", "B2"})
	if err != nil {
		t.Fatalf("GenerateScreen failed: %v", err)
	}

	if batch.BatchID == "" {
		t.Error("batch id missing")
	}
	if len(batch.Artifacts) != 2 || len(batch.Failed) != 0 {
		t.Fatalf("batch = %+v", batch)
	}

	first := batch.Artifacts[0]
	wantSuffix := "?qrName=Screen%20-%201&seat=A1&type=screen"
	if !strings.HasSuffix(first.DataPayload, wantSuffix) {
		t.Errorf("payload = %q, want suffix %q", first.DataPayload, wantSuffix)
	}
	if !strings.Contains(first.ImageLocation, "/qr-codes/screen/Grand_Odeon/Screen___1/") {
		t.Errorf("imageLocation = %q", first.ImageLocation)
	}
	for _, a := range batch.Artifacts {
		if a.BatchID != batch.BatchID {
			t.Errorf("artifact batch id %q != %q", a.BatchID, batch.BatchID)
		}
	}
}

func TestGenerateSingleFallsBackToLocalWrite(t *testing.T) {
	theater := models.Theater{ID: primitive.NewObjectID(), Name: "Rex"}
	repo := &fakeRepo{theaters: map[string]*models.Theater{theater.ID.Hex(): &theater}}
	real := storage.New(storage.Config{Root: t.TempDir(), BaseURL: "https://cdn.example.com"})
	p := New(repo, &failingRemote{Store: real}, newTestRegistry(t), "https://menu.example.com")

	artifact, err := p.GenerateSingle(context.Background(), Request{TheaterID: theater.ID, QRName: "Main"})
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if !strings.HasPrefix(artifact.ImageLocation, "/uploads/qr-codes/single/") {
		t.Errorf("imageLocation = %q, want local /uploads prefix", artifact.ImageLocation)
	}

	// Round-trips through the local read path.
	data, _, err := real.Get(artifact.ImageLocation)
	if err != nil || len(data) == 0 {
		t.Errorf("local read failed: %v", err)
	}
}

func TestGenerateSingleNoRowWhenBothWritesFail(t *testing.T) {
	theater := models.Theater{ID: primitive.NewObjectID(), Name: "Rex"}
	repo := &fakeRepo{theaters: map[string]*models.Theater{theater.ID.Hex(): &theater}}
	real := storage.New(storage.Config{Root: t.TempDir(), BaseURL: "https://cdn.example.com"})
	p := New(repo, &brokenBlobs{Store: real}, newTestRegistry(t), "https://menu.example.com")

	_, err := p.GenerateSingle(context.Background(), Request{TheaterID: theater.ID, QRName: "Main"})
	if !errors.Is(err, ErrArtifactPersist) {
		t.Fatalf("expected ErrArtifactPersist, got %v", err)
	}
	if len(repo.artifacts) != 0 {
		t.Errorf("row inserted despite persist failure")
	}
}

func TestGenerateScreenBestEffortPerSeat(t *testing.T) {
	p, repo, _, theater := testSetup(t)

	// The row insert fails for every seat; each failure lands in failed[] and
	// the batch keeps going.
	repo.insertErr = errors.New("db down")

	batch, err := p.GenerateScreen(context.Background(), Request{
		TheaterID: theater.ID,
		QRName:    "Screen 2",
	}, []string{"A1", "A2", "A3"})
	if err != nil {
		t.Fatalf("batch should not abort: %v", err)
	}
	if len(batch.Artifacts) != 0 || len(batch.Failed) != 3 {
		t.Errorf("batch = %+v", batch)
	}
	for _, f := range batch.Failed {
		if f.Seat == "" || f.Reason == "" {
			t.Errorf("failure record incomplete: %+v", f)
		}
	}
}

func TestGenerateSingleUnknownTheater(t *testing.T) {
	p, _, _, _ := testSetup(t)
	_, err := p.GenerateSingle(context.Background(), Request{TheaterID: primitive.NewObjectID(), QRName: "Main"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestSanitizeFolder(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Screen - 1", "Screen___1"},
		{"Grand Odeon", "Grand_Odeon"},
		{"plain", "plain"},
		{"", "_"},
		{"a/b\\c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := sanitizeFolder(tt.in); got != tt.want {
			t.Errorf("sanitizeFolder(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeParam(t *testing.T) {
	if got := encodeParam("Screen - 1"); got != "Screen%20-%201" {
		t.Errorf("encodeParam = %q", got)
	}
	if got := encodeParam("a&b=c"); got != "a%26b%3Dc" {
		t.Errorf("encodeParam = %q", got)
	}
}
