// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package qrartifact turns theater QR requests into stored PNG artifacts and
// their database rows.
package qrartifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/theaterops/canteend/internal/logging"
	"github.com/theaterops/canteend/internal/metrics"
	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/qrimage"
	"github.com/theaterops/canteend/internal/settings"
)

// ErrArtifactPersist is returned when neither the remote put nor the local
// fallback write landed. No row is inserted in that case.
var ErrArtifactPersist = errors.New("qrartifact: could not persist artifact bytes")

// folderChars replaces anything outside the safe set when building logical
// storage folders: "Screen - 1" becomes "Screen___1".
var folderChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Repository is the slice of the store the pipeline needs.
type Repository interface {
	TheaterByID(ctx context.Context, id primitive.ObjectID) (*models.Theater, error)
	InsertQRArtifact(ctx context.Context, artifact *models.QRArtifact) error
}

// Blobs is the slice of the storage layer the pipeline needs.
type Blobs interface {
	Put(data []byte, logicalDir, name, contentType string) (string, error)
	PutLocal(data []byte, logicalDir, name, contentType string) (string, error)
	Get(url string) ([]byte, string, error)
}

// Request carries the caller-supplied artifact parameters.
type Request struct {
	TheaterID primitive.ObjectID
	QRName    string
	SeatClass string
	// LogoRef optionally overrides the theater and branding logos.
	LogoRef string
}

// ScreenBatch is the result of a best-effort screen generation.
type ScreenBatch struct {
	BatchID   string              `json:"batchId"`
	Artifacts []models.QRArtifact `json:"artifacts"`
	Failed    []SeatFailure       `json:"failed"`
}

// SeatFailure records one seat the batch could not generate.
type SeatFailure struct {
	Seat   string `json:"seat"`
	Reason string `json:"reason"`
}

// Pipeline generates QR artifacts.
type Pipeline struct {
	repo         Repository
	blobs        Blobs
	registry     *settings.Registry
	frontendBase string
	logger       zerolog.Logger
}

// New creates a Pipeline. frontendBase is the public menu origin embedded in
// every payload URL.
func New(repo Repository, blobs Blobs, registry *settings.Registry, frontendBase string) *Pipeline {
	return &Pipeline{
		repo:         repo,
		blobs:        blobs,
		registry:     registry,
		frontendBase: frontendBase,
		logger:       logging.Component("qrartifact"),
	}
}

// GenerateSingle produces one theater-wide artifact.
func (p *Pipeline) GenerateSingle(ctx context.Context, req Request) (*models.QRArtifact, error) {
	theater, err := p.repo.TheaterByID(ctx, req.TheaterID)
	if err != nil {
		return nil, fmt.Errorf("qrartifact: loading theater: %w", err)
	}

	artifact, err := p.generateOne(ctx, theater, req, models.QRKindSingle, "", "")
	if err != nil {
		metrics.ArtifactsGenerated.WithLabelValues(models.QRKindSingle, "error").Inc()
		return nil, err
	}
	metrics.ArtifactsGenerated.WithLabelValues(models.QRKindSingle, "ok").Inc()
	return artifact, nil
}

// GenerateScreen produces one artifact per seat. A seat failure is recorded
// and the batch continues; the batch id ties the run's rows together.
func (p *Pipeline) GenerateScreen(ctx context.Context, req Request, seats []string) (*ScreenBatch, error) {
	theater, err := p.repo.TheaterByID(ctx, req.TheaterID)
	if err != nil {
		return nil, fmt.Errorf("qrartifact: loading theater: %w", err)
	}

	batch := &ScreenBatch{BatchID: uuid.NewString()}
	for _, seat := range seats {
		artifact, err := p.generateOne(ctx, theater, req, models.QRKindScreen, seat, batch.BatchID)
		if err != nil {
			metrics.ArtifactsGenerated.WithLabelValues(models.QRKindScreen, "error").Inc()
			p.logger.Warn().Err(err).
				Str("theater", theater.Name).
				Str("seat", seat).
				Msg("screen artifact failed, continuing batch")
			batch.Failed = append(batch.Failed, SeatFailure{Seat: seat, Reason: err.Error()})
			continue
		}
		metrics.ArtifactsGenerated.WithLabelValues(models.QRKindScreen, "ok").Inc()
		batch.Artifacts = append(batch.Artifacts, *artifact)
	}
	return batch, nil
}

func (p *Pipeline) generateOne(ctx context.Context, theater *models.Theater, req Request, kind, seat, batchID string) (*models.QRArtifact, error) {
	payload := p.payloadURL(theater.ID.Hex(), req.QRName, seat, kind)

	branding := p.registry.Branding()
	spec := qrimage.Spec{
		Payload:     payload,
		Canvas:      canvasFor(kind),
		Logo:        p.resolveLogo(req.LogoRef, theater, branding),
		Captions:    qrimage.Captions{Title: req.QRName, Subtitle: seat, Footer: branding.AppName},
		TheaterName: theater.Name,
	}
	if branding.QRBackgroundURL != "" {
		if bg, _, err := p.blobs.Get(branding.QRBackgroundURL); err == nil {
			spec.Banner = bg
		} else {
			p.logger.Warn().Err(err).Msg("qr background unavailable")
		}
	}

	data, err := qrimage.Compose(spec)
	if err != nil {
		return nil, fmt.Errorf("qrartifact: rendering: %w", err)
	}

	folder := "qr-codes/" + kind + "/" + sanitizeFolder(theater.Name)
	if kind == models.QRKindScreen {
		folder += "/" + sanitizeFolder(req.QRName)
	}
	name := sanitizeFolder(req.QRName)
	if seat != "" {
		name += "-" + sanitizeFolder(seat)
	}
	name += ".png"

	// Bytes land before the row: a reachable row always has reachable bytes.
	storedURL, err := p.blobs.Put(data, folder, name, "image/png")
	if err != nil {
		p.logger.Warn().Err(err).Str("folder", folder).Msg("remote put failed, trying local fallback")
		metrics.StorageFallbacks.Inc()
		storedURL, err = p.blobs.PutLocal(data, folder, name, "image/png")
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrArtifactPersist, err)
		}
	}

	artifact := &models.QRArtifact{
		TheaterID:     theater.ID,
		Kind:          kind,
		QRName:        req.QRName,
		SeatClass:     req.SeatClass,
		Seat:          seat,
		BatchID:       batchID,
		ImageLocation: storedURL,
		DataPayload:   payload,
		LogoLocation:  req.LogoRef,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.repo.InsertQRArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("qrartifact: recording artifact: %w", err)
	}
	return artifact, nil
}

// payloadURL builds the public menu URL the QR encodes. qrName and seat are
// percent-encoded; seat is omitted for single artifacts.
func (p *Pipeline) payloadURL(theaterID, qrName, seat, kind string) string {
	u := p.frontendBase + "/menu/" + theaterID + "?qrName=" + encodeParam(qrName)
	if seat != "" {
		u += "&seat=" + encodeParam(seat)
	}
	return u + "&type=" + kind
}

// encodeParam percent-encodes a query value, with spaces as %20 rather than +.
func encodeParam(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// resolveLogo walks the precedence chain: explicit ref, theater logo, system
// default, none. A fetch failure moves on to the next source.
func (p *Pipeline) resolveLogo(explicit string, theater *models.Theater, branding models.BrandingSettings) []byte {
	for _, ref := range []string{explicit, theater.LogoURL, branding.LogoURL} {
		if ref == "" {
			continue
		}
		data, _, err := p.blobs.Get(ref)
		if err != nil {
			p.logger.Warn().Err(err).Str("ref", ref).Msg("logo unavailable, trying next source")
			continue
		}
		return data
	}
	return nil
}

func canvasFor(kind string) qrimage.Canvas {
	if kind == models.QRKindScreen {
		return qrimage.CanvasLandscape
	}
	return qrimage.CanvasPortrait
}

// sanitizeFolder maps a display name onto a safe storage path segment.
func sanitizeFolder(s string) string {
	out := folderChars.ReplaceAllString(s, "_")
	if out == "" {
		return "_"
	}
	return out
}
