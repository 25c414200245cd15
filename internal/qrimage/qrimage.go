// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package qrimage renders QR code artifacts as layered PNG compositions:
// background, QR matrix, logo plate, logo, banner and caption texts.
package qrimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // decoder for logo and banner bytes
	"image/png"
	"strings"

	"github.com/fogleman/gg"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/font/basicfont"

	"github.com/theaterops/canteend/internal/logging"
)

// ErrPayloadTooLarge is returned when the payload does not fit a QR code at
// error-correction level H. No raster work happens in that case.
var ErrPayloadTooLarge = errors.New("qrimage: payload too large for EC level H")

// Canvas selects the fixed layout.
type Canvas int

const (
	CanvasPortrait Canvas = iota
	CanvasLandscape
)

// Portrait layout dimensions. The canvas grows downward from a fixed width.
const (
	portraitWidth  = 280
	portraitQRSize = 240
	portraitMargin = 20
	captionLine    = 18
	bannerHeight   = 80
)

// Landscape layout dimensions: title row on top, QR row in the middle with the
// banner to the right, caption row at the bottom.
const (
	landscapeWidth  = 520
	landscapeQRSize = 220
	landscapeTopRow = 40
	landscapeBottom = 60
	landscapeGutter = 20
)

// plateRatio sizes the white circular logo plate relative to the QR side.
const plateRatio = 0.30

// Captions are the optional text lines drawn under or beside the QR.
type Captions struct {
	Title    string
	Subtitle string
	Footer   string
}

// Spec describes one composition.
type Spec struct {
	// Payload is encoded into the QR matrix at EC level H.
	Payload string

	Canvas Canvas

	// QRColor and Background are #RRGGBB hex strings; empty means black on
	// white.
	QRColor    string
	Background string

	// Logo, when decodable, renders centred over the QR on a white circular
	// plate. Banner is a full-width (portrait) or right-hand (landscape)
	// illustration.
	Logo   []byte
	Banner []byte

	Captions    Captions
	TheaterName string
}

// Compose renders the spec to PNG bytes.
func Compose(spec Spec) ([]byte, error) {
	qrFG := parseHexColor(spec.QRColor, color.Black)
	qrBG := parseHexColor(spec.Background, color.White)

	qr, err := qrcode.New(spec.Payload, qrcode.Highest)
	if err != nil {
		if strings.Contains(err.Error(), "too long") {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(spec.Payload))
		}
		return nil, fmt.Errorf("qrimage: encoding payload: %w", err)
	}
	qr.ForegroundColor = qrFG
	qr.BackgroundColor = qrBG

	switch spec.Canvas {
	case CanvasLandscape:
		return composeLandscape(spec, qr, qrBG)
	default:
		return composePortrait(spec, qr, qrBG)
	}
}

func composePortrait(spec Spec, qr *qrcode.QRCode, bg color.Color) ([]byte, error) {
	lines := captionLines(spec)
	height := portraitMargin + portraitQRSize + portraitMargin
	if len(spec.Banner) > 0 {
		height += bannerHeight
	}
	height += len(lines)*captionLine + portraitMargin

	dc := gg.NewContext(portraitWidth, height)
	dc.SetColor(bg)
	dc.Clear()

	qrX := float64(portraitWidth-portraitQRSize) / 2
	qrY := float64(portraitMargin)
	drawQRWithLogo(dc, qr, spec.Logo, qrX, qrY, portraitQRSize)

	y := qrY + portraitQRSize + portraitMargin
	if len(spec.Banner) > 0 {
		drawBanner(dc, spec.Banner, 0, y, portraitWidth, bannerHeight)
		y += bannerHeight
	}

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.Black)
	for _, line := range lines {
		dc.DrawStringAnchored(line, portraitWidth/2, y+captionLine/2, 0.5, 0.5)
		y += captionLine
	}

	return encodePNG(dc.Image())
}

func composeLandscape(spec Spec, qr *qrcode.QRCode, bg color.Color) ([]byte, error) {
	height := landscapeTopRow + landscapeQRSize + landscapeBottom
	dc := gg.NewContext(landscapeWidth, height)
	dc.SetColor(bg)
	dc.Clear()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.Black)
	title := spec.Captions.Title
	if title == "" {
		title = spec.TheaterName
	}
	if title != "" {
		dc.DrawStringAnchored(title, landscapeWidth/2, landscapeTopRow/2, 0.5, 0.5)
	}

	qrX := float64(landscapeGutter)
	qrY := float64(landscapeTopRow)
	drawQRWithLogo(dc, qr, spec.Logo, qrX, qrY, landscapeQRSize)

	if len(spec.Banner) > 0 {
		bx := qrX + landscapeQRSize + landscapeGutter
		bw := landscapeWidth - bx - landscapeGutter
		drawBanner(dc, spec.Banner, bx, qrY, bw, landscapeQRSize)
	}

	dc.SetColor(color.Black)
	bottomY := float64(landscapeTopRow + landscapeQRSize)
	y := bottomY + captionLine
	for _, line := range []string{spec.Captions.Subtitle, spec.Captions.Footer} {
		if line == "" {
			continue
		}
		dc.DrawStringAnchored(line, landscapeWidth/2, y, 0.5, 0.5)
		y += captionLine
	}

	return encodePNG(dc.Image())
}

// drawQRWithLogo draws the QR matrix, then the white circular plate and the
// clipped logo on top of it. An undecodable logo is logged and skipped.
func drawQRWithLogo(dc *gg.Context, qr *qrcode.QRCode, logo []byte, x, y float64, size int) {
	dc.DrawImage(qr.Image(size), int(x), int(y))

	if len(logo) == 0 {
		return
	}
	img, _, err := image.Decode(bytes.NewReader(logo))
	if err != nil {
		lg := logging.Component("qrimage")
		lg.Warn().Err(err).Msg("logo undecodable, composing without it")
		return
	}

	cx := x + float64(size)/2
	cy := y + float64(size)/2
	plateR := float64(size) * plateRatio / 2

	dc.SetColor(color.White)
	dc.DrawCircle(cx, cy, plateR)
	dc.Fill()

	// Clip one pixel inside the plate so the logo never bleeds over its edge.
	clipR := plateR - 1
	dc.Push()
	dc.DrawCircle(cx, cy, clipR)
	dc.Clip()

	b := img.Bounds()
	scale := 2 * clipR / float64(maxInt(b.Dx(), b.Dy()))
	dc.Translate(cx-scale*float64(b.Dx())/2, cy-scale*float64(b.Dy())/2)
	dc.Scale(scale, scale)
	dc.DrawImage(img, 0, 0)
	dc.Pop()
}

// drawBanner scales the banner into the given box, skipping it when the bytes
// do not decode.
func drawBanner(dc *gg.Context, banner []byte, x, y, w, h float64) {
	img, _, err := image.Decode(bytes.NewReader(banner))
	if err != nil {
		lg := logging.Component("qrimage")
		lg.Warn().Err(err).Msg("banner undecodable, composing without it")
		return
	}
	b := img.Bounds()
	sx := w / float64(b.Dx())
	sy := h / float64(b.Dy())
	dc.Push()
	dc.Translate(x, y)
	dc.Scale(sx, sy)
	dc.DrawImage(img, 0, 0)
	dc.Pop()
}

func captionLines(spec Spec) []string {
	var lines []string
	for _, s := range []string{spec.Captions.Title, spec.Captions.Subtitle, spec.TheaterName, spec.Captions.Footer} {
		if s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// parseHexColor parses #RRGGBB (the leading # is optional) and falls back on
// any malformed input.
func parseHexColor(s string, fallback color.Color) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return fallback
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return fallback
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qrimage: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
