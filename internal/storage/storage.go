// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package storage stores byte blobs on the local VPS filesystem, addressed by
// logical forward-slash paths and rendered as external URLs.
package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/theaterops/canteend/internal/logging"
)

// ErrStorageUnavailable is returned by Put when the storage root could not be
// initialised. Callers may degrade (the QR pipeline falls back to a plain
// local write).
var ErrStorageUnavailable = errors.New("storage: root unavailable")

// ErrUnsupportedURL is returned by Get for URL forms it does not understand.
var ErrUnsupportedURL = errors.New("storage: unsupported url form")

// bootstrapDirs are created under the root on startup.
var bootstrapDirs = []string{
	"general/images",
	"products",
	"theater-documents",
	"settings/audio",
	"printer-setup/files",
	"qr-codes/single",
	"qr-codes/screen",
}

// gsPublicBase maps gs:// bucket URLs onto their public HTTPS equivalent.
const gsPublicBase = "https://storage.googleapis.com/"

// Store is the local-filesystem blob store.
type Store struct {
	root    string
	baseURL string
	logger  zerolog.Logger
	initErr error

	// httpGet is a hook point for tests.
	httpGet func(url string) (*http.Response, error)
}

// Config holds storage settings.
type Config struct {
	// Root is the directory under which all uploads live.
	Root string

	// BaseURL is the external prefix; stored URLs render as
	// {BaseURL}/uploads/{logical-path}/{filename}.
	BaseURL string
}

// New creates a Store and bootstraps the upload tree. A failed bootstrap is
// remembered: Put returns ErrStorageUnavailable until Init succeeds.
func New(cfg Config) *Store {
	s := &Store{
		root:    filepath.Clean(cfg.Root),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logging.Component("storage"),
		httpGet: http.Get,
	}
	s.initErr = s.Init()
	return s
}

// Init ensures the root and the fixed subdirectory set exist.
func (s *Store) Init() error {
	for _, dir := range bootstrapDirs {
		full := filepath.Join(s.root, filepath.FromSlash(dir))
		if err := os.MkdirAll(full, 0o755); err != nil {
			s.initErr = fmt.Errorf("storage: creating %s: %w", dir, err)
			return s.initErr
		}
	}
	s.initErr = nil
	return nil
}

// Put stores data under the logical directory and returns the external URL.
// The filename gets a millisecond timestamp suffix to avoid collisions; a name
// without an extension gets one derived from the contentType hint.
func (s *Store) Put(data []byte, logicalDir, name, contentType string) (string, error) {
	rel, err := s.write(data, logicalDir, name, contentType)
	if err != nil {
		return "", err
	}
	return s.baseURL + rel, nil
}

// PutLocal stores data like Put but returns the relative /uploads/... path.
// Used as the degraded target when a remote upload fails.
func (s *Store) PutLocal(data []byte, logicalDir, name, contentType string) (string, error) {
	return s.write(data, logicalDir, name, contentType)
}

// PutFromFile reads a local file and stores it under the logical directory.
func (s *Store) PutFromFile(localPath, logicalDir string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("storage: reading %s: %w", localPath, err)
	}
	name := filepath.Base(localPath)
	return s.Put(data, logicalDir, name, mime.TypeByExtension(filepath.Ext(localPath)))
}

func (s *Store) write(data []byte, logicalDir, name, contentType string) (string, error) {
	if s.initErr != nil {
		return "", ErrStorageUnavailable
	}

	logicalDir = strings.Trim(path.Clean("/"+logicalDir), "/")
	filename := timestampName(name, contentType)

	dir := filepath.Join(s.root, filepath.FromSlash(logicalDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: creating %s: %w", logicalDir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: writing %s/%s: %w", logicalDir, filename, err)
	}
	return "/uploads/" + logicalDir + "/" + filename, nil
}

// timestampName slugs the base name and appends the millisecond timestamp
// before the extension: menu.png -> menu-1736498400123.png. When the name
// carries no extension, one is derived from the contentType hint so Get can
// infer the type back from the stored path.
func timestampName(name, contentType string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" && contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	if slug == "" {
		slug = "file"
	}
	return fmt.Sprintf("%s-%d%s", slug, time.Now().UnixMilli(), ext)
}

// Get fetches the bytes and mime type behind a stored URL. Three forms are
// understood: absolute HTTP(S), gs:// (mapped to its public HTTPS equivalent),
// and relative /uploads/... paths resolved against the root.
func (s *Store) Get(url string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(url, "gs://"):
		return s.fetch(gsPublicBase + strings.TrimPrefix(url, "gs://"))
	case s.baseURL != "" && strings.HasPrefix(url, s.baseURL+"/uploads/"):
		return s.readLocal(strings.TrimPrefix(url, s.baseURL))
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return s.fetch(url)
	case strings.HasPrefix(url, "/uploads/"):
		return s.readLocal(url)
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
	}
}

func (s *Store) fetch(url string) ([]byte, string, error) {
	resp, err := s.httpGet(url)
	if err != nil {
		return nil, "", fmt.Errorf("storage: fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("storage: fetching %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("storage: reading %s: %w", url, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (s *Store) readLocal(rel string) ([]byte, string, error) {
	local, err := s.resolve(rel)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, "", fmt.Errorf("storage: reading %s: %w", rel, err)
	}
	return data, mime.TypeByExtension(path.Ext(rel)), nil
}

// Delete removes the blob behind a URL. A missing file is success; data: URLs
// are silent no-ops. A URL resolving outside the root is refused.
func (s *Store) Delete(url string) error {
	if strings.HasPrefix(url, "data:") {
		return nil
	}

	rel := url
	if s.baseURL != "" && strings.HasPrefix(url, s.baseURL+"/uploads/") {
		rel = strings.TrimPrefix(url, s.baseURL)
	}
	if !strings.HasPrefix(rel, "/uploads/") {
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
	}

	local, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: deleting %s: %w", rel, err)
	}
	return nil
}

// DeleteMany deletes a batch of URLs and returns how many calls succeeded.
func (s *Store) DeleteMany(urls []string) int {
	count := 0
	for _, url := range urls {
		if err := s.Delete(url); err != nil {
			s.logger.Warn().Err(err).Str("url", url).Msg("delete failed")
			continue
		}
		count++
	}
	return count
}

// resolve maps a /uploads/... path onto the filesystem and guards against
// traversal: the normalised result must stay under the root.
func (s *Store) resolve(rel string) (string, error) {
	trimmed := strings.TrimPrefix(rel, "/uploads/")
	local := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(trimmed)))
	if local != s.root && !strings.HasPrefix(local, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path %q escapes root", rel)
	}
	return local, nil
}
