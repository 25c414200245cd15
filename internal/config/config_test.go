// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8086 {
		t.Errorf("default server.port = %d, want 8086", cfg.Server.Port)
	}
	if cfg.Mongo.Database != "canteend" {
		t.Errorf("default mongo.database = %q, want canteend", cfg.Mongo.Database)
	}
	if cfg.Mongo.ConnectTimeout != 10*time.Second {
		t.Errorf("default mongo.connect_timeout = %v, want 10s", cfg.Mongo.ConnectTimeout)
	}
	if cfg.Storage.Root != "/data/uploads" {
		t.Errorf("default storage.root = %q", cfg.Storage.Root)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9090\nmongo:\n  database: canteen_test\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090 from file", cfg.Server.Port)
	}
	if cfg.Mongo.Database != "canteen_test" {
		t.Errorf("mongo.database = %q, want canteen_test from file", cfg.Mongo.Database)
	}
	// Unset values keep defaults.
	if cfg.Frontend.BaseURL == "" {
		t.Error("frontend.base_url should keep its default")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CANTEEND_SERVER_PORT", "7001")
	t.Setenv("CANTEEND_MONGO_URI", "mongodb://db.internal:27017")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 7001 {
		t.Errorf("server.port = %d, want 7001 from env", cfg.Server.Port)
	}
	if cfg.Mongo.URI != "mongodb://db.internal:27017" {
		t.Errorf("mongo.uri = %q, want env override", cfg.Mongo.URI)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CANTEEND_SERVER_PORT", "server.port"},
		{"CANTEEND_MONGO_CONNECT_TIMEOUT", "mongo.connect_timeout"},
		{"CANTEEND_STORAGE_BASE_URL", "storage.base_url"},
		{"CANTEEND_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"empty mongo uri", func(c *Config) { c.Mongo.URI = "" }, true},
		{"empty database", func(c *Config) { c.Mongo.Database = "" }, true},
		{"empty storage root", func(c *Config) { c.Storage.Root = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTrimsTrailingSlash(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.BaseURL = "https://cdn.example.com/"
	cfg.Frontend.BaseURL = "https://menu.example.com/"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if cfg.Storage.BaseURL != "https://cdn.example.com" {
		t.Errorf("storage base URL not trimmed: %q", cfg.Storage.BaseURL)
	}
	if cfg.Frontend.BaseURL != "https://menu.example.com" {
		t.Errorf("frontend base URL not trimmed: %q", cfg.Frontend.BaseURL)
	}
}
