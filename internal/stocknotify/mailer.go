// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package stocknotify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/theaterops/canteend/internal/models"
	"github.com/theaterops/canteend/internal/settings"
)

// Mailer dispatches one message to a recipient list.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer sends plain-text mail through the relay configured in the
// settings registry. Credentials are re-read per send so configuration
// changes apply without a restart.
type SMTPMailer struct {
	registry    *settings.Registry
	dialTimeout time.Duration
}

// NewSMTPMailer creates an SMTPMailer over the settings registry.
func NewSMTPMailer(registry *settings.Registry) *SMTPMailer {
	return &SMTPMailer{
		registry:    registry,
		dialTimeout: 30 * time.Second,
	}
}

// Send delivers one message to every recipient in a single SMTP session.
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	cfg := m.registry.SMTP()
	if cfg.Host == "" {
		return fmt.Errorf("stocknotify: smtp relay not configured")
	}

	msg := buildMessage(cfg, to, subject, body)
	return m.sendSMTP(ctx, cfg, to, msg)
}

func buildMessage(cfg models.SMTPSettings, to []string, subject, body string) string {
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "Canteend"
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, cfg.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return msg.String()
}

func (m *SMTPMailer) sendSMTP(ctx context.Context, cfg models.SMTPSettings, to []string, msg string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := &net.Dialer{Timeout: m.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("stocknotify: connecting to relay: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fmt.Errorf("stocknotify: smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("stocknotify: starting TLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("stocknotify: smtp auth: %w", err)
		}
	}

	if err := client.Mail(cfg.FromAddress); err != nil {
		return fmt.Errorf("stocknotify: setting sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("stocknotify: recipient %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("stocknotify: starting message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("stocknotify: writing message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("stocknotify: closing message: %w", err)
	}

	// A failed QUIT after an accepted DATA is not a delivery failure.
	_ = client.Quit()
	return nil
}
