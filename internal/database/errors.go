// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Kind classifies a database failure for retry decisions. Classification
// happens at exactly one boundary (this file); callers never match on error
// message strings.
type Kind int

const (
	// KindTransient failures are retried inside Execute and never escape it
	// until the retry budget is exhausted.
	KindTransient Kind = iota

	// KindNotReady means the connection is not in the connected state. Callers
	// should AwaitReady and try again.
	KindNotReady

	// KindPermanent failures (auth, invalid query, schema violation) surface
	// to the caller immediately.
	KindPermanent
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotReady:
		return "not_ready"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error wraps a driver error with its classification and the logical query name.
type Error struct {
	Kind  Kind
	Query string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("database: %s query %q: %v", e.Kind, e.Query, e.Err)
}

// Unwrap supports errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// ErrNotReady is returned when the database handle is not connected.
var ErrNotReady = errors.New("database: connection not ready")

// ErrReadyTimeout is returned when AwaitReady exhausts its wait budget.
var ErrReadyTimeout = errors.New("database: readiness wait timed out")

// transientMarkers are driver error fragments that indicate a retryable
// network-level condition. The "connection force closed" case covers the race
// where the driver reports connected moments before a forced close.
var transientMarkers = []string{
	"connection force closed",
	"server selection error",
	"connection refused",
	"connection reset",
	"broken pipe",
	"socket was unexpectedly closed",
	"i/o timeout",
	"no reachable servers",
	"EOF",
}

// permanentMarkers indicate failures no retry can fix.
var permanentMarkers = []string{
	"auth error",
	"authentication failed",
	"unauthorized",
	"not authorized",
	"document failed validation",
	"unknown operator",
	"invalid namespace",
}

// Classify maps an arbitrary error onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}

	if errors.Is(err, ErrNotReady) || errors.Is(err, mongo.ErrClientDisconnected) {
		return KindNotReady
	}

	msg := err.Error()
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return KindPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return KindTransient
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindTransient
		}
	}

	if mongo.IsDuplicateKeyError(err) {
		return KindPermanent
	}

	return KindPermanent
}

// isDNSClassFailure detects SRV/DNS resolution failures, which get a longer
// reconnect backoff cap than ordinary network errors.
func isDNSClassFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "ETIMEOUT") || strings.Contains(msg, "querySrv")
}
