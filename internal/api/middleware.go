// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/theaterops/canteend/internal/logging"
)

// RequestLogging emits one structured line per request.
func RequestLogging() func(http.Handler) http.Handler {
	logger := logging.Component("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}
