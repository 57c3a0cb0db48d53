// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/sentinelgate/internal/logging"
)

// requestLogging tags each request with a correlation ID, echoes it in the
// X-Request-ID header, and logs the outcome.
func requestLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := logging.GenerateCorrelationID()
			ctx := logging.ContextWithCorrelationID(r.Context(), id)
			w.Header().Set("X-Request-ID", id)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			logging.Debug().
				Str("correlation_id", id).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
