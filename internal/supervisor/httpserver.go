// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package supervisor

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/sentinelgate/internal/config"
	"github.com/tomtom215/sentinelgate/internal/logging"
)

// HTTPServer runs the API's http.Server as a supervised service with
// graceful shutdown on context cancellation.
type HTTPServer struct {
	cfg     config.ServerConfig
	handler http.Handler
}

// NewHTTPServer creates the supervised HTTP server service.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *HTTPServer {
	return &HTTPServer{cfg: cfg, handler: handler}
}

// String names the service in supervisor logs.
func (s *HTTPServer) String() string { return "http-server" }

// Serve runs the server until the context is cancelled.
func (s *HTTPServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http shutdown incomplete, closing")
		_ = srv.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
