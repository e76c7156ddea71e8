// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the gateway over HTTP: the MCP proxy under the base
// path, the admin REST API under /api/v1, plus health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	v1 "github.com/stacklok/mcpgw/pkg/api/v1"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/telemetry"
)

const (
	// middlewareTimeout bounds admin API requests. Proxied requests carry
	// their own deadline.
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
	socketPermissions = 0660 // Socket file permissions (owner/group read-write)
	unixPrefix        = "unix://"
)

// Options configures the HTTP surface.
type Options struct {
	// Address is a TCP address, or unix:///path/to/socket.
	Address string
	// BasePath is where Proxy is mounted.
	BasePath string
	// Auth authenticates proxy and admin API requests.
	Auth func(http.Handler) http.Handler
	// Proxy serves MCP requests.
	Proxy http.Handler
	// API holds the admin API collaborators.
	API v1.Deps
	// Metrics, when set, is served unauthenticated at MetricsPath.
	Metrics     http.Handler
	MetricsPath string
	// TracerProvider, when set, traces every request.
	TracerProvider trace.TracerProvider
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the gateway handler.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Auth == nil {
		return nil, errors.New("authentication middleware is required")
	}
	if opts.Proxy == nil || opts.API.Store == nil {
		return nil, errors.New("proxy and store are required")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	if opts.TracerProvider != nil {
		r.Use(telemetry.HTTPMiddleware(opts.TracerProvider))
	}

	r.Mount("/health", v1.HealthcheckRouter(opts.API.Store))
	if opts.Metrics != nil {
		r.Handle(opts.MetricsPath, opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(opts.Auth)
		r.With(middleware.Timeout(middlewareTimeout), headersMiddleware).
			Mount("/api/v1", v1.Router(opts.API))
		r.Mount(opts.BasePath, opts.Proxy)
	})
	return r, nil
}

func setupListener(address string) (net.Listener, bool, error) {
	path, isUnix := strings.CutPrefix(address, unixPrefix)
	if !isUnix {
		l, err := net.Listen("tcp", address)
		return l, false, err
	}

	// Remove the socket file if it already exists
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, true, fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, true, fmt.Errorf("failed to create socket directory: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, true, fmt.Errorf("failed to create UNIX socket listener: %w", err)
	}
	// Allow other local processes to connect
	if err := os.Chmod(path, socketPermissions); err != nil {
		_ = l.Close()
		return nil, true, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return l, true, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. It is assumed that the caller sets up signal handling.
func Serve(ctx context.Context, opts Options) error {
	handler, err := NewRouter(opts)
	if err != nil {
		return err
	}

	listener, isUnix, err := setupListener(opts.Address)
	if err != nil {
		return err
	}
	if isUnix {
		defer func() {
			path := strings.TrimPrefix(opts.Address, unixPrefix)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warnf("failed to remove socket file: %v", err)
			}
		}()
	}

	srv := &http.Server{
		// In-flight requests survive ctx so Shutdown can drain them.
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	logger.Infow("gateway listening", "address", listener.Addr().String(), "base_path", opts.BasePath)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("gateway server stopped")
	return nil
}
