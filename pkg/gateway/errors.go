// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Domain errors shared across the gateway subpackages. They carry the HTTP
// status used by the admin API and should be checked using errors.Is().
var (
	// ErrValidation indicates a malformed server descriptor. Rejected before any state change.
	ErrValidation = httperr.WithCode(errors.New("invalid server descriptor"), http.StatusBadRequest)

	// ErrNotFound indicates a reference to an unknown server or connection.
	ErrNotFound = httperr.WithCode(errors.New("not found"), http.StatusNotFound)

	// ErrPermissionDenied indicates the caller failed the access check.
	ErrPermissionDenied = httperr.WithCode(errors.New("permission denied"), http.StatusForbidden)

	// ErrUnknownServer is returned by the pool when the server has no descriptor or is disabled.
	ErrUnknownServer = httperr.WithCode(errors.New("unknown server"), http.StatusNotFound)

	// ErrUpstreamUnavailable is returned when an upstream session could not be established
	// or broke while forwarding.
	ErrUpstreamUnavailable = httperr.WithCode(errors.New("upstream unavailable"), http.StatusServiceUnavailable)

	// ErrPoolExhausted is returned when the connection cap is reached, nothing is idle and
	// the acquire timeout elapsed.
	ErrPoolExhausted = httperr.WithCode(errors.New("connection pool exhausted"), http.StatusServiceUnavailable)

	// ErrPoolClosed is returned by acquisitions after the pool was shut down.
	ErrPoolClosed = httperr.WithCode(errors.New("connection pool closed"), http.StatusServiceUnavailable)

	// ErrTimeout indicates the overall request deadline expired.
	ErrTimeout = httperr.WithCode(errors.New("operation timed out"), http.StatusGatewayTimeout)

	// ErrHealthCheckFailed marks a failed probe. It is handled inside the pool and
	// health checker and never returned to proxied callers.
	ErrHealthCheckFailed = errors.New("health check failed")
)
