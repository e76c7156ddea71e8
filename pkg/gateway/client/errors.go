// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// wrapUpstreamError classifies err with a gateway sentinel while keeping the
// original error in the chain.
func wrapUpstreamError(err error, server, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: failed to %s on %s (timeout): %w", gateway.ErrTimeout, operation, server, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to %s on %s (cancelled): %w", operation, server, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: failed to %s on %s (timeout): %w", gateway.ErrTimeout, operation, server, err)
	}

	return fmt.Errorf("%w: failed to %s on %s: %w", gateway.ErrUpstreamUnavailable, operation, server, err)
}
