// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

func TestRenderServerTable(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, RenderServerTable(&buf, nil))
		assert.Equal(t, "No seed servers configured.\n", buf.String())
	})

	t.Run("rows", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		err := RenderServerTable(&buf, []gateway.ServerDescriptor{
			{
				Name:          "search",
				Transport:     gateway.TransportStreamableHTTP,
				URL:           "http://search.internal/mcp",
				RequiredRoles: []string{"ops", "member"},
				Enabled:       true,
			},
			{
				Name:      "fs",
				Transport: gateway.TransportStdio,
				Command:   "npx",
				Args:      []string{"-y", "server-fs"},
			},
		})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "search")
		assert.Contains(t, out, "http://search.internal/mcp")
		assert.Contains(t, out, "ops,member")
		assert.Contains(t, out, "npx -y server-fs")
		assert.Contains(t, out, "yes")
		assert.Contains(t, out, "no")
	})
}
