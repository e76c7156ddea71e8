// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway holds the domain types shared by the gateway subpackages:
// server descriptors, the permission model and the sentinel errors.
//
// The subpackages build the gateway around them:
//
//   - pool: bounded set of long-lived upstream MCP sessions
//   - client: mcp-go backed sessions dialed by the pool
//   - identity: identity header rewriting for proxied requests
//   - health: scheduled and on-demand probing of pooled sessions
//   - proxy: the single external endpoint routing to mounted servers
//   - toolindex: searchable snapshot of the tools of all mounted servers
//   - lifecycle: store hooks keeping pool, proxy and index in sync
//   - catalog: import of server descriptors from catalog documents
//   - config: gateway configuration loading and validation
package gateway
