// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"github.com/stacklok/mcpgw/pkg/gateway"
)

// Labels placed on every gateway-managed container.
const (
	LabelServer    = "mcpgw.server"
	LabelTransport = "mcpgw.transport"
	LabelCreatedBy = "mcpgw.created-by"
	LabelManaged   = "mcpgw"
)

const namePrefix = "mcpgw-"

// Name returns the container name used for serverName.
func Name(serverName string) string {
	return namePrefix + serverName
}

// Labels returns the labels identifying the container of desc.
func Labels(desc *gateway.ServerDescriptor) map[string]string {
	labels := map[string]string{
		LabelManaged:   "true",
		LabelServer:    desc.Name,
		LabelTransport: string(desc.Transport),
	}
	if desc.CreatorID != "" {
		labels[LabelCreatedBy] = desc.CreatorID
	}
	return labels
}

// IsManaged reports whether labels mark a gateway-managed container.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManaged] == "true"
}
