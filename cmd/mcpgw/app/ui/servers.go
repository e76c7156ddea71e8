// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ui renders command output.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// RenderServerTable writes one row per server descriptor to w.
func RenderServerTable(w io.Writer, servers []gateway.ServerDescriptor) error {
	if len(servers) == 0 {
		_, err := fmt.Fprintln(w, "No seed servers configured.")
		return err
	}

	headers := []string{"Name", "Transport", "Target", "Roles", "Enabled"}
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(tw.MakeAlign(len(headers), tw.AlignLeft)),
	)

	for i := range servers {
		s := &servers[i]
		roles := "-"
		if len(s.RequiredRoles) > 0 {
			roles = strings.Join(s.RequiredRoles, ",")
		}
		enabled := "no"
		if s.Enabled {
			enabled = "yes"
		}
		if err := table.Append([]string{s.Name, string(s.Transport), target(s), roles, enabled}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func target(s *gateway.ServerDescriptor) string {
	switch {
	case s.URL != "":
		return s.URL
	case s.Command != "":
		return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
	default:
		return s.DockerImage
	}
}
