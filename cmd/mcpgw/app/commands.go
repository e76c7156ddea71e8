// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpgw command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcpgw/cmd/mcpgw/app/ui"
	"github.com/stacklok/mcpgw/pkg/gateway/config"
	"github.com/stacklok/mcpgw/pkg/logger"
	"github.com/stacklok/mcpgw/pkg/versions"
)

// NewRootCmd creates a new root command for the mcpgw CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcpgw",
		DisableAutoGenTag: true,
		Short:             "MCP gateway - pooled, permission-checked access to upstream MCP servers",
		Long: `mcpgw fronts a set of upstream MCP (Model Context Protocol) servers with a single
HTTP endpoint. It provides:

- A persistent registry of upstream servers with per-server access roles
- A bounded pool of initialized upstream sessions shared across callers
- Background health checks that evict broken sessions
- A searchable index of the tools every server advertises
- Optional Docker management of containerized servers`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the gateway configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway. Configuration is read from --config when given;
otherwise an in-memory store and the built-in defaults are used.`,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Override the listen address (host:port or unix:///path)")
	if err := viper.BindPFlag("listen", cmd.Flags().Lookup("listen")); err != nil {
		logger.Errorf("Error binding listen flag: %v", err)
	}
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate the gateway configuration file for syntax and semantic errors.

This command checks:
- YAML syntax and unknown keys
- Auth, store, pool and proxy settings
- Every seed server descriptor`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid\n")
			fmt.Fprintf(out, "  Listen:  %s%s\n", cfg.Listen, cfg.BasePath)
			fmt.Fprintf(out, "  Auth:    %s\n", cfg.Auth.Mode)
			fmt.Fprintf(out, "  Store:   %s\n", cfg.Store.Type)
			fmt.Fprintf(out, "  Servers: %d seeded\n", len(cfg.Servers))
			return ui.RenderServerTable(out, cfg.Servers)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "mcpgw %s (commit %s, built %s, %s %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		},
	}
}

// loadConfig reads --config and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if listen := viper.GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gw, err := newGateway(ctx, cfg, nil)
	if err != nil {
		return err
	}
	return gw.run(ctx)
}
