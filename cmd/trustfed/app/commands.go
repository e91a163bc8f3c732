// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the trustfed command-line application.
package app

import (
	"fmt"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/trustfed/pkg/config"
	"github.com/stacklok/trustfed/pkg/logger"
)

// NewRootCmd creates a new root command for the trustfed CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "trustfed",
		DisableAutoGenTag: true,
		Short:             "Trust federation server - share verified trust scores with partner applications",
		Long: `trustfed lets partner applications obtain signed, privacy-preserving trust
certificates about users with the users' consent. It provides:

- Partner registration and lifecycle management
- An OAuth 2.0 authorization code flow with consent and trust gating
- Signed trust certificates with zero-knowledge threshold proofs
- Webhook notifications and per-partner usage analytics`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the trustfed configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}
	viper.SetEnvPrefix("TRUSTFED")
	if err := viper.BindEnv("config"); err != nil {
		logger.Errorf("Error binding config environment variable: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newPartnerCmd())
	rootCmd.AddCommand(newAnalyticsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// defaultConfigFile is looked up in the XDG config directories when no
// configuration file is named explicitly.
const defaultConfigFile = "trustfed/config.yaml"

// loadConfig loads the file named by --config or TRUSTFED_CONFIG, falling
// back to $XDG_CONFIG_HOME/trustfed/config.yaml.
func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		path, err := xdg.SearchConfigFile(defaultConfigFile)
		if err != nil {
			return nil, fmt.Errorf("no configuration file specified, use --config flag or create %s", defaultConfigFile)
		}
		configPath = path
	}

	logger.Debugf("Loading configuration from: %s", configPath)
	cfg, err := config.NewYAMLLoader(configPath, &env.OSReader{}).Load()
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, nil
}
