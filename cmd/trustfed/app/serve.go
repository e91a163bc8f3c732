// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/trustfed/pkg/api"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the trust federation API server",
		Long:  `Starts the trust federation API server and listens for HTTP requests until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			// Ensure server is shutdown gracefully on Ctrl+C.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := buildServices(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer closeCancel()
				if err := svc.Close(closeCtx); err != nil {
					logger.Warnf("Error releasing resources: %v", err)
				}
			}()

			go runCleanup(ctx, svc.auth, time.Duration(cfg.Storage.CleanupInterval))

			logger.Infow("starting trust federation server",
				"address", cfg.Server.Address,
				"issuer", cfg.Issuer,
				"storage", cfg.Storage.Type,
			)
			return api.Serve(ctx, api.Config{
				Address:            cfg.Server.Address,
				AdminToken:         cfg.AdminToken,
				MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
			}, api.Services{
				Auth:     svc.auth,
				Webhooks: svc.dispatcher,
				Keys:     svc.keys,
				Metrics:  svc.telemetry.PrometheusHandler(),
			})
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Address to listen on, overriding server.address")

	return cmd
}

// runCleanup reclaims expired grants until ctx is done.
func runCleanup(ctx context.Context, auth *authserver.Server, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := auth.Cleanup(ctx); err != nil {
				logger.Warnf("Expired grant cleanup failed: %v", err)
			}
		}
	}
}
