// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stacklok/trustfed/cmd/trustfed/app/ui"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/config"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/storage"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

func newPartnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partner",
		Short: "Manage partner applications",
		Long: `Manage partner applications directly against the configured storage.

These commands require a persistent storage backend (sqlite or postgres).`,
	}

	cmd.AddCommand(newPartnerListCmd())
	cmd.AddCommand(newPartnerTransitionCmd("approve", "Approve a pending or suspended partner", (*authserver.Server).ApprovePartner))
	cmd.AddCommand(newPartnerTransitionCmd("suspend", "Suspend an active partner", (*authserver.Server).SuspendPartner))
	cmd.AddCommand(newPartnerTransitionCmd("revoke", "Revoke a partner and all of its tokens", (*authserver.Server).RevokePartner))
	cmd.AddCommand(newPartnerRotateSecretCmd())

	return cmd
}

func newPartnerListCmd() *cobra.Command {
	var (
		status string
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List partner applications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := storage.PartnerStatus(status)
			if status != "" && !filter.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withAuthServer(cmd.Context(), func(ctx context.Context, auth *authserver.Server) error {
				partners, err := auth.ListPartners(ctx, filter)
				if err != nil {
					return err
				}
				if format == FormatJSON {
					return printJSON(cmd.OutOrStdout(), partners)
				}
				return ui.RenderPartnersTable(cmd.OutOrStdout(), partners)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only list partners in this status (pending, active, suspended, revoked)")
	cmd.Flags().StringVar(&format, "format", FormatText, "Output format (json or text)")

	return cmd
}

type transitionFunc func(*authserver.Server, context.Context, string) (*storage.PartnerApplication, error)

func newPartnerTransitionCmd(use, short string, transition transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CLIENT_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthServer(cmd.Context(), func(ctx context.Context, auth *authserver.Server) error {
				partner, err := transition(auth, ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Partner %s (%s) is now %s\n", partner.ID, partner.Name, partner.Status)
				return nil
			})
		},
	}
}

func newPartnerRotateSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-secret CLIENT_ID",
		Short: "Issue a new client secret, invalidating the old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthServer(cmd.Context(), func(ctx context.Context, auth *authserver.Server) error {
				rotated, err := auth.RotateClientSecret(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Client ID:     %s\n", rotated.Partner.ID)
				fmt.Fprintf(out, "Client secret: %s\n", rotated.ClientSecret)
				fmt.Fprintln(out, "Store the secret now, it cannot be shown again.")
				return nil
			})
		},
	}
}

// withAuthServer builds the services from the loaded configuration, runs fn
// and releases them.
func withAuthServer(ctx context.Context, fn func(context.Context, *authserver.Server) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Type == config.StorageMemory {
		return fmt.Errorf("storage type %q keeps no state between runs, configure sqlite or postgres", cfg.Storage.Type)
	}

	svc, err := buildServices(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("Error releasing resources: %v", err)
		}
	}()
	return fn(ctx, svc.auth)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
