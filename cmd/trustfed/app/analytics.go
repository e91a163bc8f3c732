// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/trustfed/cmd/trustfed/app/ui"
	"github.com/stacklok/trustfed/pkg/authserver"
)

const defaultAnalyticsWindow = 24 * time.Hour

func newAnalyticsCmd() *cobra.Command {
	var (
		from   string
		to     string
		format string
	)

	cmd := &cobra.Command{
		Use:   "analytics CLIENT_ID",
		Short: "Summarize a partner's API usage",
		Long: `Summarize the calls a partner made over a time window, including unique
users, success rate, latency, top endpoints and anomalies.

The window defaults to the last 24 hours. Bounds are RFC 3339 timestamps.`,
		Example: `  trustfed analytics 7f6c... --from 2025-01-01T00:00:00Z --to 2025-01-02T00:00:00Z`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseWindow(from, to, time.Now().UTC())
			if err != nil {
				return err
			}
			return withAuthServer(cmd.Context(), func(ctx context.Context, auth *authserver.Server) error {
				summary, err := auth.Ledger().Summarize(ctx, args[0], start, end)
				if err != nil {
					return err
				}
				if format == FormatJSON {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				return ui.RenderUsageSummary(cmd.OutOrStdout(), summary)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start of the window (RFC 3339, default 24h before --to)")
	cmd.Flags().StringVar(&to, "to", "", "End of the window (RFC 3339, default now)")
	cmd.Flags().StringVar(&format, "format", FormatText, "Output format (json or text)")

	return cmd
}

// parseWindow resolves the analytics window. An empty end means now and an
// empty start means one day before end.
func parseWindow(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := now
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.Add(-defaultAnalyticsWindow)
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return start, end, nil
}
