// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ui renders CLI output tables.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/usage"
)

func newTable(w io.Writer, headers []string) *tablewriter.Table {
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
	return table
}

func render(table *tablewriter.Table, rows [][]string) error {
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

// RenderPartnersTable renders partner applications sorted by name.
func RenderPartnersTable(w io.Writer, partners []*storage.PartnerApplication) error {
	if len(partners) == 0 {
		_, err := fmt.Fprintln(w, "No partner applications found.")
		return err
	}

	sort.Slice(partners, func(i, j int) bool {
		return partners[i].Name < partners[j].Name
	})

	rows := make([][]string, 0, len(partners))
	for _, p := range partners {
		rows = append(rows, []string{
			p.ID,
			p.Name,
			string(p.Status),
			strconv.Itoa(p.MinTrustRequired),
			strings.Join(p.Scopes, " "),
			strconv.Itoa(p.RateLimitPerHour),
			p.CreatedAt.Format(time.RFC3339),
		})
	}
	table := newTable(w, []string{"Client ID", "Name", "Status", "Min Trust", "Scopes", "Rate/h", "Created"})
	return render(table, rows)
}

// RenderUsageSummary renders the totals of a usage summary followed by its
// top endpoints and any detected anomalies.
func RenderUsageSummary(w io.Writer, s *usage.Summary) error {
	fmt.Fprintf(w, "Client: %s\n", s.ClientID)
	fmt.Fprintf(w, "Window: %s - %s\n\n", s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))

	totals := newTable(w, []string{"Metric", "Value"})
	if err := render(totals, [][]string{
		{"Total calls", strconv.Itoa(s.TotalCalls)},
		{"Unique users", strconv.Itoa(s.UniqueUsers)},
		{"Successes", strconv.Itoa(s.Successes)},
		{"Failures", strconv.Itoa(s.Failures)},
		{"Average trust score", strconv.FormatFloat(s.AverageTrustScore, 'f', 2, 64)},
		{"Average latency (ms)", strconv.FormatFloat(s.AverageLatencyMS, 'f', 2, 64)},
	}); err != nil {
		return err
	}

	if len(s.TopEndpoints) > 0 {
		rows := make([][]string, 0, len(s.TopEndpoints))
		for _, e := range s.TopEndpoints {
			rows = append(rows, []string{e.Endpoint, strconv.Itoa(e.Calls)})
		}
		if err := render(newTable(w, []string{"Endpoint", "Calls"}), rows); err != nil {
			return err
		}
	}

	if len(s.ErrorCodes) > 0 {
		codes := make([]string, 0, len(s.ErrorCodes))
		for code := range s.ErrorCodes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		rows := make([][]string, 0, len(codes))
		for _, code := range codes {
			rows = append(rows, []string{code, strconv.Itoa(s.ErrorCodes[code])})
		}
		if err := render(newTable(w, []string{"Error", "Count"}), rows); err != nil {
			return err
		}
	}

	for _, a := range s.Anomalies {
		fmt.Fprintf(w, "⚠️  %s: %s\n", a.Type, a.Description)
	}
	return nil
}
