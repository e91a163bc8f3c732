// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package usage records every credential access in an append-only ledger and
// summarizes it into per-partner analytics.
package usage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/trustfed/pkg/certificate/scoring"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/storage"
)

const (
	// TopEndpointsLimit caps the endpoints listed in a summary.
	TopEndpointsLimit = 5

	// anomalyMinCalls is the sample size below which no anomaly is flagged.
	anomalyMinCalls = 20
	// failureRatioThreshold flags a client whose calls mostly fail.
	failureRatioThreshold = 0.5
	// userShareThreshold flags a client dominated by one user.
	userShareThreshold = 0.5
)

// Anomaly types.
const (
	AnomalyHighFailureRate     = "high_failure_rate"
	AnomalySingleUserDominance = "single_user_dominance"
)

// Ledger appends and summarizes usage records.
type Ledger struct {
	store storage.UsageStore
	now   func() time.Time
}

// NewLedger creates a ledger over store.
func NewLedger(store storage.UsageStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Record appends rec, assigning an ID and timestamp when unset.
func (l *Ledger) Record(ctx context.Context, rec *storage.UsageRecord) error {
	if rec.ClientID == "" {
		return trusterrors.NewInvalidRequestError("usage record has no client id", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if err := l.store.AppendUsage(ctx, rec); err != nil {
		logger.Errorw("failed to append usage record",
			"client_id", rec.ClientID,
			"endpoint", rec.Endpoint,
			"error", err,
		)
		return err
	}
	return nil
}

// Summary aggregates a client's ledger over [From, To).
type Summary struct {
	ClientID          string          `json:"client_id"`
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	TotalCalls        int             `json:"total_calls"`
	UniqueUsers       int             `json:"unique_users"`
	AverageTrustScore float64         `json:"average_trust_score"`
	AverageLatencyMS  float64         `json:"average_latency_ms"`
	Successes         int             `json:"successes"`
	Failures          int             `json:"failures"`
	TopEndpoints      []EndpointCount `json:"top_endpoints"`
	ErrorCodes        map[string]int  `json:"error_codes,omitempty"`
	Anomalies         []Anomaly       `json:"anomalies"`
}

// EndpointCount is the number of calls made to an endpoint.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Calls    int    `json:"calls"`
}

// Anomaly is a suspicious usage pattern.
type Anomaly struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Summarize aggregates the records of clientID between from and to. A zero
// bound leaves that side of the interval open.
func (l *Ledger) Summarize(ctx context.Context, clientID string, from, to time.Time) (*Summary, error) {
	if clientID == "" {
		return nil, trusterrors.NewInvalidRequestError("client_id is required", nil)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, trusterrors.NewInvalidRequestError("from must be before to", nil)
	}

	records, err := l.store.ListUsage(ctx, storage.UsageFilter{ClientID: clientID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return summarize(clientID, from, to, records), nil
}

func summarize(clientID string, from, to time.Time, records []*storage.UsageRecord) *Summary {
	s := &Summary{
		ClientID:     clientID,
		From:         from,
		To:           to,
		TotalCalls:   len(records),
		TopEndpoints: []EndpointCount{},
		Anomalies:    []Anomaly{},
	}
	if len(records) == 0 {
		return s
	}

	var trustSum float64
	var latencySum time.Duration
	perUser := make(map[string]int)
	perRoute := make(map[string]int)
	for _, r := range records {
		trustSum += r.TrustScore
		latencySum += r.Latency
		perUser[r.UserID]++
		perRoute[r.Endpoint]++
		if r.Success {
			s.Successes++
			continue
		}
		s.Failures++
		if r.ErrorCode != "" {
			if s.ErrorCodes == nil {
				s.ErrorCodes = make(map[string]int)
			}
			s.ErrorCodes[r.ErrorCode]++
		}
	}

	n := float64(len(records))
	s.UniqueUsers = len(perUser)
	s.AverageTrustScore = scoring.Round(trustSum / n)
	s.AverageLatencyMS = scoring.Round(float64(latencySum.Microseconds()) / 1000 / n)

	for endpoint, calls := range perRoute {
		s.TopEndpoints = append(s.TopEndpoints, EndpointCount{Endpoint: endpoint, Calls: calls})
	}
	slices.SortFunc(s.TopEndpoints, func(a, b EndpointCount) int {
		if c := cmp.Compare(b.Calls, a.Calls); c != 0 {
			return c
		}
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})
	if len(s.TopEndpoints) > TopEndpointsLimit {
		s.TopEndpoints = s.TopEndpoints[:TopEndpointsLimit]
	}

	s.Anomalies = detectAnomalies(s, perUser)
	return s
}

func detectAnomalies(s *Summary, perUser map[string]int) []Anomaly {
	anomalies := []Anomaly{}
	if s.TotalCalls < anomalyMinCalls {
		return anomalies
	}

	total := float64(s.TotalCalls)
	if ratio := float64(s.Failures) / total; ratio > failureRatioThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyHighFailureRate,
			Description: fmt.Sprintf("%.0f%% of %d calls failed", ratio*100, s.TotalCalls),
		})
	}

	for _, calls := range perUser {
		if share := float64(calls) / total; share > userShareThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalySingleUserDominance,
				Description: fmt.Sprintf("one user accounts for %.0f%% of %d calls", share*100, s.TotalCalls),
			})
			break
		}
	}
	return anomalies
}
