// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/storage"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	return NewLedger(store)
}

func record(t *testing.T, l *Ledger, clientID, userID, endpoint string, success bool, offset time.Duration) {
	t.Helper()
	rec := &storage.UsageRecord{
		ClientID:   clientID,
		UserID:     userID,
		Endpoint:   endpoint,
		TrustScore: 60,
		Latency:    20 * time.Millisecond,
		Success:    success,
		Timestamp:  base.Add(offset),
	}
	if !success {
		rec.ErrorCode = "invalid_grant"
	}
	require.NoError(t, l.Record(context.Background(), rec))
}

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	l.now = func() time.Time { return base }

	rec := &storage.UsageRecord{ClientID: "c1", UserID: "u1", Endpoint: "/oauth/userinfo", Success: true}
	require.NoError(t, l.Record(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, base, rec.Timestamp)

	err := l.Record(context.Background(), &storage.UsageRecord{})
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	record(t, l, "c1", "u1", "/oauth/userinfo", true, 0)
	record(t, l, "c1", "u2", "/oauth/userinfo", true, time.Minute)
	record(t, l, "c1", "u2", "/oauth/token", false, 2*time.Minute)
	record(t, l, "c2", "u3", "/oauth/userinfo", true, 3*time.Minute)
	record(t, l, "c1", "u1", "/oauth/userinfo", true, 2*time.Hour)

	s, err := l.Summarize(context.Background(), "c1", base, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, s.TotalCalls)
	assert.Equal(t, 2, s.UniqueUsers)
	assert.Equal(t, 2, s.Successes)
	assert.Equal(t, 1, s.Failures)
	assert.InDelta(t, 60, s.AverageTrustScore, 0.001)
	assert.InDelta(t, 20, s.AverageLatencyMS, 0.001)
	assert.Equal(t, []EndpointCount{
		{Endpoint: "/oauth/userinfo", Calls: 2},
		{Endpoint: "/oauth/token", Calls: 1},
	}, s.TopEndpoints)
	assert.Equal(t, map[string]int{"invalid_grant": 1}, s.ErrorCodes)
	assert.Empty(t, s.Anomalies)
}

func TestSummarize_EmptyWindow(t *testing.T) {
	t.Parallel()

	s, err := newLedger(t).Summarize(context.Background(), "c1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, s.TotalCalls)
	assert.NotNil(t, s.TopEndpoints)
	assert.NotNil(t, s.Anomalies)
}

func TestSummarize_InvalidInput(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	_, err := l.Summarize(context.Background(), "", base, base.Add(time.Hour))
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)

	_, err = l.Summarize(context.Background(), "c1", base, base)
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)
}

func TestSummarize_Anomalies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		calls    int
		failures int
		users    int
		want     []string
	}{
		{name: "too few calls", calls: 19, failures: 19, users: 1, want: nil},
		{name: "failure ratio exactly half", calls: 20, failures: 10, users: 20, want: nil},
		{name: "mostly failing", calls: 20, failures: 11, users: 20, want: []string{AnomalyHighFailureRate}},
		{name: "dominated by one user", calls: 20, failures: 0, users: 1, want: []string{AnomalySingleUserDominance}},
		{name: "both", calls: 30, failures: 30, users: 1, want: []string{AnomalyHighFailureRate, AnomalySingleUserDominance}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := newLedger(t)
			for i := range tt.calls {
				user := fmt.Sprintf("u%d", i%tt.users)
				record(t, l, "c1", user, "/oauth/userinfo", i >= tt.failures, time.Duration(i)*time.Second)
			}

			s, err := l.Summarize(context.Background(), "c1", time.Time{}, time.Time{})
			require.NoError(t, err)

			var got []string
			for _, a := range s.Anomalies {
				got = append(got, a.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarize_TopEndpointsCapped(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	for i := range TopEndpointsLimit + 2 {
		for j := 0; j <= i; j++ {
			record(t, l, "c1", "u1", fmt.Sprintf("/e%d", i), true, time.Duration(i*10+j)*time.Second)
		}
	}

	s, err := l.Summarize(context.Background(), "c1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, s.TopEndpoints, TopEndpointsLimit)
	assert.Equal(t, "/e6", s.TopEndpoints[0].Endpoint)
	assert.Equal(t, 7, s.TopEndpoints[0].Calls)
}
