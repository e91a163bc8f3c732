// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterValue(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, trusterrors.TypeInvalidGrant, Outcome(trusterrors.NewInvalidGrantError("used")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAuthorization(ctx, nil)
	m.RecordAuthorization(ctx, nil)
	m.RecordAuthorization(ctx, trusterrors.ErrInsufficientTrust)
	m.RecordTokenGrant(ctx, "authorization_code", nil)
	m.RecordTokenGrant(ctx, "refresh_token", trusterrors.ErrInvalidGrant)
	m.RecordVerification(ctx, trusterrors.ErrInvalidSignature)
	m.RecordWebhookDelivery(ctx, "credential.issued", 150*time.Millisecond, nil)
	m.RecordRateLimitRejection(ctx, "/oauth/userinfo")

	got := collect(t, reader)

	assert.Equal(t, int64(2), counterValue(t, got["trustfed.authorizations"], AttrOutcome.String(OutcomeSuccess)))
	assert.Equal(t, int64(1), counterValue(t, got["trustfed.authorizations"], AttrOutcome.String("insufficient_trust")))
	assert.Equal(t, int64(1), counterValue(t, got["trustfed.token.grants"],
		AttrGrantType.String("refresh_token"), AttrOutcome.String("invalid_grant")))
	assert.Equal(t, int64(1), counterValue(t, got["trustfed.certificate.verifications"], AttrOutcome.String("invalid_signature")))
	assert.Equal(t, int64(1), counterValue(t, got["trustfed.webhook.deliveries"],
		AttrEvent.String("credential.issued"), AttrOutcome.String(OutcomeSuccess)))
	assert.Equal(t, int64(1), counterValue(t, got["trustfed.ratelimit.rejections"], AttrEndpoint.String("/oauth/userinfo")))

	hist, ok := got["trustfed.webhook.delivery.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthorization(context.Background(), nil)
		m.RecordTokenGrant(context.Background(), "authorization_code", nil)
		m.RecordVerification(context.Background(), nil)
		m.RecordWebhookDelivery(context.Background(), "x", time.Second, nil)
		m.RecordRateLimitRejection(context.Background(), "/x")
	})
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "default", config: DefaultConfig()},
		{name: "missing service name", config: Config{}, wantErr: "service name"},
		{name: "bad sampling rate", config: Config{ServiceName: "x", SamplingRate: 2}, wantErr: "sampling rate"},
		{name: "tracing without endpoint", config: Config{ServiceName: "x", TracingEnabled: true}, wantErr: "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateConfig(tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPrometheusReader(t *testing.T) {
	t.Parallel()

	reader, handler, err := newPrometheusReader(true)
	require.NoError(t, err)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	m.RecordAuthorization(context.Background(), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trustfed_authorizations")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(context.Background(), Config{ServiceName: "trustfed-test", MetricsEnabled: true})
	require.NoError(t, err)

	assert.NotNil(t, p.PrometheusHandler())
	assert.NotNil(t, p.Metrics())
	assert.NotNil(t, p.MeterProvider())
	assert.NotNil(t, p.TracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))

	disabled, err := NewProvider(context.Background(), Config{ServiceName: "trustfed-test"})
	require.NoError(t, err)
	assert.Nil(t, disabled.PrometheusHandler())
	assert.NoError(t, disabled.Shutdown(context.Background()))
}
