// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

const instrumentationName = "github.com/stacklok/trustfed/pkg/telemetry"

// Attribute keys.
const (
	AttrOutcome   = attribute.Key("outcome")
	AttrGrantType = attribute.Key("grant_type")
	AttrEvent     = attribute.Key("event")
	AttrEndpoint  = attribute.Key("endpoint")
)

// OutcomeSuccess labels operations that returned no error.
const OutcomeSuccess = "success"

// WebhookDurationBuckets are the histogram bounds, in seconds, for webhook
// delivery latency.
var WebhookDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Outcome labels err by its error type, "success" for nil and "error" for
// errors outside the taxonomy.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if t := trusterrors.TypeOf(err); t != "" {
		return t
	}
	return "error"
}

// Metrics holds the domain instruments. A nil *Metrics records nothing.
type Metrics struct {
	authorizations      metric.Int64Counter
	tokenGrants         metric.Int64Counter
	verifications       metric.Int64Counter
	webhookDeliveries   metric.Int64Counter
	webhookDuration     metric.Float64Histogram
	rateLimitRejections metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.authorizations, err = meter.Int64Counter("trustfed.authorizations",
		metric.WithDescription("Authorization requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create authorizations counter: %w", err)
	}

	if m.tokenGrants, err = meter.Int64Counter("trustfed.token.grants",
		metric.WithDescription("Token endpoint grants by grant type and outcome"),
		metric.WithUnit("{grant}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token grants counter: %w", err)
	}

	if m.verifications, err = meter.Int64Counter("trustfed.certificate.verifications",
		metric.WithDescription("Certificate verifications by outcome"),
		metric.WithUnit("{verification}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	if m.webhookDeliveries, err = meter.Int64Counter("trustfed.webhook.deliveries",
		metric.WithDescription("Webhook deliveries by event and outcome"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook deliveries counter: %w", err)
	}

	if m.webhookDuration, err = meter.Float64Histogram("trustfed.webhook.delivery.duration",
		metric.WithDescription("Webhook delivery latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(WebhookDurationBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook duration histogram: %w", err)
	}

	if m.rateLimitRejections, err = meter.Int64Counter("trustfed.ratelimit.rejections",
		metric.WithDescription("Requests rejected by the per-client rate limit"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	return &m, nil
}

// RecordAuthorization counts an authorization request.
func (m *Metrics) RecordAuthorization(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.authorizations.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(Outcome(err))))
}

// RecordTokenGrant counts a token endpoint request.
func (m *Metrics) RecordTokenGrant(ctx context.Context, grantType string, err error) {
	if m == nil {
		return
	}
	m.tokenGrants.Add(ctx, 1, metric.WithAttributes(
		AttrGrantType.String(grantType),
		AttrOutcome.String(Outcome(err)),
	))
}

// RecordVerification counts a certificate verification.
func (m *Metrics) RecordVerification(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(Outcome(err))))
}

// RecordWebhookDelivery counts a delivery attempt and its latency.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, event string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrEvent.String(event), AttrOutcome.String(Outcome(err)))
	m.webhookDeliveries.Add(ctx, 1, attrs)
	m.webhookDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRateLimitRejection counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(AttrEndpoint.String(endpoint)))
}
