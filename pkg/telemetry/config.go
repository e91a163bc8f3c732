// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/trustfed/pkg/versions"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the service name for telemetry
	ServiceName string

	// ServiceVersion is the service version for telemetry
	ServiceVersion string

	// MetricsEnabled exposes a Prometheus /metrics handler
	MetricsEnabled bool

	// IncludeRuntimeMetrics adds Go runtime and process collectors to /metrics
	IncludeRuntimeMetrics bool

	// Endpoint is an OTLP/HTTP collector URL. Metrics are pushed there when
	// set, and traces too when TracingEnabled is true.
	Endpoint string

	// Headers are sent with every OTLP export request
	Headers map[string]string

	// TracingEnabled controls whether spans are exported to Endpoint
	TracingEnabled bool

	// SamplingRate is the trace sampling rate (0.0-1.0)
	SamplingRate float64
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "trustfed",
		ServiceVersion: versions.GetVersionInfo().Version,
		MetricsEnabled: true,
		SamplingRate:   0.05,
	}
}

// Provider encapsulates OpenTelemetry providers and the domain instruments.
type Provider struct {
	meterProvider     metric.MeterProvider
	tracerProvider    trace.TracerProvider
	prometheusHandler http.Handler
	metrics           *Metrics
	shutdown          []func(context.Context) error
}

// NewProvider builds the providers described by config and installs them as
// the global OpenTelemetry providers.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	p := &Provider{tracerProvider: noop.NewTracerProvider()}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if config.MetricsEnabled {
		reader, handler, err := newPrometheusReader(config.IncludeRuntimeMetrics)
		if err != nil {
			return nil, err
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
		p.prometheusHandler = handler
	}

	if config.Endpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(config.Endpoint),
			otlpmetrichttp.WithHeaders(config.Headers),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))

		if config.TracingEnabled {
			traceExporter, err := otlptracehttp.New(ctx,
				otlptracehttp.WithEndpointURL(config.Endpoint),
				otlptracehttp.WithHeaders(config.Headers),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithResource(res),
				sdktrace.WithBatcher(traceExporter),
				sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
			)
			p.tracerProvider = tp
			p.shutdown = append(p.shutdown, tp.Shutdown)
		}
	}

	mp := sdkmetric.NewMeterProvider(meterOpts...)
	p.meterProvider = mp
	p.shutdown = append(p.shutdown, mp.Shutdown)

	p.metrics, err = NewMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

func newPrometheusReader(includeRuntime bool) (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()
	if includeRuntime {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MeterProvider returns the configured meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// TracerProvider returns the configured tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// PrometheusHandler returns the /metrics handler, or nil when metrics are
// disabled.
func (p *Provider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Metrics returns the domain instruments.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

func validateConfig(config Config) error {
	if config.ServiceName == "" {
		return fmt.Errorf("telemetry service name is required")
	}
	if config.SamplingRate < 0 || config.SamplingRate > 1 {
		return fmt.Errorf("sampling rate %v must be between 0 and 1", config.SamplingRate)
	}
	if config.TracingEnabled && config.Endpoint == "" {
		return fmt.Errorf("tracing requires an OTLP endpoint")
	}
	return nil
}
