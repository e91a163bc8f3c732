// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry for the trust federation server: a
// meter provider exposed through a Prometheus /metrics handler, optional
// OTLP export of metrics and traces, and the domain instruments recorded by
// the authorization server, certificate verification, webhook dispatch and
// rate limiting.
package telemetry
