// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"dario.cat/mergo"

	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/ratelimit"
	"github.com/stacklok/trustfed/pkg/webhook"
)

const (
	defaultAddress            = ":8080"
	defaultMaxRequestBodySize = 1 << 20
	defaultCleanupInterval    = 5 * time.Minute
	defaultSamplingRate       = 0.05
)

// Default returns a fully populated configuration with default values.
// Issuer and the token secret have no defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:            defaultAddress,
			MaxRequestBodySize: defaultMaxRequestBodySize,
		},
		Storage: StorageConfig{
			Type:            StorageMemory,
			CleanupInterval: Duration(defaultCleanupInterval),
		},
		Redis: RedisConfig{
			KeyPrefix: ratelimit.DefaultKeyPrefix,
		},
		OAuth: OAuthConfig{
			AuthCodeLifespan:     Duration(authserver.DefaultAuthCodeLifespan),
			AccessTokenLifespan:  Duration(authserver.DefaultAccessTokenLifespan),
			RefreshTokenLifespan: Duration(authserver.DefaultRefreshTokenLifespan),
			ConsentLifespan:      Duration(authserver.DefaultConsentLifespan),
		},
		Certificate: CertificateConfig{
			Validity:          Duration(certificate.DefaultValidity),
			AnonymizeSubjects: ptr(true),
			DefaultThresholds: []int{50, 70, 90},
		},
		Webhooks: WebhooksConfig{
			Timeout:     Duration(webhook.DefaultTimeout),
			MaxFailures: webhook.DefaultMaxFailures,
			Concurrency: webhook.DefaultConcurrency,
		},
		Directory: DirectoryConfig{
			Type: DirectoryStatic,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: ptr(true),
			SamplingRate:   defaultSamplingRate,
		},
	}
}

// ApplyDefaults fills every zero or nil field of c with its default.
// User-provided values are preserved, including explicit false for the
// optional booleans.
func (c *Config) ApplyDefaults() error {
	return mergo.Merge(c, Default(), mergo.WithoutDereference)
}

func ptr[T any](v T) *T {
	return &v
}
