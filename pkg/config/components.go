// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/directory"
	"github.com/stacklok/trustfed/pkg/ratelimit"
	"github.com/stacklok/trustfed/pkg/telemetry"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// AuthServerConfig returns the authorization server settings.
func (c *Config) AuthServerConfig() authserver.Config {
	return authserver.Config{
		Issuer:               c.Issuer,
		AuthCodeLifespan:     time.Duration(c.OAuth.AuthCodeLifespan),
		AccessTokenLifespan:  time.Duration(c.OAuth.AccessTokenLifespan),
		RefreshTokenLifespan: time.Duration(c.OAuth.RefreshTokenLifespan),
		ConsentLifespan:      time.Duration(c.OAuth.ConsentLifespan),
		DefaultThresholds:    c.Certificate.DefaultThresholds,
	}
}

// KeysConfig returns the signing key settings.
func (c *Config) KeysConfig() keys.Config {
	return keys.Config{
		KeyDir:           c.Signing.KeyDir,
		SigningKeyFile:   c.Signing.SigningKeyFile,
		FallbackKeyFiles: c.Signing.FallbackKeyFiles,
	}
}

// WebhookConfig returns the dispatcher settings.
func (c *Config) WebhookConfig() webhook.Config {
	return webhook.Config{
		Timeout:       time.Duration(c.Webhooks.Timeout),
		MaxFailures:   c.Webhooks.MaxFailures,
		Concurrency:   c.Webhooks.Concurrency,
		AllowInsecure: c.Webhooks.AllowInsecure,
	}
}

// RedisConfig returns the shared rate limiter settings and whether Redis
// is configured at all.
func (c *Config) RedisConfig() (ratelimit.RedisConfig, bool) {
	return ratelimit.RedisConfig{
		Address:   c.Redis.Address,
		Username:  c.Redis.Username,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		KeyPrefix: c.Redis.KeyPrefix,
	}, c.Redis.Address != ""
}

// DirectoryHTTPConfig returns the directory API client settings.
func (c *Config) DirectoryHTTPConfig() directory.HTTPConfig {
	return directory.HTTPConfig{
		BaseURL:      c.Directory.URL,
		TokenURL:     c.Directory.TokenURL,
		ClientID:     c.Directory.ClientID,
		ClientSecret: c.Directory.ClientSecret,
		Scopes:       c.Directory.Scopes,
		Timeout:      time.Duration(c.Directory.Timeout),
		MaxRetries:   c.Directory.MaxRetries,
	}
}

// TelemetryConfig returns the OpenTelemetry settings.
func (c *Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.MetricsEnabled = Enabled(c.Telemetry.MetricsEnabled, true)
	cfg.IncludeRuntimeMetrics = c.Telemetry.IncludeRuntimeMetrics
	cfg.Endpoint = c.Telemetry.Endpoint
	cfg.Headers = c.Telemetry.Headers
	cfg.TracingEnabled = c.Telemetry.TracingEnabled
	cfg.SamplingRate = c.Telemetry.SamplingRate
	return cfg
}
