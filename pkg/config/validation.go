// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	neturl "net/url"

	"github.com/stacklok/trustfed/pkg/zkp"
)

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Issuer == "" {
		add("issuer is required")
	} else if err := validateURL(c.Issuer); err != nil {
		add("issuer: %w", err)
	}
	if c.Server.Address == "" {
		add("server.address is required")
	}
	if c.Server.MaxRequestBodySize < 0 {
		add("server.max_request_body_size must be non-negative")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageSQLite, StoragePostgres:
		if c.Storage.DSN == "" {
			add("storage.dsn is required for %s storage", c.Storage.Type)
		}
	default:
		add("storage.type must be one of %s, %s, %s; got %q",
			StorageMemory, StorageSQLite, StoragePostgres, c.Storage.Type)
	}
	if c.Storage.CleanupInterval < 0 {
		add("storage.cleanup_interval must be non-negative")
	}

	if c.Signing.KeyDir != "" && c.Signing.SigningKeyFile == "" {
		add("signing.signing_key_file is required when signing.key_dir is set")
	}
	if c.Signing.KeyDir == "" && (c.Signing.SigningKeyFile != "" || len(c.Signing.FallbackKeyFiles) > 0) {
		add("signing.key_dir is required when key files are configured")
	}

	if c.Tokens.HMACSecretFile == "" {
		add("tokens.hmac_secret_file is required")
	}

	for name, d := range map[string]Duration{
		"oauth.auth_code_lifespan":     c.OAuth.AuthCodeLifespan,
		"oauth.access_token_lifespan":  c.OAuth.AccessTokenLifespan,
		"oauth.refresh_token_lifespan": c.OAuth.RefreshTokenLifespan,
		"oauth.consent_lifespan":       c.OAuth.ConsentLifespan,
		"certificate.validity":         c.Certificate.Validity,
		"webhooks.timeout":             c.Webhooks.Timeout,
		"directory.timeout":            c.Directory.Timeout,
	} {
		if d < 0 {
			add("%s must be non-negative", name)
		}
	}

	for _, t := range c.Certificate.DefaultThresholds {
		if t < 0 || t > zkp.MaxValue {
			add("certificate.default_thresholds: %d is outside 0-%d", t, zkp.MaxValue)
		}
	}

	if c.Webhooks.MaxFailures < 0 {
		add("webhooks.max_failures must be non-negative")
	}
	if c.Webhooks.Concurrency < 0 {
		add("webhooks.concurrency must be non-negative")
	}

	switch c.Directory.Type {
	case DirectoryStatic:
		if c.Directory.File == "" {
			add("directory.file is required for static directory")
		}
	case DirectoryHTTP:
		if err := validateURL(c.Directory.URL); err != nil {
			add("directory.url: %w", err)
		}
		if c.Directory.TokenURL != "" {
			if err := validateURL(c.Directory.TokenURL); err != nil {
				add("directory.token_url: %w", err)
			}
			if c.Directory.ClientID == "" || c.Directory.ClientSecret == "" {
				add("directory.client_id and directory.client_secret are required with directory.token_url")
			}
		}
	default:
		add("directory.type must be %s or %s; got %q", DirectoryStatic, DirectoryHTTP, c.Directory.Type)
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		add("telemetry.sampling_rate must be between 0.0 and 1.0")
	}
	if c.Telemetry.TracingEnabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint is required when tracing is enabled")
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := neturl.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
