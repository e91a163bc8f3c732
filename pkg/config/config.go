// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the trust federation server
// configuration and the logic required to load and validate it.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Storage types.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Directory types.
const (
	DirectoryStatic = "static"
	DirectoryHTTP   = "http"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a duration string.
// This ensures duration values are serialized as "30s", "1m", etc. instead of nanosecond integers.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the server configuration.
type Config struct {
	// Issuer is the iss claim of certificates and the OAuth issuer.
	Issuer string `json:"issuer" yaml:"issuer"`

	// AdminToken guards partner lifecycle and cross-partner analytics.
	// Leaving it empty disables the admin API.
	AdminToken string `json:"admin_token,omitempty" yaml:"admin_token,omitempty"`

	Server      ServerConfig      `json:"server" yaml:"server"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Redis       RedisConfig       `json:"redis,omitempty" yaml:"redis,omitempty"`
	Signing     SigningConfig     `json:"signing,omitempty" yaml:"signing,omitempty"`
	Tokens      TokensConfig      `json:"tokens" yaml:"tokens"`
	OAuth       OAuthConfig       `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	Certificate CertificateConfig `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	Webhooks    WebhooksConfig    `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
	Directory   DirectoryConfig   `json:"directory" yaml:"directory"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address            string `json:"address" yaml:"address"`
	MaxRequestBodySize int64  `json:"max_request_body_size,omitempty" yaml:"max_request_body_size,omitempty"`
}

// StorageConfig selects the datastore.
type StorageConfig struct {
	// Type is memory, sqlite or postgres.
	Type string `json:"type" yaml:"type"`
	// DSN is the SQLite path or PostgreSQL connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// CleanupInterval is how often expired codes and tokens are reclaimed.
	CleanupInterval Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
}

// RedisConfig enables the shared rate limiter when Address is set.
type RedisConfig struct {
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// SigningConfig locates the certificate signing keys. Without a key
// directory an ephemeral key is generated.
type SigningConfig struct {
	KeyDir           string   `json:"key_dir,omitempty" yaml:"key_dir,omitempty"`
	SigningKeyFile   string   `json:"signing_key_file,omitempty" yaml:"signing_key_file,omitempty"`
	FallbackKeyFiles []string `json:"fallback_key_files,omitempty" yaml:"fallback_key_files,omitempty"`
}

// TokensConfig holds the secret that authorization codes and tokens are
// signed with.
type TokensConfig struct {
	HMACSecretFile string `json:"hmac_secret_file" yaml:"hmac_secret_file"`
}

// OAuthConfig overrides grant lifespans.
type OAuthConfig struct {
	AuthCodeLifespan     Duration `json:"auth_code_lifespan,omitempty" yaml:"auth_code_lifespan,omitempty"`
	AccessTokenLifespan  Duration `json:"access_token_lifespan,omitempty" yaml:"access_token_lifespan,omitempty"`
	RefreshTokenLifespan Duration `json:"refresh_token_lifespan,omitempty" yaml:"refresh_token_lifespan,omitempty"`
	ConsentLifespan      Duration `json:"consent_lifespan,omitempty" yaml:"consent_lifespan,omitempty"`
}

// CertificateConfig tunes issued certificates.
type CertificateConfig struct {
	Validity          Duration `json:"validity,omitempty" yaml:"validity,omitempty"`
	AnonymizeSubjects *bool    `json:"anonymize_subjects,omitempty" yaml:"anonymize_subjects,omitempty"`
	DefaultThresholds []int    `json:"default_thresholds,omitempty" yaml:"default_thresholds,omitempty"`
}

// WebhooksConfig tunes webhook delivery.
type WebhooksConfig struct {
	Timeout     Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxFailures int      `json:"max_failures,omitempty" yaml:"max_failures,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	// AllowInsecure permits plain http endpoints.
	// WARNING: This should only be used for development/testing.
	AllowInsecure bool `json:"allow_insecure,omitempty" yaml:"allow_insecure,omitempty"`
}

// DirectoryConfig selects where trust profiles are read from.
type DirectoryConfig struct {
	// Type is static (a YAML file) or http (the directory API).
	Type         string   `json:"type" yaml:"type"`
	File         string   `json:"file,omitempty" yaml:"file,omitempty"`
	URL          string   `json:"url,omitempty" yaml:"url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Timeout      Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	MetricsEnabled        *bool             `json:"metrics_enabled,omitempty" yaml:"metrics_enabled,omitempty"`
	IncludeRuntimeMetrics bool              `json:"include_runtime_metrics,omitempty" yaml:"include_runtime_metrics,omitempty"`
	Endpoint              string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Headers               map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	TracingEnabled        bool              `json:"tracing_enabled,omitempty" yaml:"tracing_enabled,omitempty"`
	SamplingRate          float64           `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty"`
}

// Enabled reports whether an optional boolean is set, falling back to def.
func Enabled(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
