// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"time"

	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/zkp"
)

const (
	// DefaultAuthCodeLifespan is how long an authorization code can be exchanged.
	DefaultAuthCodeLifespan = 10 * time.Minute

	// DefaultAccessTokenLifespan is how long an access token is accepted.
	DefaultAccessTokenLifespan = time.Hour

	// DefaultRefreshTokenLifespan is how long a refresh token can be rotated.
	DefaultRefreshTokenLifespan = 30 * 24 * time.Hour

	// DefaultConsentLifespan is how long a consent grant suppresses the
	// consent screen.
	DefaultConsentLifespan = 90 * 24 * time.Hour
)

// Config is the configuration of the authorization server.
type Config struct {
	// Issuer identifies this server. It is recorded in issued certificates
	// by the certificate engine and reported in discovery responses.
	Issuer string

	// AuthCodeLifespan is the duration authorization codes are valid.
	// If zero, defaults to 10 minutes.
	AuthCodeLifespan time.Duration

	// AccessTokenLifespan is the duration access tokens are valid.
	// If zero, defaults to 1 hour.
	AccessTokenLifespan time.Duration

	// RefreshTokenLifespan is the duration refresh tokens are valid.
	// If zero, defaults to 30 days.
	RefreshTokenLifespan time.Duration

	// ConsentLifespan is the duration a consent grant is valid.
	// If zero, defaults to 90 days.
	ConsentLifespan time.Duration

	// DefaultThresholds are proven when a certificate request names none.
	DefaultThresholds []int
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	for name, d := range map[string]time.Duration{
		"auth code lifespan":     c.AuthCodeLifespan,
		"access token lifespan":  c.AccessTokenLifespan,
		"refresh token lifespan": c.RefreshTokenLifespan,
		"consent lifespan":       c.ConsentLifespan,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	for _, t := range c.DefaultThresholds {
		if t < 0 || t > zkp.MaxValue {
			return fmt.Errorf("default threshold %d is outside 0..%d", t, zkp.MaxValue)
		}
	}
	return nil
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() {
	if c.AuthCodeLifespan == 0 {
		c.AuthCodeLifespan = DefaultAuthCodeLifespan
		logger.Debugw("applied default auth code lifespan", "duration", c.AuthCodeLifespan)
	}
	if c.AccessTokenLifespan == 0 {
		c.AccessTokenLifespan = DefaultAccessTokenLifespan
		logger.Debugw("applied default access token lifespan", "duration", c.AccessTokenLifespan)
	}
	if c.RefreshTokenLifespan == 0 {
		c.RefreshTokenLifespan = DefaultRefreshTokenLifespan
		logger.Debugw("applied default refresh token lifespan", "duration", c.RefreshTokenLifespan)
	}
	if c.ConsentLifespan == 0 {
		c.ConsentLifespan = DefaultConsentLifespan
		logger.Debugw("applied default consent lifespan", "duration", c.ConsentLifespan)
	}
}
