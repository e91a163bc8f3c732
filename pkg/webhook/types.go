// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package webhook delivers signed event notifications to partner endpoints.
//
// Deliveries are at-most-once: a failed delivery is counted against the
// subscription and never retried, and partners reconcile missed events by
// polling. A subscription is deactivated after MaxFailures consecutive
// failures and stays inactive until the partner reactivates it.
package webhook

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

// APIVersion is the version of the event payload format.
const APIVersion = "v1"

// DefaultTimeout is the default timeout for a single delivery.
const DefaultTimeout = 10 * time.Second

// MaxTimeout is the maximum allowed delivery timeout.
const MaxTimeout = 30 * time.Second

// DefaultMaxFailures is the number of consecutive failures that deactivates
// a subscription.
const DefaultMaxFailures = 10

// DefaultConcurrency bounds the deliveries of one dispatch in flight at once.
const DefaultConcurrency = 16

// MaxResponseSize is the number of response bytes read before the
// connection is released (1 MB).
const MaxResponseSize = 1 << 20

// EventType names an event partners can subscribe to.
type EventType string

const (
	// EventCredentialIssued is sent when a token pair is issued.
	EventCredentialIssued EventType = "credential.issued"
	// EventCredentialRevoked is sent when tokens are revoked.
	EventCredentialRevoked EventType = "credential.revoked"
	// EventScoreUpdated is sent when a user's trust score changes. The
	// directory owns scores and relays changes through the admin events route.
	EventScoreUpdated EventType = "score.updated"
	// EventConsentRevoked is sent when a user withdraws consent.
	EventConsentRevoked EventType = "consent.revoked"
	// EventPartnerStatusChanged is sent when a partner is approved,
	// suspended or revoked.
	EventPartnerStatusChanged EventType = "partner.status_changed"
)

var allEvents = []EventType{
	EventCredentialIssued,
	EventCredentialRevoked,
	EventScoreUpdated,
	EventConsentRevoked,
	EventPartnerStatusChanged,
}

// AllEvents returns every event type.
func AllEvents() []EventType {
	return slices.Clone(allEvents)
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	return slices.Contains(allEvents, e)
}

// Event is the JSON body of a delivery.
type Event struct {
	// ID identifies the event; retries of the same event would reuse it.
	ID string `json:"id"`
	// Type is the event type.
	Type EventType `json:"type"`
	// Version is the payload format version.
	Version string `json:"version"`
	// ClientID is the partner the event concerns.
	ClientID string `json:"client_id"`
	// OccurredAt is when the event was raised.
	OccurredAt time.Time `json:"occurred_at"`
	// Data carries event-specific fields.
	Data map[string]any `json:"data,omitempty"`
}

// Config holds dispatcher settings.
type Config struct {
	// Timeout is the maximum time to wait for one delivery.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxFailures deactivates a subscription after this many consecutive failures.
	MaxFailures int `json:"max_failures" yaml:"max_failures"`
	// Concurrency bounds parallel deliveries per dispatch.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// AllowInsecure permits plain http endpoints.
	// WARNING: This should only be used for development/testing.
	AllowInsecure bool `json:"allow_insecure" yaml:"allow_insecure"`
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MaxFailures: DefaultMaxFailures,
		Concurrency: DefaultConcurrency,
	}
}

// Validate checks the configuration, treating zero values as defaults.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("webhook timeout must be non-negative")
	}
	if c.Timeout > MaxTimeout {
		return fmt.Errorf("webhook timeout %v exceeds maximum %v", c.Timeout, MaxTimeout)
	}
	if c.MaxFailures < 0 {
		return fmt.Errorf("webhook max_failures must be non-negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("webhook concurrency must be non-negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// ValidateEndpoint checks that rawURL is an absolute https URL, or http when
// allowInsecure is set.
func ValidateEndpoint(rawURL string, allowInsecure bool) error {
	if rawURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("webhook URL is invalid: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL must include a host")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("webhook URL must use https")
	default:
		return fmt.Errorf("webhook URL scheme %q is not supported", u.Scheme)
	}
}

// parseEvents validates and deduplicates subscribed event names.
func parseEvents(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event is required")
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		if !EventType(e).Valid() {
			return nil, fmt.Errorf("unknown event type %q", e)
		}
		out = append(out, e)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
