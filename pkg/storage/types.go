// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persisted records of the trust federation core
// and the Storage interface every backend implements.
package storage

import (
	"slices"
	"time"

	"github.com/ory/fosite"
)

const (
	// DefaultCleanupInterval is how often expired codes and tokens are reclaimed.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultRateLimitPerHour is applied to partners registered without a limit.
	DefaultRateLimitPerHour = 1000
)

// PartnerStatus is the lifecycle state of a partner application.
type PartnerStatus string

const (
	// PartnerPending is the state of a newly registered partner.
	PartnerPending PartnerStatus = "pending"
	// PartnerActive partners may authorize users and obtain tokens.
	PartnerActive PartnerStatus = "active"
	// PartnerSuspended partners are temporarily blocked.
	PartnerSuspended PartnerStatus = "suspended"
	// PartnerRevoked partners are permanently blocked.
	PartnerRevoked PartnerStatus = "revoked"
)

// Valid reports whether s is a known status.
func (s PartnerStatus) Valid() bool {
	switch s {
	case PartnerPending, PartnerActive, PartnerSuspended, PartnerRevoked:
		return true
	}
	return false
}

// PartnerApplication is a registered OAuth client.
type PartnerApplication struct {
	ID               string        `json:"client_id"`
	SecretHash       string        `json:"-"`
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	HomepageURL      string        `json:"homepage_url,omitempty"`
	LogoURL          string        `json:"logo_url,omitempty"`
	RedirectURIs     []string      `json:"redirect_uris"`
	Scopes           []string      `json:"scopes"`
	MinTrustRequired int           `json:"min_trust_required"`
	RateLimitPerHour int           `json:"rate_limit_per_hour"`
	Status           PartnerStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

var _ fosite.Client = (*PartnerApplication)(nil)

// GetID returns the client ID.
func (p *PartnerApplication) GetID() string { return p.ID }

// GetHashedSecret returns the bcrypt hash of the client secret.
func (p *PartnerApplication) GetHashedSecret() []byte { return []byte(p.SecretHash) }

// GetRedirectURIs returns the registered redirect URIs.
func (p *PartnerApplication) GetRedirectURIs() []string { return p.RedirectURIs }

// GetGrantTypes returns the grant types partners may use.
func (*PartnerApplication) GetGrantTypes() fosite.Arguments {
	return fosite.Arguments{"authorization_code", "refresh_token"}
}

// GetResponseTypes returns the response types partners may request.
func (*PartnerApplication) GetResponseTypes() fosite.Arguments {
	return fosite.Arguments{"code"}
}

// GetScopes returns the scopes the partner is allowed to request.
func (p *PartnerApplication) GetScopes() fosite.Arguments { return p.Scopes }

// IsPublic is always false: every partner authenticates with a secret.
func (*PartnerApplication) IsPublic() bool { return false }

// GetAudience returns the partner's own ID as its only audience.
func (p *PartnerApplication) GetAudience() fosite.Arguments { return fosite.Arguments{p.ID} }

// IsActive reports whether the partner may authorize users and obtain tokens.
func (p *PartnerApplication) IsActive() bool { return p.Status == PartnerActive }

// HasRedirectURI reports whether uri is registered, by exact string match.
func (p *PartnerApplication) HasRedirectURI(uri string) bool {
	return slices.Contains(p.RedirectURIs, uri)
}

// AuthorizationCode binds a one-time code to a client, user, scope and redirect.
type AuthorizationCode struct {
	CodeHash    string
	ClientID    string
	UserID      string
	Scopes      []string
	RedirectURI string
	State       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Consumed    bool
}

// Token is an access/refresh token pair issued to a partner for a user.
type Token struct {
	ID               string
	AccessHash       string
	RefreshHash      string
	ClientID         string
	UserID           string
	Scopes           []string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UsageCount       int64
	LastUsedAt       *time.Time
	Revoked          bool
	CreatedAt        time.Time
}

// ConsentGrant records that a user agreed to share scopes with a partner.
type ConsentGrant struct {
	UserID    string
	ClientID  string
	Scopes    []string
	GrantedAt time.Time
	ExpiresAt time.Time
	AutoRenew bool
}

// Covers reports whether the grant is unexpired at now and was given for
// exactly the requested scope set.
func (c *ConsentGrant) Covers(scopes []string, now time.Time) bool {
	return now.Before(c.ExpiresAt) && slices.Equal(c.Scopes, scopes)
}

// WebhookSubscription is a partner endpoint receiving signed event deliveries.
type WebhookSubscription struct {
	ID            string
	ClientID      string
	URL           string
	SecretHash    string
	Events        []string
	Active        bool
	FailureCount  int
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	CreatedAt     time.Time
}

// Subscribes reports whether the subscription wants event.
func (w *WebhookSubscription) Subscribes(event string) bool {
	return slices.Contains(w.Events, event)
}

// UsageRecord is one append-only entry of the credential access ledger.
type UsageRecord struct {
	ID         string
	ClientID   string
	UserID     string
	Endpoint   string
	TrustScore float64
	Latency    time.Duration
	Success    bool
	ErrorCode  string
	Timestamp  time.Time
}

// UsageFilter selects ledger entries for a client within [From, To).
// Zero times leave that bound open.
type UsageFilter struct {
	ClientID string
	From     time.Time
	To       time.Time
}

// Matches reports whether r falls inside the filter.
func (f UsageFilter) Matches(r *UsageRecord) bool {
	if f.ClientID != "" && r.ClientID != f.ClientID {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
		return false
	}
	return true
}
