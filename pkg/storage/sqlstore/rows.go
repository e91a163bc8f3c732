// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/stacklok/trustfed/pkg/storage"
)

// Times are stored as UTC unix microseconds so both dialects compare them
// numerically. Flags are stored as 0/1 integers for the same reason.

func micros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: micros(*t), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

type partnerRow struct {
	ID               string `db:"id"`
	SecretHash       string `db:"secret_hash"`
	Name             string `db:"name"`
	Description      string `db:"description"`
	HomepageURL      string `db:"homepage_url"`
	LogoURL          string `db:"logo_url"`
	RedirectURIs     string `db:"redirect_uris"`
	Scopes           string `db:"scopes"`
	MinTrustRequired int    `db:"min_trust_required"`
	RateLimitPerHour int    `db:"rate_limit_per_hour"`
	Status           string `db:"status"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

const partnerColumns = `id, secret_hash, name, description, homepage_url, logo_url, redirect_uris,
	scopes, min_trust_required, rate_limit_per_hour, status, created_at, updated_at`

func toPartnerRow(p *storage.PartnerApplication) partnerRow {
	return partnerRow{
		ID:               p.ID,
		SecretHash:       p.SecretHash,
		Name:             p.Name,
		Description:      p.Description,
		HomepageURL:      p.HomepageURL,
		LogoURL:          p.LogoURL,
		RedirectURIs:     encodeList(p.RedirectURIs),
		Scopes:           encodeList(p.Scopes),
		MinTrustRequired: p.MinTrustRequired,
		RateLimitPerHour: p.RateLimitPerHour,
		Status:           string(p.Status),
		CreatedAt:        micros(p.CreatedAt),
		UpdatedAt:        micros(p.UpdatedAt),
	}
}

func (r partnerRow) model() *storage.PartnerApplication {
	return &storage.PartnerApplication{
		ID:               r.ID,
		SecretHash:       r.SecretHash,
		Name:             r.Name,
		Description:      r.Description,
		HomepageURL:      r.HomepageURL,
		LogoURL:          r.LogoURL,
		RedirectURIs:     decodeList(r.RedirectURIs),
		Scopes:           decodeList(r.Scopes),
		MinTrustRequired: r.MinTrustRequired,
		RateLimitPerHour: r.RateLimitPerHour,
		Status:           storage.PartnerStatus(r.Status),
		CreatedAt:        fromMicros(r.CreatedAt),
		UpdatedAt:        fromMicros(r.UpdatedAt),
	}
}

type codeRow struct {
	CodeHash    string `db:"code_hash"`
	ClientID    string `db:"client_id"`
	UserID      string `db:"user_id"`
	Scopes      string `db:"scopes"`
	RedirectURI string `db:"redirect_uri"`
	State       string `db:"state"`
	CreatedAt   int64  `db:"created_at"`
	ExpiresAt   int64  `db:"expires_at"`
	Consumed    int    `db:"consumed"`
}

const codeColumns = `code_hash, client_id, user_id, scopes, redirect_uri, state, created_at, expires_at, consumed`

func toCodeRow(c *storage.AuthorizationCode) codeRow {
	return codeRow{
		CodeHash:    c.CodeHash,
		ClientID:    c.ClientID,
		UserID:      c.UserID,
		Scopes:      encodeList(c.Scopes),
		RedirectURI: c.RedirectURI,
		State:       c.State,
		CreatedAt:   micros(c.CreatedAt),
		ExpiresAt:   micros(c.ExpiresAt),
		Consumed:    flag(c.Consumed),
	}
}

func (r codeRow) model() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		CodeHash:    r.CodeHash,
		ClientID:    r.ClientID,
		UserID:      r.UserID,
		Scopes:      decodeList(r.Scopes),
		RedirectURI: r.RedirectURI,
		State:       r.State,
		CreatedAt:   fromMicros(r.CreatedAt),
		ExpiresAt:   fromMicros(r.ExpiresAt),
		Consumed:    r.Consumed != 0,
	}
}

type tokenRow struct {
	ID               string        `db:"id"`
	AccessHash       string        `db:"access_hash"`
	RefreshHash      string        `db:"refresh_hash"`
	ClientID         string        `db:"client_id"`
	UserID           string        `db:"user_id"`
	Scopes           string        `db:"scopes"`
	AccessExpiresAt  int64         `db:"access_expires_at"`
	RefreshExpiresAt int64         `db:"refresh_expires_at"`
	UsageCount       int64         `db:"usage_count"`
	LastUsedAt       sql.NullInt64 `db:"last_used_at"`
	Revoked          int           `db:"revoked"`
	CreatedAt        int64         `db:"created_at"`
}

const tokenColumns = `id, access_hash, refresh_hash, client_id, user_id, scopes, access_expires_at,
	refresh_expires_at, usage_count, last_used_at, revoked, created_at`

func toTokenRow(t *storage.Token) tokenRow {
	return tokenRow{
		ID:               t.ID,
		AccessHash:       t.AccessHash,
		RefreshHash:      t.RefreshHash,
		ClientID:         t.ClientID,
		UserID:           t.UserID,
		Scopes:           encodeList(t.Scopes),
		AccessExpiresAt:  micros(t.AccessExpiresAt),
		RefreshExpiresAt: micros(t.RefreshExpiresAt),
		UsageCount:       t.UsageCount,
		LastUsedAt:       nullMicros(t.LastUsedAt),
		Revoked:          flag(t.Revoked),
		CreatedAt:        micros(t.CreatedAt),
	}
}

func (r tokenRow) model() *storage.Token {
	return &storage.Token{
		ID:               r.ID,
		AccessHash:       r.AccessHash,
		RefreshHash:      r.RefreshHash,
		ClientID:         r.ClientID,
		UserID:           r.UserID,
		Scopes:           decodeList(r.Scopes),
		AccessExpiresAt:  fromMicros(r.AccessExpiresAt),
		RefreshExpiresAt: fromMicros(r.RefreshExpiresAt),
		UsageCount:       r.UsageCount,
		LastUsedAt:       fromNullMicros(r.LastUsedAt),
		Revoked:          r.Revoked != 0,
		CreatedAt:        fromMicros(r.CreatedAt),
	}
}

type consentRow struct {
	UserID    string `db:"user_id"`
	ClientID  string `db:"client_id"`
	Scopes    string `db:"scopes"`
	GrantedAt int64  `db:"granted_at"`
	ExpiresAt int64  `db:"expires_at"`
	AutoRenew int    `db:"auto_renew"`
}

func (r consentRow) model() *storage.ConsentGrant {
	return &storage.ConsentGrant{
		UserID:    r.UserID,
		ClientID:  r.ClientID,
		Scopes:    decodeList(r.Scopes),
		GrantedAt: fromMicros(r.GrantedAt),
		ExpiresAt: fromMicros(r.ExpiresAt),
		AutoRenew: r.AutoRenew != 0,
	}
}

type subscriptionRow struct {
	ID            string        `db:"id"`
	ClientID      string        `db:"client_id"`
	URL           string        `db:"url"`
	SecretHash    string        `db:"secret_hash"`
	Events        string        `db:"events"`
	Active        int           `db:"active"`
	FailureCount  int           `db:"failure_count"`
	LastSuccessAt sql.NullInt64 `db:"last_success_at"`
	LastFailureAt sql.NullInt64 `db:"last_failure_at"`
	CreatedAt     int64         `db:"created_at"`
}

const subscriptionColumns = `id, client_id, url, secret_hash, events, active, failure_count,
	last_success_at, last_failure_at, created_at`

func toSubscriptionRow(w *storage.WebhookSubscription) subscriptionRow {
	return subscriptionRow{
		ID:            w.ID,
		ClientID:      w.ClientID,
		URL:           w.URL,
		SecretHash:    w.SecretHash,
		Events:        encodeList(w.Events),
		Active:        flag(w.Active),
		FailureCount:  w.FailureCount,
		LastSuccessAt: nullMicros(w.LastSuccessAt),
		LastFailureAt: nullMicros(w.LastFailureAt),
		CreatedAt:     micros(w.CreatedAt),
	}
}

func (r subscriptionRow) model() *storage.WebhookSubscription {
	return &storage.WebhookSubscription{
		ID:            r.ID,
		ClientID:      r.ClientID,
		URL:           r.URL,
		SecretHash:    r.SecretHash,
		Events:        decodeList(r.Events),
		Active:        r.Active != 0,
		FailureCount:  r.FailureCount,
		LastSuccessAt: fromNullMicros(r.LastSuccessAt),
		LastFailureAt: fromNullMicros(r.LastFailureAt),
		CreatedAt:     fromMicros(r.CreatedAt),
	}
}

type usageRow struct {
	ID         string  `db:"id"`
	ClientID   string  `db:"client_id"`
	UserID     string  `db:"user_id"`
	Endpoint   string  `db:"endpoint"`
	TrustScore float64 `db:"trust_score"`
	LatencyUS  int64   `db:"latency_us"`
	Success    int     `db:"success"`
	ErrorCode  string  `db:"error_code"`
	RecordedAt int64   `db:"recorded_at"`
}

const usageColumns = `id, client_id, user_id, endpoint, trust_score, latency_us, success, error_code, recorded_at`

func toUsageRow(u *storage.UsageRecord) usageRow {
	return usageRow{
		ID:         u.ID,
		ClientID:   u.ClientID,
		UserID:     u.UserID,
		Endpoint:   u.Endpoint,
		TrustScore: u.TrustScore,
		LatencyUS:  u.Latency.Microseconds(),
		Success:    flag(u.Success),
		ErrorCode:  u.ErrorCode,
		RecordedAt: micros(u.Timestamp),
	}
}

func (r usageRow) model() *storage.UsageRecord {
	return &storage.UsageRecord{
		ID:         r.ID,
		ClientID:   r.ClientID,
		UserID:     r.UserID,
		Endpoint:   r.Endpoint,
		TrustScore: r.TrustScore,
		Latency:    time.Duration(r.LatencyUS) * time.Microsecond,
		Success:    r.Success != 0,
		ErrorCode:  r.ErrorCode,
		Timestamp:  fromMicros(r.RecordedAt),
	}
}
