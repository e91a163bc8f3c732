// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storagetest holds the behavioural test suite every storage.Storage
// backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/storage"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run exercises a backend against the storage contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := map[string]func(t *testing.T, s storage.Storage){
		"Partners":               testPartners,
		"CodeConsumedOnce":       testCodeConsumedOnce,
		"CodeBindingAndExpiry":   testCodeBindingAndExpiry,
		"CodeConcurrentConsume":  testCodeConcurrentConsume,
		"AccessTokenUse":         testAccessTokenUse,
		"RefreshRotation":        testRefreshRotation,
		"RevokeToken":            testRevokeToken,
		"RevokeClientTokens":     testRevokeClientTokens,
		"Consent":                testConsent,
		"WebhookFailureCounting": testWebhookFailureCounting,
		"WebhookOwnership":       testWebhookOwnership,
		"Usage":                  testUsage,
		"Cleanup":                testCleanup,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newPartner(id string) *storage.PartnerApplication {
	return &storage.PartnerApplication{
		ID:               id,
		SecretHash:       "$2a$10$hash",
		Name:             "Partner " + id,
		RedirectURIs:     []string{"https://partner.example/cb"},
		Scopes:           []string{"trust:basic", "trust:score"},
		MinTrustRequired: 40,
		RateLimitPerHour: 100,
		Status:           storage.PartnerPending,
		CreatedAt:        base,
		UpdatedAt:        base,
	}
}

func newCode(hash string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		CodeHash:    hash,
		ClientID:    "client-1",
		UserID:      "user-1",
		Scopes:      []string{"trust:basic"},
		RedirectURI: "https://partner.example/cb",
		State:       "xyz",
		CreatedAt:   base,
		ExpiresAt:   base.Add(10 * time.Minute),
	}
}

func newToken(clientID string) *storage.Token {
	id := uuid.NewString()
	return &storage.Token{
		ID:               id,
		AccessHash:       "at-" + id,
		RefreshHash:      "rt-" + id,
		ClientID:         clientID,
		UserID:           "user-1",
		Scopes:           []string{"trust:basic", "trust:score"},
		AccessExpiresAt:  base.Add(time.Hour),
		RefreshExpiresAt: base.Add(30 * 24 * time.Hour),
		CreatedAt:        base,
	}
}

func newSubscription(clientID string) *storage.WebhookSubscription {
	return &storage.WebhookSubscription{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		URL:        "https://partner.example/hook",
		SecretHash: "digest",
		Events:     []string{"credential.issued"},
		Active:     true,
		CreatedAt:  base,
	}
}

func testPartners(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	p := newPartner("p1")
	require.NoError(t, s.CreatePartner(ctx, p))
	require.ErrorIs(t, s.CreatePartner(ctx, p), storage.ErrAlreadyExists)

	second := newPartner("p2")
	second.CreatedAt = base.Add(time.Minute)
	require.NoError(t, s.CreatePartner(ctx, second))

	got, err := s.GetPartner(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, p.Scopes, got.Scopes)
	assert.Equal(t, 40, got.MinTrustRequired)
	assert.True(t, base.Equal(got.CreatedAt))

	_, err = s.GetPartner(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.UpdatePartnerStatus(ctx, "p1", storage.PartnerActive, base.Add(time.Hour)))
	require.NoError(t, s.UpdatePartnerSecret(ctx, "p1", "new-hash", base.Add(time.Hour)))
	got, err = s.GetPartner(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, storage.PartnerActive, got.Status)
	assert.Equal(t, "new-hash", got.SecretHash)

	require.ErrorIs(t, s.UpdatePartnerStatus(ctx, "missing", storage.PartnerActive, base), storage.ErrNotFound)

	all, err := s.ListPartners(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p1", all[0].ID)

	pending, err := s.ListPartners(ctx, storage.PartnerPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p2", pending[0].ID)
}

func testCodeConsumedOnce(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	code := newCode("code-hash")
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	got, err := s.ConsumeAuthorizationCode(ctx, code.CodeHash, code.ClientID, code.RedirectURI, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, []string{"trust:basic"}, got.Scopes)
	assert.Equal(t, "xyz", got.State)

	_, err = s.ConsumeAuthorizationCode(ctx, code.CodeHash, code.ClientID, code.RedirectURI, base.Add(time.Minute))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testCodeBindingAndExpiry(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	code := newCode("bound")
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	_, err := s.ConsumeAuthorizationCode(ctx, code.CodeHash, "other-client", code.RedirectURI, base)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.ConsumeAuthorizationCode(ctx, code.CodeHash, code.ClientID, "https://evil.example/cb", base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// now == expires_at is already expired
	_, err = s.ConsumeAuthorizationCode(ctx, code.CodeHash, code.ClientID, code.RedirectURI, code.ExpiresAt)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.ConsumeAuthorizationCode(ctx, code.CodeHash, code.ClientID, code.RedirectURI, code.ExpiresAt.Add(-time.Millisecond))
	require.NoError(t, err)
}

func testCodeConcurrentConsume(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	code := newCode("raced")
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	const racers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAuthorizationCode(ctx, code.CodeHash, code.ClientID, code.RedirectURI, base); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testAccessTokenUse(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	tok := newToken("client-1")
	require.NoError(t, s.CreateToken(ctx, tok))

	got, err := s.UseAccessToken(ctx, tok.AccessHash, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, base.Add(time.Minute).Equal(*got.LastUsedAt))
	assert.Equal(t, tok.Scopes, got.Scopes)

	got, err = s.UseAccessToken(ctx, tok.AccessHash, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)

	_, err = s.UseAccessToken(ctx, tok.AccessHash, tok.AccessExpiresAt)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.UseAccessToken(ctx, tok.RefreshHash, base)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testRefreshRotation(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	tok := newToken("client-1")
	require.NoError(t, s.CreateToken(ctx, tok))

	_, err := s.RotateRefreshToken(ctx, tok.RefreshHash, "client-2", base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.RotateRefreshToken(ctx, tok.RefreshHash, "client-1", base)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, tok.ID, got.ID)

	_, err = s.RotateRefreshToken(ctx, tok.RefreshHash, "client-1", base)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.UseAccessToken(ctx, tok.AccessHash, base)
	require.ErrorIs(t, err, storage.ErrNotFound, "rotating revokes the whole pair")

	expired := newToken("client-1")
	require.NoError(t, s.CreateToken(ctx, expired))
	_, err = s.RotateRefreshToken(ctx, expired.RefreshHash, "client-1", expired.RefreshExpiresAt)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testRevokeToken(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	byAccess := newToken("client-1")
	byRefresh := newToken("client-1")
	require.NoError(t, s.CreateToken(ctx, byAccess))
	require.NoError(t, s.CreateToken(ctx, byRefresh))

	require.ErrorIs(t, s.RevokeToken(ctx, byAccess.AccessHash, "client-2"), storage.ErrNotFound)
	require.NoError(t, s.RevokeToken(ctx, byAccess.AccessHash, "client-1"))
	require.NoError(t, s.RevokeToken(ctx, byRefresh.RefreshHash, "client-1"))
	require.ErrorIs(t, s.RevokeToken(ctx, "unknown", "client-1"), storage.ErrNotFound)

	_, err := s.UseAccessToken(ctx, byAccess.AccessHash, base)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.RotateRefreshToken(ctx, byRefresh.RefreshHash, "client-1", base)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testRevokeClientTokens(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for range 3 {
		require.NoError(t, s.CreateToken(ctx, newToken("client-1")))
	}
	other := newToken("client-2")
	require.NoError(t, s.CreateToken(ctx, other))

	n, err := s.RevokeClientTokens(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = s.UseAccessToken(ctx, other.AccessHash, base)
	require.NoError(t, err)
}

func testConsent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	grant := &storage.ConsentGrant{
		UserID:    "user-1",
		ClientID:  "client-1",
		Scopes:    []string{"trust:basic"},
		GrantedAt: base,
		ExpiresAt: base.Add(90 * 24 * time.Hour),
		AutoRenew: true,
	}
	require.NoError(t, s.UpsertConsent(ctx, grant))

	grant.Scopes = []string{"trust:basic", "trust:score"}
	require.NoError(t, s.UpsertConsent(ctx, grant))

	got, err := s.GetConsent(ctx, "user-1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"trust:basic", "trust:score"}, got.Scopes)
	assert.True(t, got.AutoRenew)
	assert.True(t, got.Covers([]string{"trust:basic", "trust:score"}, base))
	assert.False(t, got.Covers([]string{"trust:basic"}, base))

	require.NoError(t, s.DeleteConsent(ctx, "user-1", "client-1"))
	_, err = s.GetConsent(ctx, "user-1", "client-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.DeleteConsent(ctx, "user-1", "client-1"), storage.ErrNotFound)
}

func testWebhookFailureCounting(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	sub := newSubscription("client-1")
	require.NoError(t, s.CreateSubscription(ctx, sub))

	for i := 1; i <= 9; i++ {
		got, err := s.RecordDeliveryFailure(ctx, sub.ID, base, 10)
		require.NoError(t, err)
		assert.Equal(t, i, got.FailureCount)
		assert.True(t, got.Active)
	}

	require.NoError(t, s.RecordDeliverySuccess(ctx, sub.ID, base))
	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailureCount)
	require.NotNil(t, got.LastSuccessAt)

	for i := 1; i <= 10; i++ {
		got, err = s.RecordDeliveryFailure(ctx, sub.ID, base, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, got.FailureCount)
	assert.False(t, got.Active)

	_, err = s.RecordDeliveryFailure(ctx, sub.ID, base, 10)
	require.ErrorIs(t, err, storage.ErrNotFound, "inactive subscriptions are not counted")

	require.NoError(t, s.ReactivateSubscription(ctx, sub.ID, "client-1"))
	got, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Zero(t, got.FailureCount)
}

func testWebhookOwnership(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mine := newSubscription("client-1")
	theirs := newSubscription("client-2")
	require.NoError(t, s.CreateSubscription(ctx, mine))
	require.NoError(t, s.CreateSubscription(ctx, theirs))

	subs, err := s.ListSubscriptions(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, mine.ID, subs[0].ID)
	assert.Equal(t, []string{"credential.issued"}, subs[0].Events)

	require.ErrorIs(t, s.DeleteSubscription(ctx, theirs.ID, "client-1"), storage.ErrNotFound)
	require.ErrorIs(t, s.ReactivateSubscription(ctx, theirs.ID, "client-1"), storage.ErrNotFound)
	require.NoError(t, s.DeleteSubscription(ctx, mine.ID, "client-1"))

	_, err = s.GetSubscription(ctx, mine.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testUsage(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i := range 5 {
		errorCode := ""
		if i == 3 {
			errorCode = "invalid_grant"
		}
		require.NoError(t, s.AppendUsage(ctx, &storage.UsageRecord{
			ID:         uuid.NewString(),
			ClientID:   "client-1",
			UserID:     fmt.Sprintf("user-%d", i%2),
			Endpoint:   "/oauth/userinfo",
			TrustScore: 70.5,
			Latency:    15 * time.Millisecond,
			Success:    i != 3,
			ErrorCode:  errorCode,
			Timestamp:  base.Add(time.Duration(4-i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendUsage(ctx, &storage.UsageRecord{
		ID: uuid.NewString(), ClientID: "client-2", Endpoint: "/oauth/userinfo", Timestamp: base,
	}))

	all, err := s.ListUsage(ctx, storage.UsageFilter{ClientID: "client-1"})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.True(t, all[0].Timestamp.Before(all[4].Timestamp))
	assert.Equal(t, 15*time.Millisecond, all[0].Latency)
	assert.InDelta(t, 70.5, all[0].TrustScore, 0.001)

	window, err := s.ListUsage(ctx, storage.UsageFilter{
		ClientID: "client-1",
		From:     base.Add(time.Minute),
		To:       base.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func testCleanup(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CreateAuthorizationCode(ctx, newCode("old")))
	fresh := newCode("fresh")
	fresh.ExpiresAt = base.Add(time.Hour)
	require.NoError(t, s.CreateAuthorizationCode(ctx, fresh))
	tok := newToken("client-1")
	require.NoError(t, s.CreateToken(ctx, tok))

	n, err := s.Cleanup(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.ConsumeAuthorizationCode(ctx, "fresh", fresh.ClientID, fresh.RedirectURI, base)
	require.NoError(t, err)

	n, err = s.Cleanup(ctx, tok.RefreshExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
