// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"
)

// PartnerStore persists partner applications.
type PartnerStore interface {
	// CreatePartner stores a new partner. Returns ErrAlreadyExists on ID clash.
	CreatePartner(ctx context.Context, partner *PartnerApplication) error
	// GetPartner loads a partner by client ID.
	GetPartner(ctx context.Context, id string) (*PartnerApplication, error)
	// ListPartners returns partners in the given status, or all when status is empty.
	ListPartners(ctx context.Context, status PartnerStatus) ([]*PartnerApplication, error)
	// UpdatePartnerStatus changes the lifecycle state of a partner.
	UpdatePartnerStatus(ctx context.Context, id string, status PartnerStatus, at time.Time) error
	// UpdatePartnerSecret replaces the stored client secret hash.
	UpdatePartnerSecret(ctx context.Context, id, secretHash string, at time.Time) error
}

// CodeStore persists authorization codes.
type CodeStore interface {
	// CreateAuthorizationCode stores a freshly minted code.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// ConsumeAuthorizationCode marks a code consumed in a single conditional
	// update. It matches only an unconsumed code bound to clientID and
	// redirectURI whose expiry is strictly after now, and returns ErrNotFound
	// otherwise. Of several concurrent callers exactly one succeeds.
	ConsumeAuthorizationCode(ctx context.Context, codeHash, clientID, redirectURI string, now time.Time) (*AuthorizationCode, error)
}

// TokenStore persists access/refresh token pairs.
type TokenStore interface {
	// CreateToken stores a new token pair.
	CreateToken(ctx context.Context, token *Token) error
	// UseAccessToken increments the usage counter and last-used time of an
	// unrevoked access token whose expiry is strictly after now, in a single
	// update, and returns the updated record. ErrNotFound if none matches.
	UseAccessToken(ctx context.Context, accessHash string, now time.Time) (*Token, error)
	// RotateRefreshToken revokes an unrevoked, unexpired pair by its refresh
	// hash in a single conditional update and returns the revoked record.
	// ErrNotFound if none matches, including when another caller won the race.
	RotateRefreshToken(ctx context.Context, refreshHash, clientID string, now time.Time) (*Token, error)
	// RevokeToken revokes the pair whose access or refresh hash equals hash
	// and that belongs to clientID. Returns ErrNotFound if none matches.
	RevokeToken(ctx context.Context, hash, clientID string) error
	// RevokeClientTokens revokes every outstanding pair of a client.
	RevokeClientTokens(ctx context.Context, clientID string) (int64, error)
}

// ConsentStore persists consent grants, one per user and partner.
type ConsentStore interface {
	// UpsertConsent creates or replaces the grant for (UserID, ClientID).
	UpsertConsent(ctx context.Context, grant *ConsentGrant) error
	// GetConsent loads the grant for a user and partner.
	GetConsent(ctx context.Context, userID, clientID string) (*ConsentGrant, error)
	// DeleteConsent removes the grant for a user and partner.
	DeleteConsent(ctx context.Context, userID, clientID string) error
}

// WebhookStore persists webhook subscriptions and their delivery health.
type WebhookStore interface {
	// CreateSubscription stores a new subscription.
	CreateSubscription(ctx context.Context, sub *WebhookSubscription) error
	// GetSubscription loads a subscription by ID.
	GetSubscription(ctx context.Context, id string) (*WebhookSubscription, error)
	// ListSubscriptions returns all subscriptions of a client.
	ListSubscriptions(ctx context.Context, clientID string) ([]*WebhookSubscription, error)
	// DeleteSubscription removes a subscription owned by clientID.
	DeleteSubscription(ctx context.Context, id, clientID string) error
	// RecordDeliverySuccess resets the failure count and records the success time.
	RecordDeliverySuccess(ctx context.Context, id string, at time.Time) error
	// RecordDeliveryFailure increments the failure count of an active
	// subscription in a single update, deactivating it when the count reaches
	// maxFailures, and returns the updated record.
	RecordDeliveryFailure(ctx context.Context, id string, at time.Time, maxFailures int) (*WebhookSubscription, error)
	// ReactivateSubscription marks a subscription owned by clientID active
	// again and clears its failure count.
	ReactivateSubscription(ctx context.Context, id, clientID string) error
}

// UsageStore persists the append-only usage ledger.
type UsageStore interface {
	// AppendUsage adds a record to the ledger.
	AppendUsage(ctx context.Context, record *UsageRecord) error
	// ListUsage returns ledger entries matching filter, oldest first.
	ListUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error)
}

// Storage is the full persistence surface of the trust federation core.
type Storage interface {
	PartnerStore
	CodeStore
	TokenStore
	ConsentStore
	WebhookStore
	UsageStore

	// Health reports whether the backend can serve requests.
	Health(ctx context.Context) error
	// Cleanup removes codes and token pairs that expired before now and
	// returns how many records were deleted.
	Cleanup(ctx context.Context, now time.Time) (int64, error)
	// Close releases the backend's resources.
	Close() error
}
