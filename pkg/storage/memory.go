// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/stacklok/trustfed/pkg/logger"
)

// MemoryStorage implements Storage with in-memory maps guarded by a single
// mutex, which makes every conditional update atomic. It is intended for
// development and tests.
type MemoryStorage struct {
	mu sync.RWMutex

	partners map[string]*PartnerApplication

	// codes maps code hash -> code.
	codes map[string]*AuthorizationCode

	// tokens maps token ID -> pair; accessIndex and refreshIndex map hashes to IDs.
	tokens       map[string]*Token
	accessIndex  map[string]string
	refreshIndex map[string]string

	// consents maps consentKey(user, client) -> grant.
	consents map[string]*ConsentGrant

	webhooks map[string]*WebhookSubscription

	usage []*UsageRecord

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStorage creates a MemoryStorage and starts its cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		partners:        make(map[string]*PartnerApplication),
		codes:           make(map[string]*AuthorizationCode),
		tokens:          make(map[string]*Token),
		accessIndex:     make(map[string]string),
		refreshIndex:    make(map[string]string),
		consents:        make(map[string]*ConsentGrant),
		webhooks:        make(map[string]*WebhookSubscription),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = DefaultCleanupInterval
	}

	go s.cleanupLoop()

	return s
}

var _ Storage = (*MemoryStorage)(nil)

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case now := <-ticker.C:
			if n, _ := s.Cleanup(context.Background(), now); n > 0 {
				logger.Debugw("reclaimed expired grants", "count", n)
			}
		}
	}
}

// Cleanup removes expired codes and token pairs whose refresh token expired.
// Expired keys are collected under the read lock and deleted under the write
// lock so lookups are blocked only for the deletion itself.
func (s *MemoryStorage) Cleanup(_ context.Context, now time.Time) (int64, error) {
	s.mu.RLock()
	var expiredCodes, expiredTokens []string
	for k, v := range s.codes {
		if !now.Before(v.ExpiresAt) {
			expiredCodes = append(expiredCodes, k)
		}
	}
	for k, v := range s.tokens {
		if !now.Before(v.RefreshExpiresAt) {
			expiredTokens = append(expiredTokens, k)
		}
	}
	s.mu.RUnlock()

	if len(expiredCodes) == 0 && len(expiredTokens) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.codes, k)
	}
	for _, k := range expiredTokens {
		if t, ok := s.tokens[k]; ok {
			delete(s.accessIndex, t.AccessHash)
			delete(s.refreshIndex, t.RefreshHash)
			delete(s.tokens, k)
		}
	}
	return int64(len(expiredCodes) + len(expiredTokens)), nil
}

// -----------------------
// PartnerStore
// -----------------------

// CreatePartner stores a new partner.
func (s *MemoryStorage) CreatePartner(_ context.Context, partner *PartnerApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partners[partner.ID]; ok {
		return fmt.Errorf("partner %s: %w", partner.ID, ErrAlreadyExists)
	}
	s.partners[partner.ID] = clonePartner(partner)
	return nil
}

// GetPartner loads a partner by client ID.
func (s *MemoryStorage) GetPartner(_ context.Context, id string) (*PartnerApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partners[id]
	if !ok {
		return nil, fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	return clonePartner(p), nil
}

// ListPartners returns partners ordered by creation time.
func (s *MemoryStorage) ListPartners(_ context.Context, status PartnerStatus) ([]*PartnerApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PartnerApplication, 0, len(s.partners))
	for _, p := range s.partners {
		if status == "" || p.Status == status {
			out = append(out, clonePartner(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdatePartnerStatus changes the lifecycle state of a partner.
func (s *MemoryStorage) UpdatePartnerStatus(_ context.Context, id string, status PartnerStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partners[id]
	if !ok {
		return fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = at
	return nil
}

// UpdatePartnerSecret replaces the stored client secret hash.
func (s *MemoryStorage) UpdatePartnerSecret(_ context.Context, id, secretHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partners[id]
	if !ok {
		return fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	p.SecretHash = secretHash
	p.UpdatedAt = at
	return nil
}

// -----------------------
// CodeStore
// -----------------------

// CreateAuthorizationCode stores a freshly minted code.
func (s *MemoryStorage) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code.CodeHash]; ok {
		return fmt.Errorf("authorization code: %w", ErrAlreadyExists)
	}
	c := *code
	c.Scopes = slices.Clone(code.Scopes)
	s.codes[code.CodeHash] = &c
	return nil
}

// ConsumeAuthorizationCode marks a matching code consumed.
func (s *MemoryStorage) ConsumeAuthorizationCode(
	_ context.Context, codeHash, clientID, redirectURI string, now time.Time,
) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[codeHash]
	if !ok || c.Consumed || c.ClientID != clientID || c.RedirectURI != redirectURI || !now.Before(c.ExpiresAt) {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	c.Consumed = true
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out, nil
}

// -----------------------
// TokenStore
// -----------------------

// CreateToken stores a new token pair.
func (s *MemoryStorage) CreateToken(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return fmt.Errorf("token %s: %w", token.ID, ErrAlreadyExists)
	}
	if _, ok := s.accessIndex[token.AccessHash]; ok {
		return fmt.Errorf("access token: %w", ErrAlreadyExists)
	}
	if _, ok := s.refreshIndex[token.RefreshHash]; ok {
		return fmt.Errorf("refresh token: %w", ErrAlreadyExists)
	}
	s.tokens[token.ID] = cloneToken(token)
	s.accessIndex[token.AccessHash] = token.ID
	s.refreshIndex[token.RefreshHash] = token.ID
	return nil
}

// UseAccessToken records one use of a live access token.
func (s *MemoryStorage) UseAccessToken(_ context.Context, accessHash string, now time.Time) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tokens[s.accessIndex[accessHash]]
	if t == nil || t.Revoked || !now.Before(t.AccessExpiresAt) {
		return nil, fmt.Errorf("access token: %w", ErrNotFound)
	}
	t.UsageCount++
	used := now
	t.LastUsedAt = &used
	return cloneToken(t), nil
}

// RotateRefreshToken revokes a live pair by its refresh hash.
func (s *MemoryStorage) RotateRefreshToken(_ context.Context, refreshHash, clientID string, now time.Time) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tokens[s.refreshIndex[refreshHash]]
	if t == nil || t.Revoked || t.ClientID != clientID || !now.Before(t.RefreshExpiresAt) {
		return nil, fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	t.Revoked = true
	return cloneToken(t), nil
}

// RevokeToken revokes the pair matching hash for clientID.
func (s *MemoryStorage) RevokeToken(_ context.Context, hash, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.accessIndex[hash]
	if !ok {
		id, ok = s.refreshIndex[hash]
	}
	t := s.tokens[id]
	if !ok || t == nil || t.ClientID != clientID {
		return fmt.Errorf("token: %w", ErrNotFound)
	}
	t.Revoked = true
	return nil
}

// RevokeClientTokens revokes all outstanding pairs of a client.
func (s *MemoryStorage) RevokeClientTokens(_ context.Context, clientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tokens {
		if t.ClientID == clientID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

// -----------------------
// ConsentStore
// -----------------------

func consentKey(userID, clientID string) string {
	return userID + "\x00" + clientID
}

// UpsertConsent creates or replaces a grant.
func (s *MemoryStorage) UpsertConsent(_ context.Context, grant *ConsentGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := *grant
	g.Scopes = slices.Clone(grant.Scopes)
	s.consents[consentKey(grant.UserID, grant.ClientID)] = &g
	return nil
}

// GetConsent loads the grant for a user and partner.
func (s *MemoryStorage) GetConsent(_ context.Context, userID, clientID string) (*ConsentGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.consents[consentKey(userID, clientID)]
	if !ok {
		return nil, fmt.Errorf("consent: %w", ErrNotFound)
	}
	out := *g
	out.Scopes = slices.Clone(g.Scopes)
	return &out, nil
}

// DeleteConsent removes the grant for a user and partner.
func (s *MemoryStorage) DeleteConsent(_ context.Context, userID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey(userID, clientID)
	if _, ok := s.consents[key]; !ok {
		return fmt.Errorf("consent: %w", ErrNotFound)
	}
	delete(s.consents, key)
	return nil
}

// -----------------------
// WebhookStore
// -----------------------

// CreateSubscription stores a new subscription.
func (s *MemoryStorage) CreateSubscription(_ context.Context, sub *WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[sub.ID]; ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, ErrAlreadyExists)
	}
	s.webhooks[sub.ID] = cloneSubscription(sub)
	return nil
}

// GetSubscription loads a subscription by ID.
func (s *MemoryStorage) GetSubscription(_ context.Context, id string) (*WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return cloneSubscription(sub), nil
}

// ListSubscriptions returns a client's subscriptions ordered by creation time.
func (s *MemoryStorage) ListSubscriptions(_ context.Context, clientID string) ([]*WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*WebhookSubscription
	for _, sub := range s.webhooks {
		if sub.ClientID == clientID {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteSubscription removes a subscription owned by clientID.
func (s *MemoryStorage) DeleteSubscription(_ context.Context, id, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.webhooks[id]
	if !ok || sub.ClientID != clientID {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	delete(s.webhooks, id)
	return nil
}

// RecordDeliverySuccess resets the failure count.
func (s *MemoryStorage) RecordDeliverySuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.webhooks[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	sub.FailureCount = 0
	sub.LastSuccessAt = &at
	return nil
}

// RecordDeliveryFailure increments the failure count of an active subscription.
func (s *MemoryStorage) RecordDeliveryFailure(
	_ context.Context, id string, at time.Time, maxFailures int,
) (*WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.webhooks[id]
	if !ok || !sub.Active {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	sub.FailureCount++
	sub.LastFailureAt = &at
	if sub.FailureCount >= maxFailures {
		sub.Active = false
	}
	return cloneSubscription(sub), nil
}

// ReactivateSubscription marks a subscription active again.
func (s *MemoryStorage) ReactivateSubscription(_ context.Context, id, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.webhooks[id]
	if !ok || sub.ClientID != clientID {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	sub.Active = true
	sub.FailureCount = 0
	return nil
}

// -----------------------
// UsageStore
// -----------------------

// AppendUsage adds a record to the ledger.
func (s *MemoryStorage) AppendUsage(_ context.Context, record *UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *record
	s.usage = append(s.usage, &r)
	return nil
}

// ListUsage returns matching ledger entries, oldest first.
func (s *MemoryStorage) ListUsage(_ context.Context, filter UsageFilter) ([]*UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*UsageRecord
	for _, r := range s.usage {
		if filter.Matches(r) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func clonePartner(p *PartnerApplication) *PartnerApplication {
	c := *p
	c.RedirectURIs = slices.Clone(p.RedirectURIs)
	c.Scopes = slices.Clone(p.Scopes)
	return &c
}

func cloneToken(t *Token) *Token {
	c := *t
	c.Scopes = slices.Clone(t.Scopes)
	if t.LastUsedAt != nil {
		used := *t.LastUsedAt
		c.LastUsedAt = &used
	}
	return &c
}

func cloneSubscription(w *WebhookSubscription) *WebhookSubscription {
	c := *w
	c.Events = slices.Clone(w.Events)
	if w.LastSuccessAt != nil {
		at := *w.LastSuccessAt
		c.LastSuccessAt = &at
	}
	if w.LastFailureAt != nil {
		at := *w.LastFailureAt
		c.LastFailureAt = &at
	}
	return &c
}
