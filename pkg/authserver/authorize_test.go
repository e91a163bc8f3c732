// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/trustfed/pkg/directory/mocks"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/webhook"
)

func TestAuthorize_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{
		Scopes:           []string{scope.Basic, scope.Score},
		MinTrustRequired: 70,
	})
	pending, err := f.srv.RegisterPartner(context.Background(), PartnerRegistration{
		Name:         "Pending",
		RedirectURIs: []string{testRedirect},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*AuthorizeRequest)
		wantErr error
	}{
		{
			name:    "unknown client",
			mutate:  func(r *AuthorizeRequest) { r.ClientID = "nope" },
			wantErr: trusterrors.ErrUnknownClient,
		},
		{
			name:    "pending client",
			mutate:  func(r *AuthorizeRequest) { r.ClientID = pending.Partner.ID },
			wantErr: trusterrors.ErrUnknownClient,
		},
		{
			name:    "redirect not registered",
			mutate:  func(r *AuthorizeRequest) { r.RedirectURI = testRedirect + "/other" },
			wantErr: trusterrors.ErrInvalidRedirect,
		},
		{
			name:    "redirect differs by trailing slash",
			mutate:  func(r *AuthorizeRequest) { r.RedirectURI = testRedirect + "/" },
			wantErr: trusterrors.ErrInvalidRedirect,
		},
		{
			name:    "unknown scope",
			mutate:  func(r *AuthorizeRequest) { r.Scope = "trust:everything" },
			wantErr: trusterrors.ErrInvalidScope,
		},
		{
			name:    "scope not allowed for client",
			mutate:  func(r *AuthorizeRequest) { r.Scope = scope.Behavior },
			wantErr: trusterrors.ErrInvalidScope,
		},
		{
			name:    "score below client minimum",
			mutate:  func(r *AuthorizeRequest) { r.UserID = "bob" },
			wantErr: trusterrors.ErrInsufficientTrust,
		},
		{
			name:    "user unknown to directory",
			mutate:  func(r *AuthorizeRequest) { r.UserID = "mallory" },
			wantErr: trusterrors.ErrInsufficientTrust,
		},
		{
			name:    "no user",
			mutate:  func(r *AuthorizeRequest) { r.UserID = "" },
			wantErr: trusterrors.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := AuthorizeRequest{
				ClientID:    f.partner.ID,
				RedirectURI: testRedirect,
				Scope:       scope.Score,
				State:       "s",
				UserID:      "alice",
			}
			tt.mutate(&req)

			resp, err := f.srv.Authorize(context.Background(), req)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthorize_DefaultScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	resp := f.authorize(t, "alice", "")
	assert.Equal(t, []string{scope.Basic}, resp.Scopes)
	assert.Equal(t, "xyz", resp.State)
	assert.NotEmpty(t, resp.Code)

	onlyScore := newFixture(t, PartnerRegistration{Scopes: []string{scope.Score}})
	_, err := onlyScore.srv.Authorize(context.Background(), AuthorizeRequest{
		ClientID:    onlyScore.partner.ID,
		RedirectURI: testRedirect,
		UserID:      "alice",
	})
	assert.ErrorIs(t, err, trusterrors.ErrInvalidScope)
}

func TestAuthorize_Consent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	ctx := context.Background()
	requested := scope.Basic + " " + scope.Score

	assert.True(t, f.authorize(t, "alice", requested).ConsentRequired)

	grant, err := f.srv.GrantConsent(ctx, "alice", f.partner.ID, []string{scope.Score, scope.Basic})
	require.NoError(t, err)
	assert.Equal(t, []string{scope.Basic, scope.Score}, grant.Scopes)

	assert.False(t, f.authorize(t, "alice", requested).ConsentRequired)
	assert.True(t, f.authorize(t, "alice", scope.Basic).ConsentRequired, "consent covers the exact scope set only")

	f.clock.Advance(DefaultConsentLifespan)
	assert.True(t, f.authorize(t, "alice", requested).ConsentRequired, "expired consent")

	_, err = f.srv.GrantConsent(ctx, "alice", f.partner.ID, []string{"trust:unknown"})
	assert.ErrorIs(t, err, trusterrors.ErrInvalidScope)
}

func TestRevokeConsent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	ctx := context.Background()

	_, err := f.srv.GrantConsent(ctx, "alice", f.partner.ID, []string{scope.Basic})
	require.NoError(t, err)
	assert.False(t, f.authorize(t, "alice", scope.Basic).ConsentRequired)

	require.NoError(t, f.srv.RevokeConsent(ctx, "alice", f.partner.ID))
	assert.True(t, f.authorize(t, "alice", scope.Basic).ConsentRequired)
	assert.Contains(t, f.events.Types(), webhook.EventConsentRevoked)

	assert.ErrorIs(t, f.srv.RevokeConsent(ctx, "alice", f.partner.ID), trusterrors.ErrNotFound)
}

func TestAuthorize_CodeExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	resp := f.authorize(t, "alice", scope.Basic)
	assert.WithinDuration(t, f.clock.Now().Add(DefaultAuthCodeLifespan), resp.ExpiresAt, time.Second)
}

func TestAuthorize_DirectoryUnavailable(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dir := mocks.NewMockProvider(ctrl)
	dir.EXPECT().
		TrustProfile(gomock.Any(), "alice").
		Return(nil, trusterrors.NewStorageUnavailableError("directory down", nil))

	srv, _, _, _ := newTestServer(t, dir)
	ctx := context.Background()
	registered, err := srv.RegisterPartner(ctx, PartnerRegistration{
		Name:         "Partner",
		RedirectURIs: []string{testRedirect},
	})
	require.NoError(t, err)
	_, err = srv.ApprovePartner(ctx, registered.Partner.ID)
	require.NoError(t, err)

	_, err = srv.Authorize(ctx, AuthorizeRequest{
		ClientID:    registered.Partner.ID,
		RedirectURI: testRedirect,
		UserID:      "alice",
	})
	assert.ErrorIs(t, err, trusterrors.ErrStorageUnavailable)
}
