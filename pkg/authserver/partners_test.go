// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/directory"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

func TestRegisterPartner(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t, directory.NewStaticProvider())
	ctx := context.Background()

	registered, err := srv.RegisterPartner(ctx, PartnerRegistration{
		Name:         "Partner",
		RedirectURIs: []string{testRedirect},
		Scopes:       []string{scope.Score, scope.Basic, scope.Score},
	})
	require.NoError(t, err)

	p := registered.Partner
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, storage.PartnerPending, p.Status)
	assert.Equal(t, []string{scope.Basic, scope.Score}, p.Scopes)
	assert.Equal(t, storage.DefaultRateLimitPerHour, p.RateLimitPerHour)
	assert.NotEqual(t, registered.ClientSecret, p.SecretHash)
	assert.True(t, secrets.CompareClientSecret(p.SecretHash, registered.ClientSecret))

	stored, err := srv.GetPartner(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.SecretHash, stored.SecretHash)

	_, err = srv.GetPartner(ctx, "missing")
	assert.ErrorIs(t, err, trusterrors.ErrNotFound)
}

func TestRegisterPartner_Validation(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t, directory.NewStaticProvider())

	tests := []struct {
		name    string
		reg     PartnerRegistration
		wantErr error
	}{
		{
			name:    "missing name",
			reg:     PartnerRegistration{RedirectURIs: []string{testRedirect}},
			wantErr: trusterrors.ErrInvalidRequest,
		},
		{
			name:    "no redirect",
			reg:     PartnerRegistration{Name: "p"},
			wantErr: trusterrors.ErrInvalidRequest,
		},
		{
			name:    "relative redirect",
			reg:     PartnerRegistration{Name: "p", RedirectURIs: []string{"/callback"}},
			wantErr: trusterrors.ErrInvalidRequest,
		},
		{
			name:    "redirect with fragment",
			reg:     PartnerRegistration{Name: "p", RedirectURIs: []string{testRedirect + "#frag"}},
			wantErr: trusterrors.ErrInvalidRequest,
		},
		{
			name:    "min trust above 100",
			reg:     PartnerRegistration{Name: "p", RedirectURIs: []string{testRedirect}, MinTrustRequired: 101},
			wantErr: trusterrors.ErrInvalidRequest,
		},
		{
			name:    "negative rate limit",
			reg:     PartnerRegistration{Name: "p", RedirectURIs: []string{testRedirect}, RateLimitPerHour: -1},
			wantErr: trusterrors.ErrInvalidRequest,
		},
		{
			name:    "unknown scope",
			reg:     PartnerRegistration{Name: "p", RedirectURIs: []string{testRedirect}, Scopes: []string{"admin"}},
			wantErr: trusterrors.ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := srv.RegisterPartner(context.Background(), tt.reg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPartnerLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	ctx := context.Background()
	id := f.partner.ID
	tokens := f.exchange(t, "alice", scope.Basic)

	suspended, err := f.srv.SuspendPartner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.PartnerSuspended, suspended.Status)

	_, err = f.srv.Authorize(ctx, AuthorizeRequest{ClientID: id, RedirectURI: testRedirect, UserID: "alice"})
	assert.ErrorIs(t, err, trusterrors.ErrUnknownClient)
	_, err = f.srv.RefreshToken(ctx, tokens.RefreshToken, id, f.secret)
	assert.ErrorIs(t, err, trusterrors.ErrUnknownClient, "suspended partner with valid credentials")
	_, err = f.srv.IssueCertificate(ctx, tokens.AccessToken, CertificateRequest{})
	assert.ErrorIs(t, err, trusterrors.ErrUnknownClient)

	_, err = f.srv.SuspendPartner(ctx, id)
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest, "already suspended")

	_, err = f.srv.ApprovePartner(ctx, id)
	require.NoError(t, err)
	_, err = f.srv.VerifyAccessToken(ctx, tokens.AccessToken)
	require.NoError(t, err, "suspension does not revoke tokens")

	revoked, err := f.srv.RevokePartner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.PartnerRevoked, revoked.Status)

	_, err = f.srv.VerifyAccessToken(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, trusterrors.ErrInvalidGrant, "revocation cascades to tokens")

	_, err = f.srv.ApprovePartner(ctx, id)
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest, "revoked is terminal")
	_, err = f.srv.RotateClientSecret(ctx, id)
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)

	assert.Contains(t, f.events.Types(), webhook.EventPartnerStatusChanged)
	assert.Contains(t, f.events.Types(), webhook.EventCredentialRevoked)
}

func TestRotateClientSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	ctx := context.Background()

	rotated, err := f.srv.RotateClientSecret(ctx, f.partner.ID)
	require.NoError(t, err)
	assert.NotEqual(t, f.secret, rotated.ClientSecret)

	code := f.authorize(t, "alice", scope.Basic).Code
	_, err = f.srv.ExchangeToken(ctx, code, f.partner.ID, f.secret, testRedirect)
	assert.ErrorIs(t, err, trusterrors.ErrInvalidClientCredentials)

	_, err = f.srv.ExchangeToken(ctx, code, f.partner.ID, rotated.ClientSecret, testRedirect)
	assert.NoError(t, err)
}

func TestListPartners(t *testing.T) {
	t.Parallel()

	f := newFixture(t, PartnerRegistration{})
	ctx := context.Background()
	_, err := f.srv.RegisterPartner(ctx, PartnerRegistration{Name: "Second", RedirectURIs: []string{testRedirect}})
	require.NoError(t, err)

	all, err := f.srv.ListPartners(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.srv.ListPartners(ctx, storage.PartnerPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Second", pending[0].Name)

	_, err = f.srv.ListPartners(ctx, "deleted")
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)
}
