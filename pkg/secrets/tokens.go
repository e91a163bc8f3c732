// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ory/fosite"
	"github.com/ory/fosite/token/hmac"
)

// MinSecretLength is the minimum length of the HMAC key used to sign tokens.
const MinSecretLength = 32

// Kind identifies what an opaque value is used for. The kind is encoded as a
// prefix so a refresh token can never be presented as an access token.
type Kind string

const (
	// KindAuthorizationCode marks authorization codes.
	KindAuthorizationCode Kind = "tfc_"
	// KindAccessToken marks bearer access tokens.
	KindAccessToken Kind = "tfa_"
	// KindRefreshToken marks refresh tokens.
	KindRefreshToken Kind = "tfr_"
)

// ErrMalformedToken is returned when a presented value was not minted by this
// server or was minted for a different kind.
var ErrMalformedToken = errors.New("malformed token")

// TokenMinter generates opaque tokens and derives their storage hashes.
type TokenMinter struct {
	strategy *hmac.HMACStrategy
}

// NewTokenMinter creates a minter keyed by secret.
func NewTokenMinter(secret []byte) (*TokenMinter, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &TokenMinter{
		strategy: &hmac.HMACStrategy{
			Config: &fosite.Config{GlobalSecret: secret},
		},
	}, nil
}

// Generate mints a new value of the given kind. The returned hash is the
// only thing that should be stored.
func (m *TokenMinter) Generate(ctx context.Context, kind Kind) (token, hash string, err error) {
	raw, signature, err := m.strategy.Generate(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate %s: %w", kind.name(), err)
	}
	return string(kind) + raw, signature, nil
}

// Hash validates a presented value and returns its storage hash.
func (m *TokenMinter) Hash(ctx context.Context, kind Kind, token string) (string, error) {
	raw, ok := strings.CutPrefix(token, string(kind))
	if !ok || raw == "" {
		return "", ErrMalformedToken
	}
	if err := m.strategy.Validate(ctx, raw); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return m.strategy.Signature(raw), nil
}

func (k Kind) name() string {
	switch k {
	case KindAuthorizationCode:
		return "authorization code"
	case KindAccessToken:
		return "access token"
	case KindRefreshToken:
		return "refresh token"
	default:
		return "token"
	}
}
