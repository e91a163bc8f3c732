// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// JWKS builds the public JSON Web Key Set served at /.well-known/jwks.json.
func JWKS(ctx context.Context, provider KeyProvider) (*jose.JSONWebKeySet, error) {
	pubKeys, err := provider.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load public keys: %w", err)
	}

	jwks := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(pubKeys))}
	for _, k := range pubKeys {
		jwk := jose.JSONWebKey{
			Key:       k.PublicKey,
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			Use:       "sig",
		}
		if !jwk.Valid() {
			return nil, fmt.Errorf("public key %s is not a valid JWK", k.KeyID)
		}
		jwks.Keys = append(jwks.Keys, jwk)
	}
	return jwks, nil
}
