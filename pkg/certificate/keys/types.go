// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the ECDSA keypairs trust certificates are signed with:
// loading them from PEM files, generating ephemeral ones for development and
// publishing their public halves as a JWKS.
package keys

import (
	"crypto"
	"errors"
	"time"
)

// DefaultAlgorithm is the signing algorithm for generated keys (ECDSA P-256).
const DefaultAlgorithm = "ES256"

// ErrUnknownKey is returned when no loaded key matches a key ID.
var ErrUnknownKey = errors.New("unknown signing key")

// SigningKeyData is a private signing key with its metadata. It must never be
// exposed outside the process.
type SigningKeyData struct {
	// KeyID is the RFC 7638 thumbprint of the public key.
	KeyID string

	// Algorithm is the JWS algorithm, for example "ES256".
	Algorithm string

	// Key is the private key.
	Key crypto.Signer

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}

// PublicKeyData is the public half of a signing key, safe to publish.
type PublicKeyData struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
	CreatedAt time.Time
}

func (k *SigningKeyData) public() *PublicKeyData {
	return &PublicKeyData{
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		PublicKey: k.Key.Public(),
		CreatedAt: k.CreatedAt,
	}
}

func (k *SigningKeyData) clone() *SigningKeyData {
	c := *k
	return &c
}
