// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// LoadSigningKey reads an ECDSA private key from a PEM file in SEC 1 or
// PKCS #8 form.
func LoadSigningKey(keyPath string) (*ecdsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 - keyPath is provided by operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return ParseSigningKey(keyPEM)
}

// ParseSigningKey decodes an ECDSA private key from PEM bytes.
func ParseSigningKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from signing key")
	}

	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecKey, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key must be ECDSA, got %T", key)
	}
	return ecKey, nil
}

// EncodeSigningKey PEM-encodes key in SEC 1 form.
func EncodeSigningKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// GenerateSigningKey creates a new ECDSA key for algorithm.
func GenerateSigningKey(algorithm string) (*ecdsa.PrivateKey, error) {
	var curve elliptic.Curve
	switch algorithm {
	case "ES256":
		curve = elliptic.P256()
	case "ES384":
		curve = elliptic.P384()
	case "ES512":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported algorithm for key generation: %s", algorithm)
	}
	return ecdsa.GenerateKey(curve, rand.Reader)
}

// DeriveKeyID computes the RFC 7638 JWK thumbprint of the public key,
// base64url-encoded without padding.
func DeriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// DeriveAlgorithm returns the JWS algorithm matching the key's curve.
func DeriveAlgorithm(key *ecdsa.PrivateKey) (string, error) {
	switch key.Curve {
	case elliptic.P256():
		return "ES256", nil
	case elliptic.P384():
		return "ES384", nil
	case elliptic.P521():
		return "ES512", nil
	default:
		return "", fmt.Errorf("unsupported EC curve: %s", key.Curve.Params().Name)
	}
}

func newSigningKeyData(key *ecdsa.PrivateKey) (*SigningKeyData, error) {
	alg, err := DeriveAlgorithm(key)
	if err != nil {
		return nil, err
	}
	kid, err := DeriveKeyID(key)
	if err != nil {
		return nil, err
	}
	return &SigningKeyData{KeyID: kid, Algorithm: alg, Key: key}, nil
}
