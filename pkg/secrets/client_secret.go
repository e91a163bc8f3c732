// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// clientSecretBytes is the entropy of a generated client secret.
const clientSecretBytes = 32

// GenerateClientSecret returns a new random client secret together with its
// bcrypt hash.
func GenerateClientSecret() (secret, hash string, err error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)

	hash, err = HashClientSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

// HashClientSecret returns the bcrypt hash of secret.
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("client secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hashed), nil
}

// CompareClientSecret reports whether secret matches the stored bcrypt hash.
func CompareClientSecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
