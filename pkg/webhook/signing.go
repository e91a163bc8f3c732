// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Header names set on every delivery.
const (
	// SignatureHeader carries the HMAC-SHA256 signature of the delivery.
	SignatureHeader = "X-Trust-Signature"
	// TimestampHeader carries the Unix timestamp the signature covers.
	TimestampHeader = "X-Trust-Timestamp"
	// EventHeader carries the event type.
	EventHeader = "X-Trust-Event"
	// DeliveryHeader carries a unique ID per delivery attempt.
	DeliveryHeader = "X-Trust-Delivery"
)

// signaturePrefix is the prefix for the HMAC-SHA256 signature value.
const signaturePrefix = "sha256="

// secretPrefix marks subscription secrets.
const secretPrefix = "whsec_"

// generateSecret returns a new subscription secret and the hex digest that
// is persisted in its place.
func generateSecret() (secret, digest string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	secret = secretPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return secret, hex.EncodeToString(SigningKey(secret)), nil
}

// SigningKey derives the HMAC key from a subscription secret. Only this
// digest is stored, so partners sign-check with the same derivation.
func SigningKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// SignPayload computes an HMAC-SHA256 signature over the given timestamp and
// payload. The signature is computed over the string "timestamp.payload" and
// returned in the format "sha256=<hex-encoded-signature>".
func SignPayload(key []byte, timestamp int64, payload []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(key, timestamp, payload))
}

// VerifySignature checks a "sha256=<hex>" signature in constant time.
func VerifySignature(key []byte, timestamp int64, payload []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(mac(key, timestamp, payload), sigBytes)
}

func mac(key []byte, timestamp int64, payload []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(strconv.FormatInt(timestamp, 10) + "."))
	h.Write(payload)
	return h.Sum(nil)
}
