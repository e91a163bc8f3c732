// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		key       []byte
		timestamp int64
		payload   []byte
	}{
		{
			name:      "basic payload",
			key:       []byte("my-secret"),
			timestamp: 1698057000,
			payload:   []byte(`{"id":"evt-1","type":"credential.issued"}`),
		},
		{
			name:      "empty payload",
			key:       []byte("my-secret"),
			timestamp: 1698057000,
			payload:   []byte{},
		},
		{
			name:      "large payload",
			key:       []byte("another-secret"),
			timestamp: 9999999999,
			payload:   []byte(`{"key":"` + string(make([]byte, 1024)) + `"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sig := SignPayload(tt.key, tt.timestamp, tt.payload)
			assert.NotEmpty(t, sig)
			assert.Contains(t, sig, "sha256=")

			// Round-trip: signature must verify.
			assert.True(t, VerifySignature(tt.key, tt.timestamp, tt.payload, sig),
				"signature round-trip verification failed")
		})
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	key := SigningKey("whsec_test")
	timestamp := int64(1698057000)
	payload := []byte(`{"id":"evt-2","type":"consent.revoked"}`)
	validSig := SignPayload(key, timestamp, payload)

	tests := []struct {
		name      string
		key       []byte
		timestamp int64
		payload   []byte
		signature string
		expected  bool
	}{
		{
			name:      "valid signature",
			key:       key,
			timestamp: timestamp,
			payload:   payload,
			signature: validSig,
			expected:  true,
		},
		{
			name:      "wrong secret",
			key:       []byte("wrong-secret"),
			timestamp: timestamp,
			payload:   payload,
			signature: validSig,
			expected:  false,
		},
		{
			name:      "wrong timestamp",
			key:       key,
			timestamp: timestamp + 1,
			payload:   payload,
			signature: validSig,
			expected:  false,
		},
		{
			name:      "tampered payload",
			key:       key,
			timestamp: timestamp,
			payload:   []byte(`{"id":"evt-2","type":"credential.revoked"}`),
			signature: validSig,
			expected:  false,
		},
		{
			name:      "missing sha256 prefix",
			key:       key,
			timestamp: timestamp,
			payload:   payload,
			signature: "abcdef1234567890",
			expected:  false,
		},
		{
			name:      "invalid hex after prefix",
			key:       key,
			timestamp: timestamp,
			payload:   payload,
			signature: "sha256=not-valid-hex!",
			expected:  false,
		},
		{
			name:      "empty signature",
			key:       key,
			timestamp: timestamp,
			payload:   payload,
			signature: "",
			expected:  false,
		},
		{
			name:      "sha256= prefix only",
			key:       key,
			timestamp: timestamp,
			payload:   payload,
			signature: "sha256=",
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := VerifySignature(tt.key, tt.timestamp, tt.payload, tt.signature)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSigningKey(t *testing.T) {
	t.Parallel()

	secret, digest, err := generateSecret()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, secretPrefix))
	assert.Equal(t, hex.EncodeToString(SigningKey(secret)), digest)
	assert.Len(t, SigningKey(secret), 32)

	other, _, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestSignPayloadDeterministic(t *testing.T) {
	t.Parallel()

	key := []byte("deterministic-test")
	timestamp := int64(1234567890)
	payload := []byte("test-payload")

	sig1 := SignPayload(key, timestamp, payload)
	sig2 := SignPayload(key, timestamp, payload)

	assert.Equal(t, sig1, sig2, "same inputs must produce the same signature")
}

func TestSignPayloadCoversTimestampDotPayload(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	h := hmac.New(sha256.New, key)
	h.Write([]byte("1700000000.{}"))
	want := "sha256=" + hex.EncodeToString(h.Sum(nil))

	assert.Equal(t, want, SignPayload(key, 1700000000, []byte("{}")))
}
