// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package zkp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

func TestGenerateAndVerify_AllMetThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		value      int
		thresholds []int
	}{
		{"zero value zero threshold", 0, []int{0}},
		{"exact threshold", 70, []int{70}},
		{"maximum value", MaxValue, []int{0, 1, 128, MaxValue}},
		{"several thresholds", 88, []int{10, 50, 87, 88}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bundle, err := Generate(tt.value, tt.thresholds)
			require.NoError(t, err)
			require.Len(t, bundle.Proofs, len(tt.thresholds))

			result := Verify(bundle, tt.thresholds)
			assert.True(t, result.Valid)
			assert.NoError(t, result.Err())
			for _, th := range tt.thresholds {
				assert.Equal(t, StatusProven, result.Status(th), "threshold %d", th)
			}
		})
	}
}

func TestGenerate_PartialThresholds(t *testing.T) {
	t.Parallel()

	bundle, err := Generate(72, []int{90, 50, 70})
	require.NoError(t, err)

	proven := make([]int, 0, len(bundle.Proofs))
	for _, p := range bundle.Proofs {
		proven = append(proven, p.Threshold)
	}
	assert.Equal(t, []int{50, 70}, proven)

	result := Verify(bundle, []int{50, 70, 90})
	assert.True(t, result.Valid)
	assert.Equal(t, []ThresholdResult{
		{Threshold: 50, Status: StatusProven},
		{Threshold: 70, Status: StatusProven},
		{Threshold: 90, Status: StatusNotProven},
	}, result.Thresholds)
}

func TestVerify_WithoutRequestedThresholdsChecksEveryProof(t *testing.T) {
	t.Parallel()

	bundle, err := Generate(60, []int{20, 40})
	require.NoError(t, err)

	result := Verify(bundle, nil)
	assert.True(t, result.Valid)
	assert.Len(t, result.Thresholds, 2)
}

func TestVerify_NilBundle(t *testing.T) {
	t.Parallel()

	result := Verify(nil, []int{50})
	assert.True(t, result.Valid)
	assert.Equal(t, StatusNotProven, result.Status(50))
}

func TestVerify_TamperedProofs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tamper func(b *Bundle)
	}{
		{
			name: "relabelled threshold",
			tamper: func(b *Bundle) {
				b.Proofs[0].Threshold = 90
			},
		},
		{
			name: "flipped bit commitment byte",
			tamper: func(b *Bundle) {
				b.Proofs[0].Bits[3].Commitment[5] ^= 0x01
			},
		},
		{
			name: "swapped challenges",
			tamper: func(b *Bundle) {
				bit := &b.Proofs[0].Bits[0]
				bit.C0, bit.C1 = bit.C1, bit.C0
			},
		},
		{
			name: "changed response",
			tamper: func(b *Bundle) {
				b.Proofs[0].Bits[7].Z1[0] ^= 0x02
			},
		},
		{
			name: "dropped bit",
			tamper: func(b *Bundle) {
				b.Proofs[0].Bits = b.Proofs[0].Bits[:Bits-1]
			},
		},
		{
			name: "commitment replaced by another value",
			tamper: func(b *Bundle) {
				other, err := Generate(72, nil)
				if err == nil {
					b.Commitment = other.Commitment
				}
			},
		},
		{
			name: "malformed commitment",
			tamper: func(b *Bundle) {
				b.Commitment = []byte("not a point")
			},
		},
		{
			name: "duplicate proof",
			tamper: func(b *Bundle) {
				b.Proofs = append(b.Proofs, b.Proofs[0])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bundle, err := Generate(72, []int{70})
			require.NoError(t, err)
			tt.tamper(bundle)

			thresholds := []int{70}
			if bundle.Proofs[0].Threshold == 90 {
				thresholds = []int{90}
			}
			result := Verify(bundle, thresholds)
			assert.False(t, result.Valid)
			assert.Equal(t, StatusInvalid, result.Thresholds[0].Status)
			assert.ErrorIs(t, result.Err(), trusterrors.ErrProofInvalid)
		})
	}
}

func TestGenerate_RejectsOutOfRangeInput(t *testing.T) {
	t.Parallel()

	_, err := Generate(-1, []int{0})
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)

	_, err = Generate(MaxValue+1, []int{0})
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)

	_, err = Generate(50, []int{300})
	assert.ErrorIs(t, err, trusterrors.ErrInvalidRequest)
}

func TestBundle_DoesNotCarryValue(t *testing.T) {
	t.Parallel()

	first, err := Generate(72, []int{50})
	require.NoError(t, err)
	second, err := Generate(72, []int{50})
	require.NoError(t, err)

	assert.NotEqual(t, first.Commitment, second.Commitment, "commitments must be blinded")

	raw, err := json.Marshal(first)
	require.NoError(t, err)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &top))
	assert.ElementsMatch(t, []string{"commitment", "proofs"}, keys(top))

	var proofs []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(top["proofs"], &proofs))
	for _, p := range proofs {
		assert.ElementsMatch(t, []string{"threshold", "bits"}, keys(p))
	}

	var decoded Bundle
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, Verify(&decoded, []int{50}).Valid)
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
