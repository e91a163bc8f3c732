// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package zkp proves that a hidden integer is at least a threshold without
// revealing it.
//
// The value v is bound by a Pedersen commitment C = v·G + r·H over
// Ristretto255. For every threshold t ≤ v the prover shows that C - t·G
// commits to a number in [0, 2^Bits) by splitting it into bit commitments,
// each carrying a non-interactive OR-proof that it opens to 0 or 1. The
// blinding factors of the bit commitments are chosen so that their weighted
// sum equals C - t·G, which the verifier checks directly.
package zkp

import (
	"crypto/rand"
	"fmt"
	"slices"

	"github.com/cloudflare/circl/group"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

const (
	// Bits is the width of the range proof.
	Bits = 8

	// MaxValue is the largest value or threshold that can be proven.
	MaxValue = 1<<Bits - 1
)

// Status is the verification outcome for a single threshold.
type Status string

// Status values.
const (
	StatusProven    Status = "proven"
	StatusNotProven Status = "not_proven"
	StatusInvalid   Status = "invalid"
)

// Bundle carries a commitment and one proof per satisfied threshold.
// Thresholds the value does not meet are absent.
type Bundle struct {
	Commitment []byte           `json:"commitment"`
	Proofs     []ThresholdProof `json:"proofs"`
}

// ThresholdProof shows that the committed value minus Threshold is in range.
type ThresholdProof struct {
	Threshold int        `json:"threshold"`
	Bits      []BitProof `json:"bits"`
}

// BitProof is a bit commitment and its OR-proof.
type BitProof struct {
	Commitment []byte `json:"commitment"`
	C0         []byte `json:"c0"`
	C1         []byte `json:"c1"`
	Z0         []byte `json:"z0"`
	Z1         []byte `json:"z1"`
}

// Result is the outcome of Verify.
type Result struct {
	Valid      bool              `json:"valid"`
	Thresholds []ThresholdResult `json:"thresholds"`
}

// ThresholdResult pairs a requested threshold with its status.
type ThresholdResult struct {
	Threshold int    `json:"threshold"`
	Status    Status `json:"status"`
}

// Status returns the status recorded for threshold, or StatusNotProven.
func (r Result) Status(threshold int) Status {
	for _, tr := range r.Thresholds {
		if tr.Threshold == threshold {
			return tr.Status
		}
	}
	return StatusNotProven
}

// Err returns a ProofInvalid error when any checked proof failed.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	for _, tr := range r.Thresholds {
		if tr.Status == StatusInvalid {
			return trusterrors.NewError(trusterrors.TypeProofInvalid,
				fmt.Sprintf("proof for threshold %d does not verify", tr.Threshold), nil)
		}
	}
	return trusterrors.ErrProofInvalid
}

var (
	suite = group.Ristretto255

	// generatorH has no known discrete log relative to the base point.
	generatorH = suite.HashToElement(
		[]byte("trustfed/zkp/pedersen-h"),
		[]byte("trustfed-zkp-v1_ristretto255_XMD:SHA-512_R255MAP_RO_"),
	)
	challengeDST = []byte("trustfed-zkp-v1_bit-challenge")
)

// Generate commits to value and proves every threshold it meets. Unmet
// thresholds are omitted, so their absence is observable by the verifier.
func Generate(value int, thresholds []int) (*Bundle, error) {
	if value < 0 || value > MaxValue {
		return nil, trusterrors.NewInvalidRequestError(
			fmt.Sprintf("value %d outside provable range 0-%d", value, MaxValue), nil)
	}
	ts, err := normalizeThresholds(thresholds)
	if err != nil {
		return nil, err
	}

	blind := suite.RandomScalar(rand.Reader)
	commitment, err := commit(uint64(value), blind).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode commitment: %w", err)
	}

	bundle := &Bundle{Commitment: commitment}
	for _, t := range ts {
		if t > value {
			continue
		}
		proof, err := proveRange(commitment, t, uint64(value-t), blind)
		if err != nil {
			return nil, err
		}
		bundle.Proofs = append(bundle.Proofs, *proof)
	}
	return bundle, nil
}

// Verify checks the proofs for the requested thresholds, or for every proof
// in the bundle when thresholds is empty. Valid is true when no checked proof
// is invalid.
func Verify(bundle *Bundle, thresholds []int) Result {
	if bundle == nil {
		bundle = &Bundle{}
	}

	requested := thresholds
	if len(requested) == 0 {
		for _, p := range bundle.Proofs {
			requested = append(requested, p.Threshold)
		}
	}
	requested = dedupe(requested)

	proofs := make(map[int][]ThresholdProof, len(bundle.Proofs))
	for _, p := range bundle.Proofs {
		proofs[p.Threshold] = append(proofs[p.Threshold], p)
	}

	commitment, commitmentErr := decodeElement(bundle.Commitment)

	result := Result{Valid: true, Thresholds: make([]ThresholdResult, 0, len(requested))}
	for _, t := range requested {
		status := StatusProven
		switch candidates := proofs[t]; {
		case len(candidates) == 0:
			status = StatusNotProven
		case len(candidates) > 1, commitmentErr != nil, t < 0, t > MaxValue:
			status = StatusInvalid
		default:
			if err := verifyRange(commitment, bundle.Commitment, candidates[0]); err != nil {
				status = StatusInvalid
			}
		}
		if status == StatusInvalid {
			result.Valid = false
		}
		result.Thresholds = append(result.Thresholds, ThresholdResult{Threshold: t, Status: status})
	}
	return result
}

func normalizeThresholds(thresholds []int) ([]int, error) {
	for _, t := range thresholds {
		if t < 0 || t > MaxValue {
			return nil, trusterrors.NewInvalidRequestError(
				fmt.Sprintf("threshold %d outside provable range 0-%d", t, MaxValue), nil)
		}
	}
	return dedupe(thresholds), nil
}

func dedupe(xs []int) []int {
	out := slices.Clone(xs)
	slices.Sort(out)
	return slices.Compact(out)
}
