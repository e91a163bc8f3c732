// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package zkp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/group"
)

var (
	errBitCount       = errors.New("unexpected number of bit proofs")
	errChallenge      = errors.New("bit proof challenge mismatch")
	errCommitmentSum  = errors.New("bit commitments do not sum to the shifted commitment")
	errElementDecode  = errors.New("malformed group element")
	errScalarDecode   = errors.New("malformed scalar")
	errIdentityCommit = errors.New("commitment is the identity element")
)

// commit returns v·G + r·H.
func commit(v uint64, r group.Scalar) group.Element {
	vg := suite.NewElement().MulGen(suite.NewScalar().SetUint64(v))
	rh := suite.NewElement().Mul(generatorH, r)
	return suite.NewElement().Add(vg, rh)
}

func pow2(i int) group.Scalar {
	return suite.NewScalar().SetUint64(1 << uint(i))
}

// proveRange proves that C - threshold·G commits to w with blinding r.
func proveRange(commitment []byte, threshold int, w uint64, r group.Scalar) (*ThresholdProof, error) {
	blinds := make([]group.Scalar, Bits)
	sum := suite.NewScalar()
	for i := 0; i < Bits-1; i++ {
		blinds[i] = suite.RandomScalar(rand.Reader)
		sum = suite.NewScalar().Add(sum, suite.NewScalar().Mul(blinds[i], pow2(i)))
	}
	// r_last = (r - Σ 2^i·r_i) / 2^(Bits-1)
	last := suite.NewScalar().Sub(r, sum)
	blinds[Bits-1] = suite.NewScalar().Mul(last, suite.NewScalar().Inv(pow2(Bits-1)))

	proof := &ThresholdProof{Threshold: threshold, Bits: make([]BitProof, Bits)}
	for i := range Bits {
		bp, err := proveBit(commitment, threshold, i, (w>>uint(i))&1, blinds[i])
		if err != nil {
			return nil, err
		}
		proof.Bits[i] = *bp
	}
	return proof, nil
}

// proveBit commits to bit and proves in zero knowledge that the commitment
// opens to 0 or 1. The branch not taken is simulated.
func proveBit(commitment []byte, threshold, index int, bit uint64, blind group.Scalar) (*BitProof, error) {
	ci := commit(bit, blind)
	y := statements(ci)

	known, fake := int(bit), 1-int(bit)
	var (
		c [2]group.Scalar
		z [2]group.Scalar
		a [2]group.Element
	)

	k := suite.RandomScalar(rand.Reader)
	a[known] = suite.NewElement().Mul(generatorH, k)

	c[fake] = suite.RandomScalar(rand.Reader)
	z[fake] = suite.RandomScalar(rand.Reader)
	a[fake] = announcement(z[fake], c[fake], y[fake])

	challenge, err := bitChallenge(commitment, threshold, index, ci, a[0], a[1])
	if err != nil {
		return nil, err
	}
	c[known] = suite.NewScalar().Sub(challenge, c[fake])
	z[known] = suite.NewScalar().Add(k, suite.NewScalar().Mul(c[known], blind))

	out := &BitProof{}
	fields := []struct {
		dst *[]byte
		src interface{ MarshalBinary() ([]byte, error) }
	}{
		{&out.Commitment, ci},
		{&out.C0, c[0]},
		{&out.C1, c[1]},
		{&out.Z0, z[0]},
		{&out.Z1, z[1]},
	}
	for _, f := range fields {
		b, err := f.src.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode bit proof: %w", err)
		}
		*f.dst = b
	}
	return out, nil
}

func verifyRange(commitment group.Element, encoded []byte, proof ThresholdProof) error {
	if len(proof.Bits) != Bits {
		return errBitCount
	}

	tg := suite.NewElement().MulGen(suite.NewScalar().SetUint64(uint64(proof.Threshold)))
	target := suite.NewElement().Add(commitment, suite.NewElement().Neg(tg))

	sum := suite.Identity()
	for i, bp := range proof.Bits {
		ci, err := verifyBit(encoded, proof.Threshold, i, bp)
		if err != nil {
			return fmt.Errorf("bit %d: %w", i, err)
		}
		sum = suite.NewElement().Add(sum, suite.NewElement().Mul(ci, pow2(i)))
	}
	if !sum.IsEqual(target) {
		return errCommitmentSum
	}
	return nil
}

func verifyBit(commitment []byte, threshold, index int, bp BitProof) (group.Element, error) {
	ci, err := decodeElement(bp.Commitment)
	if err != nil {
		return nil, err
	}
	var c, z [2]group.Scalar
	for i, b := range [][]byte{bp.C0, bp.C1, bp.Z0, bp.Z1} {
		s := suite.NewScalar()
		if err := s.UnmarshalBinary(b); err != nil {
			return nil, errScalarDecode
		}
		if i < 2 {
			c[i] = s
		} else {
			z[i-2] = s
		}
	}

	y := statements(ci)
	a0 := announcement(z[0], c[0], y[0])
	a1 := announcement(z[1], c[1], y[1])

	challenge, err := bitChallenge(commitment, threshold, index, ci, a0, a1)
	if err != nil {
		return nil, err
	}
	if !suite.NewScalar().Add(c[0], c[1]).IsEqual(challenge) {
		return nil, errChallenge
	}
	return ci, nil
}

// statements returns the two points whose discrete log base H is the
// blinding factor when the bit is 0 or 1 respectively.
func statements(ci group.Element) [2]group.Element {
	negG := suite.NewElement().Neg(suite.Generator())
	y1 := suite.NewElement().Add(ci, negG)
	return [2]group.Element{ci.Copy(), y1}
}

// announcement returns z·H - c·Y.
func announcement(z, c group.Scalar, y group.Element) group.Element {
	zh := suite.NewElement().Mul(generatorH, z)
	cy := suite.NewElement().Mul(y, c)
	return suite.NewElement().Add(zh, suite.NewElement().Neg(cy))
}

func bitChallenge(commitment []byte, threshold, index int, elems ...group.Element) (group.Scalar, error) {
	msg := make([]byte, 0, len(commitment)+3+len(elems)*int(suite.Params().ElementLength))
	msg = append(msg, commitment...)
	msg = binary.BigEndian.AppendUint16(msg, uint16(threshold)) // #nosec G115 - threshold is bounded by MaxValue
	msg = append(msg, byte(index))
	for _, e := range elems {
		b, err := e.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode challenge input: %w", err)
		}
		msg = append(msg, b...)
	}
	return suite.HashToScalar(msg, challengeDST), nil
}

func decodeElement(b []byte) (group.Element, error) {
	e := suite.NewElement()
	if err := e.UnmarshalBinary(b); err != nil {
		return nil, errElementDecode
	}
	if e.IsIdentity() {
		return nil, errIdentityCommit
	}
	return e, nil
}
