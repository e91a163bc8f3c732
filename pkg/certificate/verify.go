// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package certificate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/trustfed/pkg/certificate/keys"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/zkp"
)

var supportedAlgorithms = []jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512}

// VerifyOptions controls what Verify checks and discloses.
type VerifyOptions struct {
	// Fields limits the disclosed claims. Empty discloses all of them.
	Fields []string

	// VerifyProof checks the embedded threshold proof bundle.
	VerifyProof bool

	// Thresholds to check; empty checks every proof in the bundle.
	Thresholds []int
}

// Verification is the outcome of a successful signature check.
type Verification struct {
	Valid     bool                       `json:"valid"`
	KeyID     string                     `json:"key_id"`
	IssuedAt  time.Time                  `json:"issued_at"`
	ExpiresAt time.Time                  `json:"expires_at"`
	Proof     *zkp.Result                `json:"proof,omitempty"`
	Claims    map[string]json.RawMessage `json:"claims"`
}

// Verify checks the signature and expiry of an encoded certificate and
// returns the requested subset of its claims. Any parse, key or signature
// failure yields an InvalidSignature error. When the proof bundle is checked
// and fails, the verification is returned with Valid false together with a
// ProofInvalid error.
func (e *Engine) Verify(ctx context.Context, encoded string, opts VerifyOptions) (*Verification, error) {
	claims, payload, kid, err := e.verifySignature(ctx, encoded)
	if err != nil {
		return nil, err
	}

	if e.now().Unix() > claims.ExpiresAt {
		return nil, trusterrors.NewError(trusterrors.TypeExpired, "certificate has expired", nil)
	}

	disclosed, err := disclose(payload, opts.Fields)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		Valid:     true,
		KeyID:     kid,
		IssuedAt:  time.Unix(claims.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
		Claims:    disclosed,
	}

	if opts.VerifyProof {
		result := zkp.Verify(claims.Proof, opts.Thresholds)
		v.Proof = &result
		if !result.Valid {
			v.Valid = false
			logger.Warnw("certificate carries an invalid threshold proof",
				"certificate_id", claims.ID,
				"key_id", kid,
			)
			return v, result.Err()
		}
	}
	return v, nil
}

// Parse verifies the signature of an encoded certificate and returns its
// full claims without checking expiry.
func (e *Engine) Parse(ctx context.Context, encoded string) (*Claims, error) {
	claims, _, _, err := e.verifySignature(ctx, encoded)
	return claims, err
}

func (e *Engine) verifySignature(ctx context.Context, encoded string) (*Claims, []byte, string, error) {
	jws, err := jose.ParseSignedCompact(encoded, supportedAlgorithms)
	if err != nil {
		return nil, nil, "", trusterrors.NewInvalidSignatureError("malformed certificate", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, nil, "", trusterrors.NewInvalidSignatureError("certificate must carry exactly one signature", nil)
	}

	kid := jws.Signatures[0].Header.KeyID
	if kid == "" {
		return nil, nil, "", trusterrors.NewInvalidSignatureError("certificate has no key id", nil)
	}
	pub, err := keys.FindPublicKey(ctx, e.keys, kid)
	if err != nil {
		return nil, nil, "", trusterrors.NewInvalidSignatureError("certificate signed by unknown key", err)
	}

	payload, err := jws.Verify(pub.PublicKey)
	if err != nil {
		return nil, nil, "", trusterrors.NewInvalidSignatureError("certificate signature does not verify", err)
	}

	claims, err := Decode(payload)
	if err != nil {
		return nil, nil, "", trusterrors.NewInvalidSignatureError("certificate payload is not valid claims", err)
	}
	return claims, payload, kid, nil
}
