// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package certificate

import (
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/stacklok/trustfed/pkg/certificate/scoring"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/zkp"
)

// Claims is the payload of a trust certificate. Optional sections are
// omitted when the granted scopes do not cover them.
type Claims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud,omitempty"`
	ID        string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`

	Tier       scoring.Tier `json:"tier,omitempty"`
	Score      *float64     `json:"score,omitempty"`
	Percentile *float64     `json:"percentile,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`

	Behavior *Behavior `json:"behavior,omitempty"`
	Risk     *Risk     `json:"risk,omitempty"`

	Trend      scoring.Trend `json:"trend,omitempty"`
	Volatility *Volatility   `json:"volatility,omitempty"`
	History    []HistoryItem `json:"history,omitempty"`

	Achievements []Achievement `json:"achievements,omitempty"`

	Proof *zkp.Bundle `json:"proof,omitempty"`
}

// Behavior holds the behavioural sub-scores.
type Behavior struct {
	Consistency        float64 `json:"consistency"`
	InteractionQuality float64 `json:"interaction_quality"`
	Collaboration      float64 `json:"collaboration"`
	Innovation         float64 `json:"innovation"`
}

// Risk is the risk assessment.
type Risk struct {
	Score float64       `json:"score"`
	Level scoring.Level `json:"level"`
}

// Volatility describes how much the score has moved.
type Volatility struct {
	Level  scoring.Level `json:"level"`
	StdDev float64       `json:"stddev"`
}

// HistoryItem is one historical score, timestamped in unix seconds.
type HistoryItem struct {
	Score      float64 `json:"score"`
	RecordedAt int64   `json:"recorded_at"`
}

// Achievement is an award, timestamped in unix seconds.
type Achievement struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AwardedAt int64  `json:"awarded_at"`
}

// Encode serializes claims as RFC 8785 canonical JSON. The output is the
// exact byte string that gets signed.
func Encode(c *Claims) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claims: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize claims: %w", err)
	}
	return canonical, nil
}

// Decode parses a claims payload produced by Encode.
func Decode(data []byte) (*Claims, error) {
	var c Claims
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, trusterrors.NewInvalidRequestError("malformed certificate claims", err)
	}
	return &c, nil
}

// Disclose returns the claims named in fields, or all claims when fields is
// empty. Unknown field names are rejected.
func Disclose(c *Claims, fields []string) (map[string]json.RawMessage, error) {
	payload, err := Encode(c)
	if err != nil {
		return nil, err
	}
	return disclose(payload, fields)
}

// disclose returns the top-level members of payload named in fields. An
// empty field list discloses everything.
func disclose(payload []byte, fields []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil, trusterrors.NewInvalidRequestError("malformed certificate claims", err)
	}
	if len(fields) == 0 {
		return all, nil
	}

	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if !knownClaims[f] {
			return nil, trusterrors.NewInvalidRequestError(fmt.Sprintf("unknown claim %q", f), nil)
		}
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

var knownClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "jti": true, "iat": true, "exp": true,
	"tier": true, "score": true, "percentile": true, "confidence": true,
	"behavior": true, "risk": true,
	"trend": true, "volatility": true, "history": true,
	"achievements": true, "proof": true,
}
