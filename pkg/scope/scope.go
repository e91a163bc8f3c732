// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scope defines the closed set of OAuth scopes partners may request
// and the certificate claims each of them makes visible.
package scope

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ory/fosite"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// Known scopes.
const (
	Basic        = "trust:basic"
	Score        = "trust:score"
	Behavior     = "trust:behavior"
	History      = "trust:history"
	Achievements = "trust:achievements"
	Threshold    = "trust:threshold"
)

// Default is granted when an authorization request names no scope.
const Default = Basic

// registeredClaims are present in every certificate regardless of scope.
var registeredClaims = []string{"iss", "sub", "aud", "jti", "iat", "exp"}

var claimsByScope = map[string][]string{
	Basic:        {"tier"},
	Score:        {"score", "percentile", "confidence"},
	Behavior:     {"behavior", "risk"},
	History:      {"trend", "volatility", "history"},
	Achievements: {"achievements"},
	Threshold:    {"proof"},
}

// All returns every known scope in sorted order.
func All() []string {
	out := make([]string, 0, len(claimsByScope))
	for s := range claimsByScope {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// IsKnown reports whether s is a member of the scope enum.
func IsKnown(s string) bool {
	_, ok := claimsByScope[s]
	return ok
}

// Parse splits a space separated scope string, rejects unknown scopes and
// returns the set sorted and without duplicates.
func Parse(raw string) ([]string, error) {
	return Normalize(strings.Fields(raw))
}

// Normalize validates scopes and returns them sorted and without duplicates.
func Normalize(scopes []string) ([]string, error) {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if !IsKnown(s) {
			return nil, trusterrors.NewInvalidScopeError(fmt.Sprintf("unknown scope %q", s))
		}
		out = append(out, s)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Join renders scopes in their wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Allowed reports whether every requested scope is in allowed.
func Allowed(requested, allowed []string) bool {
	args := fosite.Arguments(allowed)
	for _, s := range requested {
		if !args.Has(s) {
			return false
		}
	}
	return true
}

// Claims returns the claim names visible under the granted scopes,
// including the registered claims every certificate carries.
func Claims(granted []string) []string {
	out := slices.Clone(registeredClaims)
	for _, s := range granted {
		out = append(out, claimsByScope[s]...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
