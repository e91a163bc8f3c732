// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

func writeJSON(w http.ResponseWriter, code int, v any) error {
	apierrors.WriteJSON(w, code, v)
	return nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return trusterrors.NewInvalidRequestError("malformed JSON body", err)
	}
	return nil
}

// parseList splits a comma or space separated query value.
func parseList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}

func parseInts(raw string) ([]int, error) {
	parts := parseList(raw)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, trusterrors.NewInvalidRequestError(fmt.Sprintf("%q is not an integer", p), err)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, trusterrors.NewInvalidRequestError(fmt.Sprintf("%q is not a boolean", raw), err)
	}
	return b, nil
}
