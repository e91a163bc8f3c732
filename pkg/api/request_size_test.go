// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/authserver"
)

// registrationBody encodes a partner registration padded to roughly size bytes
// through its description.
func registrationBody(t *testing.T, size int) []byte {
	t.Helper()
	data, err := json.Marshal(authserver.PartnerRegistration{
		Name:         "Padded Partner",
		Description:  strings.Repeat("d", max(0, size-128)),
		RedirectURIs: []string{testRedirect},
	})
	require.NoError(t, err)
	return data
}

// decodeRegistration behaves like the API handlers: any decode failure is a 400.
var decodeRegistration = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	var reg authserver.PartnerRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "invalid registration", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
})

func TestRequestBodySizeLimitMiddleware(t *testing.T) {
	t.Parallel()

	const limit = 4 << 10

	tests := []struct {
		name          string
		body          []byte
		contentLength int64
		want          int
	}{
		{
			name: "registration within limit",
			body: registrationBody(t, limit/2),
			want: http.StatusCreated,
		},
		{
			name: "declared length above limit",
			body: registrationBody(t, 2*limit),
			want: http.StatusRequestEntityTooLarge,
		},
		{
			name:          "understated length caught while decoding",
			body:          registrationBody(t, 2*limit),
			contentLength: limit - 1,
			want:          http.StatusRequestEntityTooLarge,
		},
		{
			name:          "unknown length caught while decoding",
			body:          registrationBody(t, 2*limit),
			contentLength: -1,
			want:          http.StatusRequestEntityTooLarge,
		},
		{
			name: "malformed registration within limit stays a bad request",
			body: []byte(`{"name": "Partner", "redirect_uris": [`),
			want: http.StatusBadRequest,
		},
		{
			name:          "malformed registration with understated length",
			body:          append([]byte(`{"name": 42`), bytes.Repeat([]byte(" "), 2*limit)...),
			contentLength: 16,
			want:          http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/partners", bytes.NewReader(tt.body))
			if tt.contentLength != 0 {
				req.ContentLength = tt.contentLength
			}
			rec := httptest.NewRecorder()

			requestBodySizeLimitMiddleware(limit)(decodeRegistration).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestBodySizeLimitMiddleware_EmptyBody(t *testing.T) {
	t.Parallel()

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", http.NoBody)
	rec := httptest.NewRecorder()
	requestBodySizeLimitMiddleware(16)(next).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPartnerRegistration_BodyLimit(t *testing.T) {
	t.Parallel()

	srv := newTestAPIWithConfig(t, Config{AdminToken: testAdminToken, MaxRequestBodySize: 1 << 10})

	resp := srv.postJSON(t, "/partners", "", json.RawMessage(registrationBody(t, 256)))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = srv.postJSON(t, "/partners", "", json.RawMessage(registrationBody(t, 4<<10)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	// Nothing from the rejected request was stored.
	resp = srv.get(t, "/partners", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+testAdminToken)
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	partners := decode[[]map[string]any](t, resp)
	assert.Len(t, partners, 1)
}
