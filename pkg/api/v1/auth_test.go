// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		got, ok := bearerToken(r)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		assert.Equal(t, tt.want, got, "header %q", tt.header)
	}
}

func TestClientCredentials(t *testing.T) {
	t.Parallel()

	t.Run("basic auth is form decoded", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.SetBasicAuth(url.QueryEscape("client:1"), url.QueryEscape("s3cr+t"))
		id, secret := clientCredentials(r)
		assert.Equal(t, "client:1", id)
		assert.Equal(t, "s3cr+t", secret)
	})

	t.Run("form body", func(t *testing.T) {
		t.Parallel()
		form := url.Values{"client_id": {"c1"}, "client_secret": {"s1"}}
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		id, secret := clientCredentials(r)
		assert.Equal(t, "c1", id)
		assert.Equal(t, "s1", secret)
	})
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, adminFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		adminToken string
		header     string
		want       int
	}{
		{"matching token", "secret", "Bearer secret", http.StatusOK},
		{"wrong token", "secret", "Bearer other", http.StatusUnauthorized},
		{"admin API disabled", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			requireAdmin(tt.adminToken)(next).ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"tier", "score", "proof"}, parseList("tier, score proof"))
	assert.Empty(t, parseList(""))

	ints, err := parseInts("50,70 90")
	assert.NoError(t, err)
	assert.Equal(t, []int{50, 70, 90}, ints)
	_, err = parseInts("fifty")
	assert.Error(t, err)

	b, err := parseBool("")
	assert.NoError(t, err)
	assert.False(t, b)
	_, err = parseBool("maybe")
	assert.Error(t, err)
}
