// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/directory"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

const (
	testAdminToken = "admin-token-for-tests"
	testRedirect   = "https://partner.example.com/callback"
)

type testAPI struct {
	server *httptest.Server
	client *http.Client
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithConfig(t, Config{AdminToken: testAdminToken})
}

func newTestAPIWithConfig(t *testing.T, cfg Config) *testAPI {
	t.Helper()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	minter, err := secrets.NewTokenMinter([]byte(strings.Repeat("k", secrets.MinSecretLength)))
	require.NoError(t, err)
	provider := keys.NewGeneratingProvider("")
	engine, err := certificate.NewEngine(provider, "https://trust.example.com")
	require.NoError(t, err)
	dispatcher, err := webhook.NewDispatcher(store, webhook.Config{AllowInsecure: true})
	require.NoError(t, err)
	t.Cleanup(dispatcher.Wait)

	dir := directory.NewStaticProvider(
		&directory.TrustProfile{UserID: "alice", Score: 85, Percentile: 92},
		&directory.TrustProfile{UserID: "bob", Score: 65, Percentile: 40},
	)
	auth, err := authserver.New(authserver.Config{Issuer: "https://trust.example.com"}, authserver.Dependencies{
		Storage:      store,
		Directory:    dir,
		Minter:       minter,
		Certificates: engine,
		Events:       dispatcher,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(
		cfg,
		Services{Auth: auth, Webhooks: dispatcher, Keys: provider},
	))
	t.Cleanup(srv.Close)

	return &testAPI{
		server: srv,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (a *testAPI) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := a.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *testAPI) postJSON(t *testing.T, path, bearer string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, a.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return a.do(t, req)
}

func (a *testAPI) postForm(t *testing.T, path string, form url.Values, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, a.server.URL+path,
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if mutate != nil {
		mutate(req)
	}
	return a.do(t, req)
}

func (a *testAPI) get(t *testing.T, path string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, a.server.URL+path, nil)
	require.NoError(t, err)
	if mutate != nil {
		mutate(req)
	}
	return a.do(t, req)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// registerPartner registers and approves a partner over HTTP.
func (a *testAPI) registerPartner(t *testing.T, minTrust int) credentials {
	t.Helper()

	resp := a.postJSON(t, "/partners", "", map[string]any{
		"name":               "Partner",
		"redirect_uris":      []string{testRedirect},
		"scopes":             scope.All(),
		"min_trust_required": minTrust,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	creds := decode[credentials](t, resp)
	require.Equal(t, "pending", creds.Status)
	require.NotEmpty(t, creds.ClientSecret)

	resp = a.postJSON(t, "/partners/"+creds.ClientID+"/approve", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return creds
}

func authorizeQuery(clientID, rawScope string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", testRedirect)
	q.Set("scope", rawScope)
	q.Set("state", "xyz")
	return q.Encode()
}

func asUser(userID string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("X-User-ID", userID) }
}

func TestOAuthFlow(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	creds := api.registerPartner(t, 70)
	rawScope := scope.Basic + " " + scope.Score + " " + scope.Threshold

	// First authorization asks for consent.
	resp := api.get(t, "/oauth/authorize?"+authorizeQuery(creds.ClientID, rawScope), asUser("alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	consent := decode[map[string]any](t, resp)
	assert.Equal(t, true, consent["consent_required"])
	assert.Contains(t, consent["consent_url"], "/oauth/consent?")

	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("redirect_uri", testRedirect)
	form.Set("scope", rawScope)
	form.Set("state", "xyz")
	resp = api.postForm(t, "/oauth/consent", form, asUser("alice"))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	// Consent is remembered.
	resp = api.get(t, "/oauth/authorize?"+authorizeQuery(creds.ClientID, rawScope), asUser("alice"))
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	// Exchange with HTTP Basic client authentication.
	exchange := url.Values{}
	exchange.Set("grant_type", "authorization_code")
	exchange.Set("code", code)
	exchange.Set("redirect_uri", testRedirect)
	basic := func(r *http.Request) { r.SetBasicAuth(creds.ClientID, creds.ClientSecret) }

	resp = api.postForm(t, "/oauth/token", exchange, basic)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	tokens := decode[authserver.TokenResponse](t, resp)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	// The code is single use.
	resp = api.postForm(t, "/oauth/token", exchange, basic)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_grant", decode[map[string]any](t, resp)["error"])

	// Userinfo issues a certificate.
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tokens.AccessToken) }
	resp = api.get(t, "/oauth/userinfo?thresholds=50,90&fields=tier,score", bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[struct {
		Certificate string                     `json:"certificate"`
		KeyID       string                     `json:"key_id"`
		Claims      map[string]json.RawMessage `json:"claims"`
	}](t, resp)
	require.NotEmpty(t, info.Certificate)
	assert.NotEmpty(t, info.KeyID)
	assert.JSONEq(t, `"premium"`, string(info.Claims["tier"]))
	assert.JSONEq(t, `85`, string(info.Claims["score"]))
	assert.NotContains(t, info.Claims, "proof")

	// Relying parties verify the certificate.
	resp = api.postJSON(t, "/certificates/verify", "", map[string]any{
		"certificate":  info.Certificate,
		"verify_proof": true,
		"thresholds":   []int{50, 90},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decode[map[string]any](t, resp)
	assert.Equal(t, true, verified["valid"])

	tampered := info.Certificate[:len(info.Certificate)-2] + "AA"
	if tampered == info.Certificate {
		tampered = info.Certificate[:len(info.Certificate)-2] + "BB"
	}
	resp = api.postJSON(t, "/certificates/verify", "", map[string]any{"certificate": tampered})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rejected := decode[map[string]any](t, resp)
	assert.Equal(t, false, rejected["valid"])
	assert.Equal(t, "invalid_signature", rejected["error"])

	// Refresh rotates the pair.
	refresh := url.Values{}
	refresh.Set("grant_type", "refresh_token")
	refresh.Set("refresh_token", tokens.RefreshToken)
	refresh.Set("client_id", creds.ClientID)
	refresh.Set("client_secret", creds.ClientSecret)
	resp = api.postForm(t, "/oauth/token", refresh, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode[authserver.TokenResponse](t, resp)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	resp = api.postForm(t, "/oauth/token", refresh, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Revocation invalidates the access token.
	revoke := url.Values{}
	revoke.Set("token", rotated.AccessToken)
	resp = api.postForm(t, "/oauth/revoke", revoke, basic)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.get(t, "/oauth/userinfo", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+rotated.AccessToken)
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestOAuthAuthorize_Errors(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	creds := api.registerPartner(t, 70)

	t.Run("insufficient trust redirects with error", func(t *testing.T) {
		t.Parallel()
		resp := api.get(t, "/oauth/authorize?"+authorizeQuery(creds.ClientID, scope.Basic), asUser("bob"))
		require.Equal(t, http.StatusFound, resp.StatusCode)
		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "access_denied", location.Query().Get("error"))
		assert.Equal(t, "xyz", location.Query().Get("state"))
		assert.Empty(t, location.Query().Get("code"))
	})

	t.Run("unknown scope redirects with error", func(t *testing.T) {
		t.Parallel()
		resp := api.get(t, "/oauth/authorize?"+authorizeQuery(creds.ClientID, "trust:everything"), asUser("alice"))
		require.Equal(t, http.StatusFound, resp.StatusCode)
		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", location.Query().Get("error"))
	})

	t.Run("unregistered redirect is not followed", func(t *testing.T) {
		t.Parallel()
		q := url.Values{}
		q.Set("response_type", "code")
		q.Set("client_id", creds.ClientID)
		q.Set("redirect_uri", "https://evil.example.com/callback")
		resp := api.get(t, "/oauth/authorize?"+q.Encode(), asUser("alice"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Location"))
	})

	t.Run("missing user", func(t *testing.T) {
		t.Parallel()
		resp := api.get(t, "/oauth/authorize?"+authorizeQuery(creds.ClientID, scope.Basic), nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong response type", func(t *testing.T) {
		t.Parallel()
		resp := api.get(t, "/oauth/authorize?response_type=token&client_id="+creds.ClientID, asUser("alice"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestOAuthToken_ClientAuthentication(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	creds := api.registerPartner(t, 0)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", "tfa_bogus")
	form.Set("redirect_uri", testRedirect)

	resp := api.postForm(t, "/oauth/token", form, func(r *http.Request) {
		r.SetBasicAuth(creds.ClientID, "wrong-secret")
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, "invalid_client", decode[map[string]any](t, resp)["error"])

	form.Set("grant_type", "password")
	resp = api.postForm(t, "/oauth/token", form, func(r *http.Request) {
		r.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPartnersAdminAuth(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	creds := api.registerPartner(t, 0)

	tests := []struct {
		name   string
		bearer string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "nope", http.StatusUnauthorized},
		{"admin token", testAdminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := api.get(t, "/partners/"+creds.ClientID, func(r *http.Request) {
				if tt.bearer != "" {
					r.Header.Set("Authorization", "Bearer "+tt.bearer)
				}
			})
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp := api.postJSON(t, "/partners/"+creds.ClientID+"/approve", testAdminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "active to active is not a transition")

	resp = api.postJSON(t, "/partners/"+creds.ClientID+"/revoke", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "revoked", decode[credentials](t, resp).Status)
}

func TestWebhooksAPI(t *testing.T) {
	t.Parallel()

	var received bytes.Buffer
	hits := make(chan struct{}, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(&received, r.Body)
		w.WriteHeader(http.StatusNoContent)
		hits <- struct{}{}
	}))
	t.Cleanup(receiver.Close)

	api := newTestAPI(t)
	creds := api.registerPartner(t, 0)
	asPartner := func(r *http.Request) { r.SetBasicAuth(creds.ClientID, creds.ClientSecret) }

	data, err := json.Marshal(map[string]any{
		"url":    receiver.URL,
		"events": []string{string(webhook.EventScoreUpdated)},
	})
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, api.server.URL+"/webhooks", bytes.NewReader(data))
	require.NoError(t, err)
	asPartner(req)
	resp := api.do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	assert.NotEmpty(t, created["secret"])
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	resp = api.get(t, "/webhooks", asPartner)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[[]map[string]any](t, resp)
	require.Len(t, listed, 1)
	assert.NotContains(t, listed[0], "secret")

	resp = api.postJSON(t, "/webhooks/events", testAdminToken, map[string]any{
		"client_id": creds.ClientID,
		"event":     string(webhook.EventScoreUpdated),
		"data":      map[string]any{"user_id": "alice"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[webhook.Report](t, resp)
	assert.Equal(t, 1, report.Delivered)
	<-hits
	assert.Contains(t, received.String(), `"score.updated"`)

	resp = api.get(t, "/webhooks", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequestWithContext(context.Background(), http.MethodDelete, api.server.URL+"/webhooks/"+id, nil)
	require.NoError(t, err)
	asPartner(req)
	resp = api.do(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWebhooksAPI_RelaysScoreUpdates(t *testing.T) {
	t.Parallel()

	type delivery struct {
		header http.Header
		body   []byte
	}
	deliveries := make(chan delivery, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		deliveries <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(receiver.Close)

	api := newTestAPI(t)
	creds := api.registerPartner(t, 0)

	data, err := json.Marshal(map[string]any{
		"url":    receiver.URL,
		"events": []string{string(webhook.EventScoreUpdated)},
	})
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, api.server.URL+"/webhooks", bytes.NewReader(data))
	require.NoError(t, err)
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	resp := api.do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	secret, _ := created["secret"].(string)
	require.NotEmpty(t, secret)

	// Events the subscription did not ask for are not delivered.
	resp = api.postJSON(t, "/webhooks/events", testAdminToken, map[string]any{
		"client_id": creds.ClientID,
		"event":     string(webhook.EventConsentRevoked),
		"data":      map[string]any{"user_id": "alice"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decode[webhook.Report](t, resp).Delivered)

	// Only the admin token may relay directory events.
	resp = api.postJSON(t, "/webhooks/events", creds.ClientSecret, map[string]any{
		"client_id": creds.ClientID,
		"event":     string(webhook.EventScoreUpdated),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.postJSON(t, "/webhooks/events", testAdminToken, map[string]any{
		"client_id": creds.ClientID,
		"event":     string(webhook.EventScoreUpdated),
		"data":      map[string]any{"user_id": "alice", "previous_score": 61.5, "score": 72},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[webhook.Report](t, resp)
	assert.Equal(t, 1, report.Delivered)
	assert.Zero(t, report.Failed)

	got := <-deliveries
	assert.Equal(t, string(webhook.EventScoreUpdated), got.header.Get(webhook.EventHeader))

	var evt webhook.Event
	require.NoError(t, json.Unmarshal(got.body, &evt))
	assert.Equal(t, report.EventID, evt.ID)
	assert.Equal(t, webhook.EventScoreUpdated, evt.Type)
	assert.Equal(t, creds.ClientID, evt.ClientID)
	assert.Equal(t, "alice", evt.Data["user_id"])
	assert.InDelta(t, 72.0, evt.Data["score"], 0.001)

	ts, err := strconv.ParseInt(got.header.Get(webhook.TimestampHeader), 10, 64)
	require.NoError(t, err)
	assert.True(t, webhook.VerifySignature(webhook.SigningKey(secret), ts, got.body, got.header.Get(webhook.SignatureHeader)))
	assert.Empty(t, deliveries, "consent.revoked must not reach the receiver")
}

func TestAnalyticsAPI(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	creds := api.registerPartner(t, 0)
	other := api.registerPartner(t, 0)

	resp := api.get(t, "/analytics", func(r *http.Request) { r.SetBasicAuth(creds.ClientID, creds.ClientSecret) })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[map[string]any](t, resp)
	assert.Equal(t, creds.ClientID, summary["client_id"])

	resp = api.get(t, "/analytics?client_id="+other.ClientID, func(r *http.Request) {
		r.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.get(t, "/analytics?client_id="+other.ClientID, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+testAdminToken)
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.get(t, "/analytics?client_id="+other.ClientID+"&from=yesterday", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+testAdminToken)
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	resp := api.get(t, "/health", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.get(t, "/.well-known/jwks.json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	set := decode[map[string][]map[string]any](t, resp)
	require.Len(t, set["keys"], 1)
	assert.Equal(t, "EC", set["keys"][0]["kty"])
	assert.NotContains(t, set["keys"][0], "d")

	resp = api.get(t, "/version", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
