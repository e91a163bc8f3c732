// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/directory"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

const (
	testIssuer   = "https://trust.example.com"
	testRedirect = "https://partner.example.com/callback"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type publishedEvent struct {
	ClientID string
	Event    webhook.EventType
	Data     map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, clientID string, event webhook.EventType, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{ClientID: clientID, Event: event, Data: data})
}

func (p *recordingPublisher) Types() []webhook.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]webhook.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

type fixture struct {
	srv     *Server
	store   *storage.MemoryStorage
	clock   *testClock
	events  *recordingPublisher
	partner *storage.PartnerApplication
	secret  string
}

func testProfiles() []*directory.TrustProfile {
	return []*directory.TrustProfile{
		{UserID: "alice", Score: 85, Percentile: 92},
		{UserID: "bob", Score: 65, Percentile: 40},
	}
}

func newTestServer(t *testing.T, dir directory.Provider) (*Server, *storage.MemoryStorage, *testClock, *recordingPublisher) {
	t.Helper()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	minter, err := secrets.NewTokenMinter([]byte(strings.Repeat("k", secrets.MinSecretLength)))
	require.NoError(t, err)
	engine, err := certificate.NewEngine(keys.NewGeneratingProvider(""), testIssuer)
	require.NoError(t, err)

	clock := &testClock{now: time.Now().UTC()}
	events := &recordingPublisher{}
	srv, err := New(Config{Issuer: testIssuer}, Dependencies{
		Storage:      store,
		Directory:    dir,
		Minter:       minter,
		Certificates: engine,
		Events:       events,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return srv, store, clock, events
}

// newFixture registers and approves a partner allowed every scope.
func newFixture(t *testing.T, reg PartnerRegistration) *fixture {
	t.Helper()

	srv, store, clock, events := newTestServer(t, directory.NewStaticProvider(testProfiles()...))

	if reg.Name == "" {
		reg.Name = "Partner"
	}
	if len(reg.RedirectURIs) == 0 {
		reg.RedirectURIs = []string{testRedirect}
	}
	if len(reg.Scopes) == 0 {
		reg.Scopes = scope.All()
	}

	ctx := context.Background()
	registered, err := srv.RegisterPartner(ctx, reg)
	require.NoError(t, err)
	partner, err := srv.ApprovePartner(ctx, registered.Partner.ID)
	require.NoError(t, err)

	return &fixture{
		srv:     srv,
		store:   store,
		clock:   clock,
		events:  events,
		partner: partner,
		secret:  registered.ClientSecret,
	}
}

func (f *fixture) authorize(t *testing.T, userID, rawScope string) *AuthorizeResponse {
	t.Helper()
	resp, err := f.srv.Authorize(context.Background(), AuthorizeRequest{
		ClientID:    f.partner.ID,
		RedirectURI: testRedirect,
		Scope:       rawScope,
		State:       "xyz",
		UserID:      userID,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) exchange(t *testing.T, userID, rawScope string) *TokenResponse {
	t.Helper()
	code := f.authorize(t, userID, rawScope).Code
	resp, err := f.srv.ExchangeToken(context.Background(), code, f.partner.ID, f.secret, testRedirect)
	require.NoError(t, err)
	return resp
}
