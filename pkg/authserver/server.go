// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/directory"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/ratelimit"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/telemetry"
	"github.com/stacklok/trustfed/pkg/usage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// EventPublisher sends partner events without blocking the caller.
// *webhook.Dispatcher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, clientID string, event webhook.EventType, data map[string]any)
}

// Dependencies are the collaborators of a Server. Storage, Directory,
// Minter and Certificates are required.
type Dependencies struct {
	Storage      storage.Storage
	Directory    directory.Provider
	Minter       *secrets.TokenMinter
	Certificates *certificate.Engine

	// Limiter defaults to an in-memory sliding window.
	Limiter ratelimit.Limiter
	// Ledger defaults to a ledger over Storage.
	Ledger *usage.Ledger
	// Events is optional; without it no webhooks are sent.
	Events EventPublisher
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Server is the trust federation authorization server.
type Server struct {
	config       Config
	store        storage.Storage
	directory    directory.Provider
	minter       *secrets.TokenMinter
	certificates *certificate.Engine
	limiter      ratelimit.Limiter
	ledger       *usage.Ledger
	events       EventPublisher
	metrics      *telemetry.Metrics
	now          func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates an authorization server.
func New(cfg Config, deps Dependencies, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authserver config: %w", err)
	}
	cfg.applyDefaults()

	switch {
	case deps.Storage == nil:
		return nil, fmt.Errorf("storage is required")
	case deps.Directory == nil:
		return nil, fmt.Errorf("directory provider is required")
	case deps.Minter == nil:
		return nil, fmt.Errorf("token minter is required")
	case deps.Certificates == nil:
		return nil, fmt.Errorf("certificate engine is required")
	}

	s := &Server{
		config:       cfg,
		store:        deps.Storage,
		directory:    deps.Directory,
		minter:       deps.Minter,
		certificates: deps.Certificates,
		limiter:      deps.Limiter,
		ledger:       deps.Ledger,
		events:       deps.Events,
		metrics:      deps.Metrics,
		now:          time.Now,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter()
	}
	if s.ledger == nil {
		s.ledger = usage.NewLedger(deps.Storage)
	}
	for _, opt := range opts {
		opt(s)
	}

	logger.Debugw("created authorization server", "issuer", cfg.Issuer)
	return s, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Server) Config() Config {
	return s.config
}

// Ledger returns the usage ledger the server records into.
func (s *Server) Ledger() *usage.Ledger {
	return s.ledger
}

// Health reports whether the storage backend can serve requests.
func (s *Server) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

// Cleanup removes expired codes and tokens.
func (s *Server) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.store.Cleanup(ctx, s.now().UTC())
	if err != nil {
		logger.Errorw("failed to clean up expired grants", "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Debugw("cleaned up expired grants", "deleted", n)
	}
	return n, nil
}

func (s *Server) publish(ctx context.Context, clientID string, event webhook.EventType, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, clientID, event, data)
}

// activePartner loads a partner that may authorize users. Absent and
// inactive partners are indistinguishable to the caller.
func (s *Server) activePartner(ctx context.Context, clientID string) (*storage.PartnerApplication, error) {
	partner, err := s.store.GetPartner(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, trusterrors.NewUnknownClientError(fmt.Sprintf("client %q is not registered", clientID))
	}
	if err != nil {
		return nil, err
	}
	if !partner.IsActive() {
		return nil, trusterrors.NewUnknownClientError(fmt.Sprintf("client %q is %s", clientID, partner.Status))
	}
	return partner, nil
}

// authenticateClient checks client credentials at the token endpoint.
// Unknown clients and wrong secrets fail the same way so client IDs cannot
// be probed; the status is only revealed once the secret matched.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.PartnerApplication, error) {
	partner, err := s.store.GetPartner(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, trusterrors.ErrInvalidClientCredentials
	}
	if err != nil {
		return nil, err
	}
	if !secrets.CompareClientSecret(partner.SecretHash, clientSecret) {
		logger.Warnw("client authentication failed", "client_id", clientID)
		return nil, trusterrors.ErrInvalidClientCredentials
	}
	if !partner.IsActive() {
		return nil, trusterrors.NewUnknownClientError(fmt.Sprintf("client %q is %s", clientID, partner.Status))
	}
	return partner, nil
}

// AuthenticateClient checks client credentials for partner-facing
// endpoints outside the token flow.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.PartnerApplication, error) {
	return s.authenticateClient(ctx, clientID, clientSecret)
}
