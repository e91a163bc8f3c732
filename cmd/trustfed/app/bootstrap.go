// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/config"
	"github.com/stacklok/trustfed/pkg/directory"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/ratelimit"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/storage/sqlstore"
	"github.com/stacklok/trustfed/pkg/telemetry"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// services holds every component built from a configuration.
type services struct {
	store      storage.Storage
	keys       keys.KeyProvider
	auth       *authserver.Server
	dispatcher *webhook.Dispatcher
	telemetry  *telemetry.Provider

	closers []func(context.Context) error
}

// Close waits for in-flight webhook deliveries and releases resources in
// reverse order of creation.
func (s *services) Close(ctx context.Context) error {
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *services) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// buildServices wires the components described by cfg. When withTelemetry
// is false no metrics are exported, which suits short-lived CLI commands.
func buildServices(ctx context.Context, cfg *config.Config, withTelemetry bool) (_ *services, err error) {
	svc := &services{}
	defer func() {
		if err != nil {
			_ = svc.Close(context.WithoutCancel(ctx))
		}
	}()

	var metrics *telemetry.Metrics
	if withTelemetry {
		svc.telemetry, err = telemetry.NewProvider(ctx, cfg.TelemetryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to set up telemetry: %w", err)
		}
		svc.onClose(svc.telemetry.Shutdown)
		metrics = svc.telemetry.Metrics()
	}

	svc.store, err = openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc.onClose(func(context.Context) error { return svc.store.Close() })

	dir, err := newDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	minter, err := loadMinter(cfg.Tokens.HMACSecretFile)
	if err != nil {
		return nil, err
	}

	svc.keys, err = keys.NewProviderFromConfig(cfg.KeysConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	engine, err := certificate.NewEngine(svc.keys, cfg.Issuer,
		certificate.WithValidity(time.Duration(cfg.Certificate.Validity)),
		certificate.WithSubjectAnonymization(config.Enabled(cfg.Certificate.AnonymizeSubjects, true)),
	)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}

	svc.dispatcher, err = webhook.NewDispatcher(svc.store, cfg.WebhookConfig(), webhook.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	svc.auth, err = authserver.New(cfg.AuthServerConfig(), authserver.Dependencies{
		Storage:      svc.store,
		Directory:    dir,
		Minter:       minter,
		Certificates: engine,
		Limiter:      limiter,
		Events:       svc.dispatcher,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case config.StorageMemory:
		logger.Warnf("using in-memory storage, all data is lost on restart")
		return storage.NewMemoryStorage(
			storage.WithCleanupInterval(time.Duration(cfg.CleanupInterval)),
		), nil
	case config.StorageSQLite, config.StoragePostgres:
		store, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Type), cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Type, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

func newDirectory(ctx context.Context, cfg *config.Config) (directory.Provider, error) {
	switch cfg.Directory.Type {
	case config.DirectoryStatic:
		return directory.LoadStaticProvider(cfg.Directory.File)
	case config.DirectoryHTTP:
		return directory.NewHTTPProvider(ctx, cfg.DirectoryHTTPConfig())
	default:
		return nil, fmt.Errorf("unsupported directory type %q", cfg.Directory.Type)
	}
}

func newLimiter(ctx context.Context, cfg *config.Config, svc *services) (ratelimit.Limiter, error) {
	redisCfg, ok := cfg.RedisConfig()
	if !ok {
		return ratelimit.NewMemoryLimiter(), nil
	}
	limiter, err := ratelimit.NewRedisLimiter(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	svc.onClose(func(context.Context) error { return limiter.Close() })
	return limiter, nil
}

// loadMinter reads the token HMAC secret. Surrounding whitespace is ignored.
func loadMinter(path string) (*secrets.TokenMinter, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read token secret: %w", err)
	}
	minter, err := secrets.NewTokenMinter(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("invalid token secret in %s: %w", path, err)
	}
	return minter, nil
}
