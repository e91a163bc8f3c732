// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

// @title           Trust Federation API
// @version         1.0
// @description     Partner registration, OAuth 2.0 authorization and trust certificates.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	v1 "github.com/stacklok/trustfed/pkg/api/v1"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/webhook"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second

	// DefaultMaxRequestBodySize bounds request bodies when no limit is set.
	DefaultMaxRequestBodySize int64 = 1 << 20
)

// Config configures the HTTP server.
type Config struct {
	// Address is the TCP address to listen on.
	Address string

	// AdminToken guards the admin routes. Empty disables them.
	AdminToken string

	// MaxRequestBodySize bounds request bodies in bytes.
	MaxRequestBodySize int64
}

// Services are the components the routes are served from.
type Services struct {
	Auth     *authserver.Server
	Webhooks *webhook.Dispatcher
	Keys     keys.KeyProvider

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the HTTP handler for every route.
func NewRouter(cfg Config, svc Services) http.Handler {
	maxBody := cfg.MaxRequestBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxRequestBodySize
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		requestBodySizeLimitMiddleware(maxBody),
	)

	routers := map[string]http.Handler{
		"/health":       v1.HealthcheckRouter(svc.Auth),
		"/version":      v1.VersionRouter(),
		"/oauth":        v1.OAuthRouter(svc.Auth),
		"/partners":     v1.PartnerRouter(svc.Auth, cfg.AdminToken),
		"/webhooks":     v1.WebhookRouter(svc.Auth, svc.Webhooks, cfg.AdminToken),
		"/analytics":    v1.AnalyticsRouter(svc.Auth, cfg.AdminToken),
		"/certificates": v1.CertificateRouter(svc.Auth),
		"/.well-known":  v1.WellKnownRouter(svc.Keys),
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}
	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics)
	}

	return otelhttp.NewHandler(r, "trustfed",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
}

// Serve starts the server on cfg.Address and serves the API until ctx is
// cancelled. It is assumed that the caller sets up appropriate signal
// handling.
func Serve(ctx context.Context, cfg Config, svc Services) error {
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}
	return serve(ctx, listener, NewRouter(cfg, svc))
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Infow("starting HTTP server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("HTTP server stopped")
	return nil
}

// requestBodySizeLimitMiddleware rejects bodies larger than maxBodySize with
// 413. Declared lengths are checked up front; undeclared or understated
// lengths are caught while the handler reads, and the handler's 400 is
// reported as 413.
func requestBodySizeLimitMiddleware(maxBodySize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBodySize {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBodySize)}
			r.Body = body
			next.ServeHTTP(&bodySizeResponseWriter{ResponseWriter: w, body: body}, r)
		})
	}
}

type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.exceeded = true
	}
	return n, err
}

type bodySizeResponseWriter struct {
	http.ResponseWriter
	body *limitedBody
}

func (w *bodySizeResponseWriter) WriteHeader(code int) {
	if code == http.StatusBadRequest {
		// A decoder may fail on the content before reaching the limit;
		// drain the bounded remainder to tell an oversized body apart.
		if !w.body.exceeded {
			_, _ = io.Copy(io.Discard, w.body)
		}
		if w.body.exceeded {
			code = http.StatusRequestEntityTooLarge
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodySizeResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
