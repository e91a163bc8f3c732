// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
)

const (
	defaultHTTPTimeout   = 5 * time.Second
	defaultMaxRetries    = 2
	defaultRetryInterval = 200 * time.Millisecond
	maxProfileBytes      = 1 << 20
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	// BaseURL is the directory API root; profiles are read from
	// {BaseURL}/users/{id}/trust.
	BaseURL string
	// TokenURL, ClientID and ClientSecret enable OAuth2 client credentials
	// authentication against the directory when TokenURL is set.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Timeout bounds each attempt. Defaults to 5s.
	Timeout time.Duration
	// MaxRetries is how many times a lookup is retried after a transport
	// error or a 5xx response. Defaults to 2; negative disables retries.
	MaxRetries int
	// RetryInterval is the initial backoff between attempts. Defaults to 200ms.
	RetryInterval time.Duration
}

// HTTPProvider reads profiles from a remote directory service.
type HTTPProvider struct {
	baseURL       *url.URL
	client        *http.Client
	maxTries      uint
	retryInterval time.Duration
}

// NewHTTPProvider creates a provider for the directory at cfg.BaseURL.
func NewHTTPProvider(ctx context.Context, cfg HTTPConfig) (*HTTPProvider, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid directory base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// token requests and directory calls share the instrumented transport
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		client = cc.Client(ctx)
		client.Timeout = timeout
	}

	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	return &HTTPProvider{
		baseURL:       base,
		client:        client,
		maxTries:      uint(retries + 1), // #nosec G115 -- retries is non-negative
		retryInterval: interval,
	}, nil
}

// TrustProfile fetches the profile of userID. Transport errors and 5xx
// responses are retried with exponential backoff.
func (p *HTTPProvider) TrustProfile(ctx context.Context, userID string) (*TrustProfile, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.retryInterval
	expBackoff.MaxInterval = 10 * p.retryInterval
	expBackoff.Reset()

	return backoff.Retry(ctx, func() (*TrustProfile, error) {
		return p.fetch(ctx, userID)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugw("retrying directory lookup", "user_id", userID, "delay", d, "error", err)
		}),
	)
}

// fetch performs one lookup. Errors that retrying cannot fix are marked
// permanent.
func (p *HTTPProvider) fetch(ctx context.Context, userID string) (*TrustProfile, error) {
	endpoint := p.baseURL.JoinPath("users", userID, "trust")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build directory request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, trusterrors.NewStorageUnavailableError("directory request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(trusterrors.NewError(trusterrors.TypeNotFound,
			fmt.Sprintf("user %s not found in directory", userID), nil))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, trusterrors.NewStorageUnavailableError(
			fmt.Sprintf("directory returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(trusterrors.NewStorageUnavailableError(
			fmt.Sprintf("directory returned status %d", resp.StatusCode), nil))
	}

	var profile TrustProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&profile); err != nil {
		return nil, backoff.Permanent(trusterrors.NewStorageUnavailableError("failed to decode directory response", err))
	}
	if err := profile.Validate(); err != nil {
		return nil, backoff.Permanent(trusterrors.NewStorageUnavailableError(
			fmt.Sprintf("directory returned an invalid profile for %s", userID), err))
	}
	if profile.UserID == "" {
		profile.UserID = userID
	}
	return &profile, nil
}
