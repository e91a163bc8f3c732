// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// DeliveryError describes a failed delivery: a transport error or a non-2xx
// response. It matches errors.ErrWebhookDeliveryFailed.
type DeliveryError struct {
	// URL is the endpoint the delivery was sent to.
	URL string
	// StatusCode is the response status, zero on transport errors.
	StatusCode int
	// Err is the underlying transport error, if any.
	Err error
}

// Error implements error.
func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("webhook delivery to %s failed with status %d", e.URL, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches the webhook delivery failure sentinel.
func (*DeliveryError) Is(target error) bool {
	return trusterrors.TypeOf(target) == trusterrors.TypeWebhookDeliveryFailed
}

// Client posts signed event payloads.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client whose requests are traced with otelhttp.
func NewClient() *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			// Redirects are not followed; a 3xx counts as a failure.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// delivery is a single signed POST.
type delivery struct {
	URL        string
	Key        []byte
	Event      EventType
	DeliveryID string
	Payload    []byte
	Timestamp  time.Time
}

// Post sends d and succeeds only on a 2xx response. The context bounds the
// whole exchange, including reading the response.
func (c *Client) Post(ctx context.Context, d delivery) error {
	ts := d.Timestamp.Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return &DeliveryError{URL: d.URL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trustfed-webhooks/"+APIVersion)
	req.Header.Set(SignatureHeader, SignPayload(d.Key, ts, d.Payload))
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(EventHeader, string(d.Event))
	req.Header.Set(DeliveryHeader, d.DeliveryID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{URL: d.URL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{URL: d.URL, StatusCode: resp.StatusCode}
	}
	return nil
}
