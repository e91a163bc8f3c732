// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

func TestClientPost_SignsPayload(t *testing.T) {
	t.Parallel()

	key := SigningKey("whsec_test")
	payload := []byte(`{"id":"evt-1"}`)
	ts := time.Unix(1700000000, 0)

	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	err := NewClient().Post(context.Background(), delivery{
		URL:        server.URL,
		Key:        key,
		Event:      EventScoreUpdated,
		DeliveryID: "dlv-1",
		Payload:    payload,
		Timestamp:  ts,
	})
	require.NoError(t, err)

	assert.Equal(t, payload, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, string(EventScoreUpdated), gotHeaders.Get(EventHeader))
	assert.Equal(t, "dlv-1", gotHeaders.Get(DeliveryHeader))
	assert.Equal(t, strconv.FormatInt(ts.Unix(), 10), gotHeaders.Get(TimestampHeader))
	assert.True(t, VerifySignature(key, ts.Unix(), gotBody, gotHeaders.Get(SignatureHeader)))
}

func TestClientPost_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "redirect is not followed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
			},
			wantStatus: http.StatusFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			t.Cleanup(server.Close)

			err := NewClient().Post(context.Background(), delivery{
				URL:       server.URL,
				Key:       SigningKey("whsec_test"),
				Event:     EventCredentialIssued,
				Payload:   []byte(`{}`),
				Timestamp: time.Now(),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, trusterrors.ErrWebhookDeliveryFailed)

			var de *DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantStatus, de.StatusCode)
		})
	}
}

func TestClientPost_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewClient().Post(ctx, delivery{
		URL:       server.URL,
		Key:       SigningKey("whsec_test"),
		Event:     EventCredentialIssued,
		Payload:   []byte(`{}`),
		Timestamp: time.Now(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
