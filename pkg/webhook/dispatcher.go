// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/telemetry"
)

// Dispatcher manages subscriptions and fans events out to them.
type Dispatcher struct {
	store   storage.WebhookStore
	client  *Client
	config  Config
	metrics *telemetry.Metrics
	now     func() time.Time

	// inflight tracks deliveries started by Publish.
	inflight sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records delivery metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store storage.WebhookStore, config Config, opts ...Option) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		store:  store,
		client: NewClient(),
		config: config.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Subscribe registers url for events of clientID. The returned secret is
// shown once; only its digest is kept.
func (d *Dispatcher) Subscribe(
	ctx context.Context, clientID, url string, events []string,
) (*storage.WebhookSubscription, string, error) {
	if err := ValidateEndpoint(url, d.config.AllowInsecure); err != nil {
		return nil, "", trusterrors.NewInvalidRequestError(err.Error(), nil)
	}
	parsed, err := parseEvents(events)
	if err != nil {
		return nil, "", trusterrors.NewInvalidRequestError(err.Error(), nil)
	}

	secret, digest, err := generateSecret()
	if err != nil {
		return nil, "", err
	}

	sub := &storage.WebhookSubscription{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		URL:        url,
		SecretHash: digest,
		Events:     parsed,
		Active:     true,
		CreatedAt:  d.now().UTC(),
	}
	if err := d.store.CreateSubscription(ctx, sub); err != nil {
		return nil, "", err
	}

	logger.Infow("webhook subscription created",
		"client_id", clientID,
		"subscription_id", sub.ID,
		"events", parsed,
	)
	return sub, secret, nil
}

// Unsubscribe deletes a subscription owned by clientID.
func (d *Dispatcher) Unsubscribe(ctx context.Context, clientID, id string) error {
	if err := d.store.DeleteSubscription(ctx, id, clientID); err != nil {
		return notFound(err, id)
	}
	logger.Infow("webhook subscription deleted", "client_id", clientID, "subscription_id", id)
	return nil
}

// Reactivate re-enables a subscription owned by clientID and clears its
// failure count.
func (d *Dispatcher) Reactivate(ctx context.Context, clientID, id string) error {
	if err := d.store.ReactivateSubscription(ctx, id, clientID); err != nil {
		return notFound(err, id)
	}
	logger.Infow("webhook subscription reactivated", "client_id", clientID, "subscription_id", id)
	return nil
}

// List returns the subscriptions of clientID.
func (d *Dispatcher) List(ctx context.Context, clientID string) ([]*storage.WebhookSubscription, error) {
	return d.store.ListSubscriptions(ctx, clientID)
}

// Report summarizes one dispatch.
type Report struct {
	EventID     string   `json:"event_id"`
	Delivered   int      `json:"delivered"`
	Failed      int      `json:"failed"`
	Deactivated []string `json:"deactivated,omitempty"`
}

// Dispatch delivers event to every active subscription of clientID that
// wants it and waits for all deliveries. Delivery failures are counted
// against their subscription and reported, never returned.
func (d *Dispatcher) Dispatch(
	ctx context.Context, clientID string, event EventType, data map[string]any,
) (*Report, error) {
	if !event.Valid() {
		return nil, trusterrors.NewInvalidRequestError(fmt.Sprintf("unknown event type %q", event), nil)
	}

	subs, err := d.store.ListSubscriptions(ctx, clientID)
	if err != nil {
		return nil, err
	}

	evt := &Event{
		ID:         uuid.NewString(),
		Type:       event,
		Version:    APIVersion,
		ClientID:   clientID,
		OccurredAt: d.now().UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	report := &Report{EventID: evt.ID}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for _, sub := range subs {
		if !sub.Active || !sub.Subscribes(string(event)) {
			continue
		}
		g.Go(func() error {
			deactivated, err := d.deliver(ctx, sub, evt, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
			} else {
				report.Delivered++
			}
			if deactivated {
				report.Deactivated = append(report.Deactivated, sub.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, nil
}

// Publish dispatches in the background so the caller's request is never
// delayed or failed by webhook delivery. The deliveries outlive ctx's
// cancellation but keep its values.
func (d *Dispatcher) Publish(ctx context.Context, clientID string, event EventType, data map[string]any) {
	bg := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if _, err := d.Dispatch(bg, clientID, event, data); err != nil {
			logger.Errorw("webhook dispatch failed",
				"client_id", clientID,
				"event", string(event),
				"error", err,
			)
		}
	}()
}

// Wait blocks until deliveries started by Publish have finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// deliver sends one delivery and updates the subscription's health. It
// reports whether the subscription was deactivated by this failure.
func (d *Dispatcher) deliver(
	ctx context.Context, sub *storage.WebhookSubscription, evt *Event, payload []byte,
) (bool, error) {
	key, err := hex.DecodeString(sub.SecretHash)
	if err != nil {
		err = fmt.Errorf("subscription %s has a malformed secret digest: %w", sub.ID, err)
		return d.recordFailure(ctx, sub, evt, err)
	}

	dctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	start := d.now()
	err = d.client.Post(dctx, delivery{
		URL:        sub.URL,
		Key:        key,
		Event:      evt.Type,
		DeliveryID: uuid.NewString(),
		Payload:    payload,
		Timestamp:  start,
	})
	d.metrics.RecordWebhookDelivery(ctx, string(evt.Type), d.now().Sub(start), err)

	if err != nil {
		return d.recordFailure(ctx, sub, evt, err)
	}

	if err := d.store.RecordDeliverySuccess(ctx, sub.ID, d.now().UTC()); err != nil {
		logger.Warnw("failed to record webhook success",
			"subscription_id", sub.ID,
			"error", err,
		)
	}
	return false, nil
}

func (d *Dispatcher) recordFailure(
	ctx context.Context, sub *storage.WebhookSubscription, evt *Event, cause error,
) (bool, error) {
	logger.Warnw("webhook delivery failed",
		"client_id", sub.ClientID,
		"subscription_id", sub.ID,
		"event", string(evt.Type),
		"event_id", evt.ID,
		"error", cause,
	)

	updated, err := d.store.RecordDeliveryFailure(ctx, sub.ID, d.now().UTC(), d.config.MaxFailures)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Deactivated or deleted by a concurrent delivery.
		return false, cause
	case err != nil:
		logger.Errorw("failed to record webhook failure",
			"subscription_id", sub.ID,
			"error", err,
		)
		return false, cause
	}

	if !updated.Active {
		logger.Warnw("webhook subscription deactivated after repeated failures",
			"client_id", sub.ClientID,
			"subscription_id", sub.ID,
			"failure_count", updated.FailureCount,
		)
		return true, cause
	}
	return false, cause
}

func notFound(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return trusterrors.NewError(trusterrors.TypeNotFound, fmt.Sprintf("webhook subscription %s not found", id), err)
	}
	return err
}
