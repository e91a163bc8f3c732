// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlstore

import (
	"context"
	"time"

	"github.com/stacklok/trustfed/pkg/storage"
)

// CreateSubscription stores a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *storage.WebhookSubscription) error {
	return s.insert(ctx, "subscription", `INSERT INTO webhook_subscriptions (`+subscriptionColumns+`)
		VALUES (:id, :client_id, :url, :secret_hash, :events, :active, :failure_count,
			:last_success_at, :last_failure_at, :created_at)`,
		toSubscriptionRow(sub))
}

// GetSubscription loads a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, id string) (*storage.WebhookSubscription, error) {
	var row subscriptionRow
	if err := s.getOne(ctx, "subscription", &row,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// ListSubscriptions returns a client's subscriptions ordered by creation time.
func (s *Store) ListSubscriptions(ctx context.Context, clientID string) ([]*storage.WebhookSubscription, error) {
	var rows []subscriptionRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions WHERE client_id = ? ORDER BY created_at, id`), clientID); err != nil {
		return nil, unavailable("listing subscriptions", err)
	}
	out := make([]*storage.WebhookSubscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// DeleteSubscription removes a subscription owned by clientID.
func (s *Store) DeleteSubscription(ctx context.Context, id, clientID string) error {
	return s.execOne(ctx, "subscription",
		`DELETE FROM webhook_subscriptions WHERE id = ? AND client_id = ?`, id, clientID)
}

// RecordDeliverySuccess resets the failure count and records the success time.
func (s *Store) RecordDeliverySuccess(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "subscription",
		`UPDATE webhook_subscriptions SET failure_count = 0, last_success_at = ? WHERE id = ?`,
		micros(at), id)
}

// RecordDeliveryFailure increments the failure count of an active
// subscription and deactivates it once the count reaches maxFailures.
func (s *Store) RecordDeliveryFailure(
	ctx context.Context, id string, at time.Time, maxFailures int,
) (*storage.WebhookSubscription, error) {
	var row subscriptionRow
	if err := s.getOne(ctx, "subscription", &row,
		`UPDATE webhook_subscriptions SET
			failure_count = failure_count + 1,
			last_failure_at = ?,
			active = CASE WHEN failure_count + 1 >= ? THEN 0 ELSE 1 END
		WHERE id = ? AND active = 1
		RETURNING `+subscriptionColumns,
		micros(at), maxFailures, id); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// ReactivateSubscription marks a subscription active again and clears its failures.
func (s *Store) ReactivateSubscription(ctx context.Context, id, clientID string) error {
	return s.execOne(ctx, "subscription",
		`UPDATE webhook_subscriptions SET active = 1, failure_count = 0 WHERE id = ? AND client_id = ?`,
		id, clientID)
}

// AppendUsage adds a record to the ledger.
func (s *Store) AppendUsage(ctx context.Context, record *storage.UsageRecord) error {
	return s.insert(ctx, "usage record", `INSERT INTO usage_records (`+usageColumns+`)
		VALUES (:id, :client_id, :user_id, :endpoint, :trust_score, :latency_us, :success, :error_code, :recorded_at)`,
		toUsageRow(record))
}

// ListUsage returns matching ledger entries, oldest first.
func (s *Store) ListUsage(ctx context.Context, filter storage.UsageFilter) ([]*storage.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE 1 = 1`
	var args []any
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	if !filter.From.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, micros(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND recorded_at < ?`
		args = append(args, micros(filter.To))
	}
	query += ` ORDER BY recorded_at, id`

	var rows []usageRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, unavailable("listing usage", err)
	}
	out := make([]*storage.UsageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
