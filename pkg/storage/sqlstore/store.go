// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/trustfed/pkg/storage"
)

// getOne runs a single-row query (including UPDATE ... RETURNING) into dest
// and maps an empty result to ErrNotFound.
func (s *Store) getOne(ctx context.Context, what string, dest any, query string, args ...any) error {
	if err := s.db.GetContext(ctx, dest, s.q(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
		return unavailable("querying "+what, err)
	}
	return nil
}

// -----------------------
// PartnerStore
// -----------------------

// CreatePartner stores a new partner.
func (s *Store) CreatePartner(ctx context.Context, partner *storage.PartnerApplication) error {
	return s.insert(ctx, "partner", `INSERT INTO partner_applications (`+partnerColumns+`)
		VALUES (:id, :secret_hash, :name, :description, :homepage_url, :logo_url, :redirect_uris,
			:scopes, :min_trust_required, :rate_limit_per_hour, :status, :created_at, :updated_at)`,
		toPartnerRow(partner))
}

// GetPartner loads a partner by client ID.
func (s *Store) GetPartner(ctx context.Context, id string) (*storage.PartnerApplication, error) {
	var row partnerRow
	if err := s.getOne(ctx, "partner", &row,
		`SELECT `+partnerColumns+` FROM partner_applications WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// ListPartners returns partners ordered by creation time.
func (s *Store) ListPartners(ctx context.Context, status storage.PartnerStatus) ([]*storage.PartnerApplication, error) {
	query := `SELECT ` + partnerColumns + ` FROM partner_applications`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	var rows []partnerRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, unavailable("listing partners", err)
	}
	out := make([]*storage.PartnerApplication, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// UpdatePartnerStatus changes the lifecycle state of a partner.
func (s *Store) UpdatePartnerStatus(ctx context.Context, id string, status storage.PartnerStatus, at time.Time) error {
	return s.execOne(ctx, "partner",
		`UPDATE partner_applications SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), micros(at), id)
}

// UpdatePartnerSecret replaces the stored client secret hash.
func (s *Store) UpdatePartnerSecret(ctx context.Context, id, secretHash string, at time.Time) error {
	return s.execOne(ctx, "partner",
		`UPDATE partner_applications SET secret_hash = ?, updated_at = ? WHERE id = ?`,
		secretHash, micros(at), id)
}

// -----------------------
// CodeStore
// -----------------------

// CreateAuthorizationCode stores a freshly minted code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	return s.insert(ctx, "authorization code", `INSERT INTO authorization_codes (`+codeColumns+`)
		VALUES (:code_hash, :client_id, :user_id, :scopes, :redirect_uri, :state, :created_at, :expires_at, :consumed)`,
		toCodeRow(code))
}

// ConsumeAuthorizationCode marks a matching code consumed in one statement.
func (s *Store) ConsumeAuthorizationCode(
	ctx context.Context, codeHash, clientID, redirectURI string, now time.Time,
) (*storage.AuthorizationCode, error) {
	var row codeRow
	if err := s.getOne(ctx, "authorization code", &row,
		`UPDATE authorization_codes SET consumed = 1
		WHERE code_hash = ? AND consumed = 0 AND client_id = ? AND redirect_uri = ? AND expires_at > ?
		RETURNING `+codeColumns,
		codeHash, clientID, redirectURI, micros(now)); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// -----------------------
// TokenStore
// -----------------------

// CreateToken stores a new token pair.
func (s *Store) CreateToken(ctx context.Context, token *storage.Token) error {
	return s.insert(ctx, "token", `INSERT INTO tokens (`+tokenColumns+`)
		VALUES (:id, :access_hash, :refresh_hash, :client_id, :user_id, :scopes, :access_expires_at,
			:refresh_expires_at, :usage_count, :last_used_at, :revoked, :created_at)`,
		toTokenRow(token))
}

// UseAccessToken records one use of a live access token.
func (s *Store) UseAccessToken(ctx context.Context, accessHash string, now time.Time) (*storage.Token, error) {
	var row tokenRow
	if err := s.getOne(ctx, "access token", &row,
		`UPDATE tokens SET usage_count = usage_count + 1, last_used_at = ?
		WHERE access_hash = ? AND revoked = 0 AND access_expires_at > ?
		RETURNING `+tokenColumns,
		micros(now), accessHash, micros(now)); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// RotateRefreshToken revokes a live pair by its refresh hash.
func (s *Store) RotateRefreshToken(ctx context.Context, refreshHash, clientID string, now time.Time) (*storage.Token, error) {
	var row tokenRow
	if err := s.getOne(ctx, "refresh token", &row,
		`UPDATE tokens SET revoked = 1
		WHERE refresh_hash = ? AND client_id = ? AND revoked = 0 AND refresh_expires_at > ?
		RETURNING `+tokenColumns,
		refreshHash, clientID, micros(now)); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// RevokeToken revokes the pair matching hash for clientID.
func (s *Store) RevokeToken(ctx context.Context, hash, clientID string) error {
	return s.execOne(ctx, "token",
		`UPDATE tokens SET revoked = 1 WHERE client_id = ? AND (access_hash = ? OR refresh_hash = ?)`,
		clientID, hash, hash)
}

// RevokeClientTokens revokes all outstanding pairs of a client.
func (s *Store) RevokeClientTokens(ctx context.Context, clientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tokens SET revoked = 1 WHERE client_id = ? AND revoked = 0`), clientID)
	if err != nil {
		return 0, unavailable("revoking client tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("revoking client tokens", err)
	}
	return n, nil
}

// -----------------------
// ConsentStore
// -----------------------

// UpsertConsent creates or replaces the grant for a user and partner.
func (s *Store) UpsertConsent(ctx context.Context, grant *storage.ConsentGrant) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO consent_grants
		(user_id, client_id, scopes, granted_at, expires_at, auto_renew)
		VALUES (:user_id, :client_id, :scopes, :granted_at, :expires_at, :auto_renew)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scopes = excluded.scopes,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			auto_renew = excluded.auto_renew`,
		consentRow{
			UserID:    grant.UserID,
			ClientID:  grant.ClientID,
			Scopes:    encodeList(grant.Scopes),
			GrantedAt: micros(grant.GrantedAt),
			ExpiresAt: micros(grant.ExpiresAt),
			AutoRenew: flag(grant.AutoRenew),
		})
	if err != nil {
		return unavailable("upserting consent", err)
	}
	return nil
}

// GetConsent loads the grant for a user and partner.
func (s *Store) GetConsent(ctx context.Context, userID, clientID string) (*storage.ConsentGrant, error) {
	var row consentRow
	if err := s.getOne(ctx, "consent", &row,
		`SELECT user_id, client_id, scopes, granted_at, expires_at, auto_renew
		FROM consent_grants WHERE user_id = ? AND client_id = ?`, userID, clientID); err != nil {
		return nil, err
	}
	return row.model(), nil
}

// DeleteConsent removes the grant for a user and partner.
func (s *Store) DeleteConsent(ctx context.Context, userID, clientID string) error {
	return s.execOne(ctx, "consent",
		`DELETE FROM consent_grants WHERE user_id = ? AND client_id = ?`, userID, clientID)
}

// -----------------------
// Maintenance
// -----------------------

// Cleanup deletes expired codes and token pairs whose refresh token expired.
func (s *Store) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, query := range []string{
		`DELETE FROM authorization_codes WHERE expires_at <= ?`,
		`DELETE FROM tokens WHERE refresh_expires_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, s.q(query), micros(now))
		if err != nil {
			return total, unavailable("cleaning up expired grants", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, unavailable("cleaning up expired grants", err)
		}
		total += n
	}
	return total, nil
}
