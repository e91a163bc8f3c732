// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	"github.com/stacklok/trustfed/pkg/authserver"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// defaultAnalyticsWindow is summarized when no bounds are given.
const defaultAnalyticsWindow = 24 * time.Hour

// AnalyticsRoutes defines the usage analytics endpoint.
type AnalyticsRoutes struct {
	server *authserver.Server
	now    func() time.Time
}

// AnalyticsRouter creates a router for /analytics. Partners see their own
// usage; the admin token may query any client.
func AnalyticsRouter(server *authserver.Server, adminToken string) http.Handler {
	routes := AnalyticsRoutes{server: server, now: time.Now}

	r := chi.NewRouter()
	r.Use(requirePartnerOrAdmin(server, adminToken))
	r.Get("/", apierrors.ErrorHandler(routes.getAnalytics))
	return r
}

// getAnalytics
//
//	@Summary		Summarize partner usage
//	@Tags			analytics
//	@Produce		json
//	@Param			client_id	query		string	false	"Client ID, defaults to the authenticated partner"
//	@Param			from		query		string	false	"RFC 3339 start, defaults to 24h ago"
//	@Param			to			query		string	false	"RFC 3339 end, defaults to now"
//	@Success		200			{object}	usage.Summary
//	@Failure		403			{object}	apierrors.Response
//	@Router			/analytics [get]
func (a *AnalyticsRoutes) getAnalytics(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	clientID := q.Get("client_id")

	if partner, ok := partnerFromContext(r.Context()); ok && !adminFromContext(r.Context()) {
		if clientID == "" {
			clientID = partner.ID
		}
		if clientID != partner.ID {
			return httperr.WithCode(errors.New("partners may only read their own analytics"), http.StatusForbidden)
		}
	}

	to := a.now().UTC()
	from := to.Add(-defaultAnalyticsWindow)
	var err error
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return trusterrors.NewInvalidRequestError("to must be an RFC 3339 timestamp", err)
		}
		if q.Get("from") == "" {
			from = to.Add(-defaultAnalyticsWindow)
		}
	}
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return trusterrors.NewInvalidRequestError("from must be an RFC 3339 timestamp", err)
		}
	}

	summary, err := a.server.Ledger().Summarize(r.Context(), clientID, from, to)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, summary)
}
