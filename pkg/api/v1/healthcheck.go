// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/trustfed/pkg/logger"
)

// HealthChecker reports whether the service can serve requests.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthcheckRouter sets up healthcheck route.
func HealthcheckRouter(checker HealthChecker) http.Handler {
	routes := &healthcheckRoutes{checker: checker}
	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

type healthcheckRoutes struct {
	checker HealthChecker
}

//	 getHealthcheck
//		@Summary		Health check
//		@Description	Check that the datastore is reachable
//		@Tags			system
//		@Success		204	{string}	string	"No Content"
//		@Failure		503	{string}	string	"Service Unavailable"
//		@Router			/health [get]
func (h *healthcheckRoutes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	if err := h.checker.Health(r.Context()); err != nil {
		logger.Warnw("health check failed", "error", err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
