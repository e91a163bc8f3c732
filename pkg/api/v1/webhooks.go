// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	"github.com/stacklok/trustfed/pkg/authserver"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// WebhookRoutes defines the webhook subscription endpoints.
type WebhookRoutes struct {
	dispatcher *webhook.Dispatcher
}

// WebhookRouter creates a router for /webhooks. Subscriptions are managed
// with partner client credentials; POST /events lets an administrator
// publish an event, such as score.updated, to a partner's subscribers.
func WebhookRouter(server *authserver.Server, dispatcher *webhook.Dispatcher, adminToken string) http.Handler {
	routes := WebhookRoutes{dispatcher: dispatcher}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(requirePartner(server))
		r.Get("/", apierrors.ErrorHandler(routes.listWebhooks))
		r.Post("/", apierrors.ErrorHandler(routes.subscribe))
		r.Delete("/{id}", apierrors.ErrorHandler(routes.unsubscribe))
		r.Post("/{id}/reactivate", apierrors.ErrorHandler(routes.reactivate))
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAdmin(adminToken))
		r.Post("/events", apierrors.ErrorHandler(routes.dispatchEvent))
	})
	return r
}

type subscribeRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type webhookResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Active        bool       `json:"active"`
	FailureCount  int        `json:"failure_count"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type subscriptionCreatedResponse struct {
	webhookResponse
	Secret string `json:"secret"`
}

func toWebhookResponse(s *storage.WebhookSubscription) webhookResponse {
	return webhookResponse{
		ID:            s.ID,
		URL:           s.URL,
		Events:        s.Events,
		Active:        s.Active,
		FailureCount:  s.FailureCount,
		LastSuccessAt: s.LastSuccessAt,
		LastFailureAt: s.LastFailureAt,
		CreatedAt:     s.CreatedAt,
	}
}

// listWebhooks
//
//	@Summary		List webhook subscriptions
//	@Tags			webhooks
//	@Produce		json
//	@Success		200	{array}	webhookResponse
//	@Router			/webhooks [get]
func (h *WebhookRoutes) listWebhooks(w http.ResponseWriter, r *http.Request) error {
	partner, _ := partnerFromContext(r.Context())
	subs, err := h.dispatcher.List(r.Context(), partner.ID)
	if err != nil {
		return err
	}
	out := make([]webhookResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toWebhookResponse(s))
	}
	return writeJSON(w, http.StatusOK, out)
}

// subscribe
//
//	@Summary		Subscribe to events
//	@Description	The signing secret is returned only in this response.
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		subscribeRequest	true	"Subscription"
//	@Success		201		{object}	subscriptionCreatedResponse
//	@Failure		400		{object}	apierrors.Response
//	@Router			/webhooks [post]
func (h *WebhookRoutes) subscribe(w http.ResponseWriter, r *http.Request) error {
	partner, _ := partnerFromContext(r.Context())
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	sub, secret, err := h.dispatcher.Subscribe(r.Context(), partner.ID, req.URL, req.Events)
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	return writeJSON(w, http.StatusCreated, subscriptionCreatedResponse{
		webhookResponse: toWebhookResponse(sub),
		Secret:          secret,
	})
}

func (h *WebhookRoutes) unsubscribe(w http.ResponseWriter, r *http.Request) error {
	partner, _ := partnerFromContext(r.Context())
	if err := h.dispatcher.Unsubscribe(r.Context(), partner.ID, chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *WebhookRoutes) reactivate(w http.ResponseWriter, r *http.Request) error {
	partner, _ := partnerFromContext(r.Context())
	if err := h.dispatcher.Reactivate(r.Context(), partner.ID, chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type dispatchRequest struct {
	ClientID string         `json:"client_id"`
	Event    string         `json:"event"`
	Data     map[string]any `json:"data,omitempty"`
}

// dispatchEvent delivers an event synchronously and reports the outcome.
func (h *WebhookRoutes) dispatchEvent(w http.ResponseWriter, r *http.Request) error {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ClientID == "" {
		return trusterrors.NewInvalidRequestError("client_id is required", nil)
	}
	report, err := h.dispatcher.Dispatch(r.Context(), req.ClientID, webhook.EventType(req.Event), req.Data)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, report)
}
