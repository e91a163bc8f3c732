// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/storage"
)

// PartnerRoutes defines the routes for partner registration and lifecycle.
type PartnerRoutes struct {
	server *authserver.Server
}

// PartnerRouter creates a router for partner endpoints. Registration is
// public; every other route requires the admin token.
func PartnerRouter(server *authserver.Server, adminToken string) http.Handler {
	routes := PartnerRoutes{server: server}

	r := chi.NewRouter()
	r.Post("/", apierrors.ErrorHandler(routes.registerPartner))
	r.Group(func(r chi.Router) {
		r.Use(requireAdmin(adminToken))
		r.Get("/", apierrors.ErrorHandler(routes.listPartners))
		r.Get("/{id}", apierrors.ErrorHandler(routes.getPartner))
		r.Post("/{id}/approve", apierrors.ErrorHandler(routes.approvePartner))
		r.Post("/{id}/suspend", apierrors.ErrorHandler(routes.suspendPartner))
		r.Post("/{id}/revoke", apierrors.ErrorHandler(routes.revokePartner))
		r.Post("/{id}/secret", apierrors.ErrorHandler(routes.rotateSecret))
	})
	return r
}

// partnerResponse is the public view of a partner. The secret hash is
// never returned.
type partnerResponse struct {
	ClientID         string    `json:"client_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	HomepageURL      string    `json:"homepage_url,omitempty"`
	LogoURL          string    `json:"logo_url,omitempty"`
	RedirectURIs     []string  `json:"redirect_uris"`
	Scopes           []string  `json:"scopes"`
	MinTrustRequired int       `json:"min_trust_required"`
	RateLimitPerHour int       `json:"rate_limit_per_hour"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// credentialsResponse is returned once when a secret is created.
type credentialsResponse struct {
	partnerResponse
	ClientSecret string `json:"client_secret"`
}

func toPartnerResponse(p *storage.PartnerApplication) partnerResponse {
	return partnerResponse{
		ClientID:         p.ID,
		Name:             p.Name,
		Description:      p.Description,
		HomepageURL:      p.HomepageURL,
		LogoURL:          p.LogoURL,
		RedirectURIs:     p.RedirectURIs,
		Scopes:           p.Scopes,
		MinTrustRequired: p.MinTrustRequired,
		RateLimitPerHour: p.RateLimitPerHour,
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// registerPartner registers a new partner in the pending state.
//
//	@Summary		Register a partner
//	@Tags			partners
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authserver.PartnerRegistration	true	"Registration"
//	@Success		201		{object}	credentialsResponse
//	@Failure		400		{object}	apierrors.Response
//	@Router			/partners [post]
func (p *PartnerRoutes) registerPartner(w http.ResponseWriter, r *http.Request) error {
	var req authserver.PartnerRegistration
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	registered, err := p.server.RegisterPartner(r.Context(), req)
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	return writeJSON(w, http.StatusCreated, credentialsResponse{
		partnerResponse: toPartnerResponse(registered.Partner),
		ClientSecret:    registered.ClientSecret,
	})
}

func (p *PartnerRoutes) listPartners(w http.ResponseWriter, r *http.Request) error {
	partners, err := p.server.ListPartners(r.Context(), storage.PartnerStatus(r.URL.Query().Get("status")))
	if err != nil {
		return err
	}
	out := make([]partnerResponse, 0, len(partners))
	for _, partner := range partners {
		out = append(out, toPartnerResponse(partner))
	}
	return writeJSON(w, http.StatusOK, out)
}

func (p *PartnerRoutes) getPartner(w http.ResponseWriter, r *http.Request) error {
	partner, err := p.server.GetPartner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toPartnerResponse(partner))
}

func (p *PartnerRoutes) approvePartner(w http.ResponseWriter, r *http.Request) error {
	partner, err := p.server.ApprovePartner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toPartnerResponse(partner))
}

func (p *PartnerRoutes) suspendPartner(w http.ResponseWriter, r *http.Request) error {
	partner, err := p.server.SuspendPartner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toPartnerResponse(partner))
}

func (p *PartnerRoutes) revokePartner(w http.ResponseWriter, r *http.Request) error {
	partner, err := p.server.RevokePartner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toPartnerResponse(partner))
}

func (p *PartnerRoutes) rotateSecret(w http.ResponseWriter, r *http.Request) error {
	rotated, err := p.server.RotateClientSecret(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-store")
	return writeJSON(w, http.StatusOK, credentialsResponse{
		partnerResponse: toPartnerResponse(rotated.Partner),
		ClientSecret:    rotated.ClientSecret,
	})
}
