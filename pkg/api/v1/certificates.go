// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/certificate/keys"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// CertificateRoutes defines the certificate verification endpoint.
type CertificateRoutes struct {
	server *authserver.Server
}

// CertificateRouter creates a router for /certificates.
func CertificateRouter(server *authserver.Server) http.Handler {
	routes := CertificateRoutes{server: server}

	r := chi.NewRouter()
	r.Post("/verify", apierrors.ErrorHandler(routes.verify))
	return r
}

// verifyRequest is the body of a verification request.
type verifyRequest struct {
	Certificate string   `json:"certificate"`
	Fields      []string `json:"fields,omitempty"`
	VerifyProof bool     `json:"verify_proof,omitempty"`
	Thresholds  []int    `json:"thresholds,omitempty"`
}

// verifyResponse reports the verification outcome. Certificates that fail
// their signature, expiry or proof checks are reported with valid false.
type verifyResponse struct {
	*certificate.Verification
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// verify checks a certificate presented by a relying party.
//
//	@Summary		Verify a trust certificate
//	@Tags			certificates
//	@Accept			json
//	@Produce		json
//	@Param			request	body		verifyRequest	true	"Certificate to verify"
//	@Success		200		{object}	verifyResponse
//	@Failure		400		{object}	apierrors.Response
//	@Router			/certificates/verify [post]
func (c *CertificateRoutes) verify(w http.ResponseWriter, r *http.Request) error {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Certificate == "" {
		return trusterrors.NewInvalidRequestError("certificate is required", nil)
	}

	v, err := c.server.VerifyCertificate(r.Context(), req.Certificate, certificate.VerifyOptions{
		Fields:      req.Fields,
		VerifyProof: req.VerifyProof,
		Thresholds:  req.Thresholds,
	})
	if err != nil {
		switch t := trusterrors.TypeOf(err); t {
		case trusterrors.TypeInvalidSignature, trusterrors.TypeExpired, trusterrors.TypeProofInvalid:
			return writeJSON(w, http.StatusOK, verifyResponse{Verification: v, Valid: false, Error: t})
		}
		return err
	}
	return writeJSON(w, http.StatusOK, verifyResponse{Verification: v, Valid: v.Valid})
}

// WellKnownRouter serves the public signing keys at /.well-known.
func WellKnownRouter(provider keys.KeyProvider) http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks.json", apierrors.ErrorHandler(func(w http.ResponseWriter, r *http.Request) error {
		set, err := keys.JWKS(r.Context(), provider)
		if err != nil {
			return err
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		return writeJSON(w, http.StatusOK, set)
	}))
	return r
}
