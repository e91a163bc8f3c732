// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/stacklok/toolhive-core/httperr"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// Response is the JSON body of an error response.
type Response struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Code returns the HTTP status for err. Errors of the trust federation
// taxonomy map by type; anything else uses the code attached with
// httperr.WithCode, or 500.
func Code(err error) int {
	if trusterrors.TypeOf(err) != "" {
		return trusterrors.HTTPStatus(err)
	}
	return httperr.Code(err)
}

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into JSON error responses.
//
// The decorator:
//   - Returns early if no error is returned (handler already wrote response)
//   - For 5xx errors: logs full error details, returns generic message to client
//   - For 4xx errors: returns the error type and message to the client
//   - For rate limit errors: sets Retry-After
//
// Usage:
//
//	r.Post("/", apierrors.ErrorHandler(routes.registerPartner))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		code := Code(err)
		setRetryAfter(w, err)

		if code >= http.StatusInternalServerError {
			logger.Errorw("internal server error",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			write(w, code, Response{Error: errorType(err, code), ErrorDescription: http.StatusText(code)})
			return
		}

		write(w, code, Response{Error: errorType(err, code), ErrorDescription: description(err)})
	}
}

// OAuthErrorHandler is ErrorHandler for RFC 6749 endpoints: the body
// carries the standard OAuth error code, and failed client authentication
// answers 401 with a Basic challenge.
func OAuthErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		oauthErr := trusterrors.OAuthError(err)
		code := oauthErr.CodeField
		switch trusterrors.TypeOf(err) {
		case trusterrors.TypeInvalidClientCredentials:
			code = http.StatusUnauthorized
			w.Header().Set("WWW-Authenticate", `Basic realm="trustfed"`)
		case trusterrors.TypeStorageUnavailable:
			code = http.StatusServiceUnavailable
		}
		if code == 0 {
			code = http.StatusBadRequest
		}
		setRetryAfter(w, err)

		if code >= http.StatusInternalServerError {
			logger.Errorw("oauth endpoint failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}

		w.Header().Set("Cache-Control", "no-store")
		write(w, code, Response{Error: oauthErr.ErrorField, ErrorDescription: oauthErr.GetDescription()})
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	write(w, code, v)
}

func write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("failed to write response", "error", err)
	}
}

func setRetryAfter(w http.ResponseWriter, err error) {
	if d, ok := trusterrors.RetryAfter(err); ok {
		secs := int64(math.Ceil(d.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
	}
}

func errorType(err error, code int) string {
	if t := trusterrors.TypeOf(err); t != "" {
		return t
	}
	if code >= http.StatusInternalServerError {
		return "server_error"
	}
	return trusterrors.TypeInvalidRequest
}

func description(err error) string {
	var e *trusterrors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
