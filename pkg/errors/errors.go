// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error taxonomy shared by the trust federation
// components and its mapping onto HTTP statuses and RFC 6749 error codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ory/fosite"
)

// Error types
const (
	// TypeUnknownClient is returned when a client is absent or not active
	TypeUnknownClient = "unknown_client"

	// TypeInvalidRedirect is returned when a redirect URI is not whitelisted
	TypeInvalidRedirect = "invalid_redirect"

	// TypeInvalidScope is returned when a requested scope is unknown or not allowed
	TypeInvalidScope = "invalid_scope"

	// TypeInsufficientTrust is returned when the user's trust score is below the client minimum
	TypeInsufficientTrust = "insufficient_trust"

	// TypeInvalidClientCredentials is returned when client authentication fails
	TypeInvalidClientCredentials = "invalid_client_credentials"

	// TypeInvalidGrant is returned for expired, consumed, revoked or mismatched codes and tokens
	TypeInvalidGrant = "invalid_grant"

	// TypeInvalidSignature is returned when a certificate signature does not verify
	TypeInvalidSignature = "invalid_signature"

	// TypeExpired is returned when a certificate is past its expiry
	TypeExpired = "expired"

	// TypeProofInvalid is returned when a threshold proof does not verify
	TypeProofInvalid = "proof_invalid"

	// TypeRateLimitExceeded is returned when a client exceeds its hourly quota
	TypeRateLimitExceeded = "rate_limit_exceeded"

	// TypeWebhookDeliveryFailed is returned when a webhook endpoint rejects or misses a delivery
	TypeWebhookDeliveryFailed = "webhook_delivery_failed"

	// TypeStorageUnavailable is returned when the datastore cannot serve a request
	TypeStorageUnavailable = "storage_unavailable"

	// TypeInvalidRequest is returned for malformed input at the API boundary
	TypeInvalidRequest = "invalid_request"

	// TypeNotFound is returned when a referenced resource does not exist
	TypeNotFound = "not_found"
)

// Error represents an error in the trust federation core
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error

	// RetryAfter is set on rate limit errors to the time until capacity frees up
	RetryAfter time.Duration
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type, so that the
// sentinel values below can be matched with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// Sentinel values for errors.Is comparisons.
var (
	ErrUnknownClient            = &Error{Type: TypeUnknownClient, Message: "unknown or inactive client"}
	ErrInvalidRedirect          = &Error{Type: TypeInvalidRedirect, Message: "redirect URI is not registered"}
	ErrInvalidScope             = &Error{Type: TypeInvalidScope, Message: "requested scope is not allowed"}
	ErrInsufficientTrust        = &Error{Type: TypeInsufficientTrust, Message: "trust score below client minimum"}
	ErrInvalidClientCredentials = &Error{Type: TypeInvalidClientCredentials, Message: "client authentication failed"}
	ErrInvalidGrant             = &Error{Type: TypeInvalidGrant, Message: "grant is invalid, expired or already used"}
	ErrInvalidSignature         = &Error{Type: TypeInvalidSignature, Message: "certificate signature is invalid"}
	ErrExpired                  = &Error{Type: TypeExpired, Message: "certificate has expired"}
	ErrProofInvalid             = &Error{Type: TypeProofInvalid, Message: "threshold proof is invalid"}
	ErrRateLimitExceeded        = &Error{Type: TypeRateLimitExceeded, Message: "rate limit exceeded"}
	ErrWebhookDeliveryFailed    = &Error{Type: TypeWebhookDeliveryFailed, Message: "webhook delivery failed"}
	ErrStorageUnavailable       = &Error{Type: TypeStorageUnavailable, Message: "storage unavailable"}
	ErrInvalidRequest           = &Error{Type: TypeInvalidRequest, Message: "invalid request"}
	ErrNotFound                 = &Error{Type: TypeNotFound, Message: "resource not found"}
)

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewUnknownClientError creates a new unknown client error
func NewUnknownClientError(message string) *Error {
	return NewError(TypeUnknownClient, message, nil)
}

// NewInvalidScopeError creates a new invalid scope error
func NewInvalidScopeError(message string) *Error {
	return NewError(TypeInvalidScope, message, nil)
}

// NewInvalidGrantError creates a new invalid grant error
func NewInvalidGrantError(message string) *Error {
	return NewError(TypeInvalidGrant, message, nil)
}

// NewInvalidSignatureError creates a new invalid signature error
func NewInvalidSignatureError(message string, cause error) *Error {
	return NewError(TypeInvalidSignature, message, cause)
}

// NewInvalidRequestError creates a new invalid request error
func NewInvalidRequestError(message string, cause error) *Error {
	return NewError(TypeInvalidRequest, message, cause)
}

// NewStorageUnavailableError wraps a datastore failure
func NewStorageUnavailableError(message string, cause error) *Error {
	return NewError(TypeStorageUnavailable, message, cause)
}

// NewRateLimitError creates a rate limit error carrying the wait time
func NewRateLimitError(clientID string, retryAfter time.Duration) *Error {
	return &Error{
		Type:       TypeRateLimitExceeded,
		Message:    fmt.Sprintf("client %s exceeded its hourly quota", clientID),
		RetryAfter: retryAfter,
	}
}

// TypeOf returns the type of the first *Error in err's chain, or "" if none.
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// RetryAfter returns the wait time attached to a rate limit error, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Type == TypeRateLimitExceeded {
		return e.RetryAfter, true
	}
	return 0, false
}

// HTTPStatus maps an error to the status code returned at the API boundary.
// Errors outside the taxonomy are treated as internal failures.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case TypeUnknownClient, TypeInvalidRedirect, TypeInvalidScope, TypeInvalidGrant,
		TypeInvalidRequest, TypeInvalidSignature, TypeExpired, TypeProofInvalid:
		return http.StatusBadRequest
	case TypeInvalidClientCredentials:
		return http.StatusUnauthorized
	case TypeInsufficientTrust:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case TypeWebhookDeliveryFailed:
		return http.StatusBadGateway
	case TypeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// OAuthError converts err into the RFC 6749 error used on OAuth endpoints.
// The original message is carried as the hint; 5xx causes are not exposed.
func OAuthError(err error) *fosite.RFC6749Error {
	var e *Error
	if !errors.As(err, &e) {
		return fosite.ErrServerError
	}

	var base *fosite.RFC6749Error
	switch e.Type {
	case TypeUnknownClient:
		base = fosite.ErrUnauthorizedClient
	case TypeInvalidRedirect, TypeInvalidRequest:
		base = fosite.ErrInvalidRequest
	case TypeInvalidScope:
		base = fosite.ErrInvalidScope
	case TypeInsufficientTrust:
		base = fosite.ErrAccessDenied
	case TypeInvalidClientCredentials:
		base = fosite.ErrInvalidClient
	case TypeInvalidGrant:
		base = fosite.ErrInvalidGrant
	case TypeInvalidSignature, TypeExpired:
		base = fosite.ErrRequestUnauthorized
	case TypeStorageUnavailable:
		return fosite.ErrTemporarilyUnavailable
	default:
		return fosite.ErrServerError
	}
	return base.WithHint(e.Message)
}
