// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

var (
	// ErrNotFound is returned when a requested record does not exist, or when
	// a conditional update matched no row.
	ErrNotFound = httperr.WithCode(
		errors.New("record not found"),
		http.StatusNotFound,
	)

	// ErrAlreadyExists is returned when a record with the same key exists.
	ErrAlreadyExists = httperr.WithCode(
		errors.New("record already exists"),
		http.StatusConflict,
	)
)
