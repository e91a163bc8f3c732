// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/trustfed/pkg/versions"
)

// VersionRouter sets up the version route.
func VersionRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", getVersion)
	return r
}

type versionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

//	 getVersion
//		@Summary		Get server version
//		@Tags			system
//		@Produce		json
//		@Success		200	{object}	versionResponse
//		@Router			/version [get]
func getVersion(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	_ = writeJSON(w, http.StatusOK, versionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
	})
}
