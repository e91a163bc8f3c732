// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

// setBuildInfo overrides the link-time metadata for the duration of a test.
func setBuildInfo(t *testing.T, version, commit, buildDate string) {
	t.Helper()
	origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
	t.Cleanup(func() {
		Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
	})
	Version, Commit, BuildDate = version, commit, buildDate
}

func TestGetVersionInfo(t *testing.T) { //nolint:paralleltest // mutates link-time globals
	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		wantVersion   string
		wantBuildDate string
	}{
		{
			name:          "unreleased build without commit",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			wantVersion:   "build-unknown",
			wantBuildDate: unknownStr,
		},
		{
			name:          "unreleased build uses short commit",
			version:       "dev",
			commit:        "0f3a9c2e71d4b5a6",
			buildDate:     "2025-09-01T08:00:00Z",
			wantVersion:   "build-0f3a9c2e",
			wantBuildDate: "2025-09-01 08:00:00 UTC",
		},
		{
			name:          "commit shorter than the prefix",
			version:       "dev",
			commit:        "7c1e",
			buildDate:     unknownStr,
			wantVersion:   "build-7c1e",
			wantBuildDate: unknownStr,
		},
		{
			name:          "tagged release normalizes offset dates to UTC",
			version:       "v0.4.0",
			commit:        "0f3a9c2e71d4b5a6",
			buildDate:     "2025-09-01T10:00:00+02:00",
			wantVersion:   "v0.4.0",
			wantBuildDate: "2025-09-01 08:00:00 UTC",
		},
		{
			name:          "unparseable build date is passed through",
			version:       "v0.4.1",
			commit:        "a1b2c3",
			buildDate:     "yesterday",
			wantVersion:   "v0.4.1",
			wantBuildDate: "yesterday",
		},
	}

	for _, tt := range tests { //nolint:paralleltest // mutates link-time globals
		t.Run(tt.name, func(t *testing.T) {
			setBuildInfo(t, tt.version, tt.commit, tt.buildDate)

			info := GetVersionInfo()

			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.commit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
		})
	}
}
