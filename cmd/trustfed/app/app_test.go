// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/config"
)

func TestParseWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{
			name:      "defaults to the last day",
			wantStart: now.Add(-24 * time.Hour),
			wantEnd:   now,
		},
		{
			name:      "explicit end",
			to:        "2025-05-01T00:00:00Z",
			wantStart: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "explicit bounds",
			from:      "2025-05-01T00:00:00Z",
			to:        "2025-05-08T00:00:00Z",
			wantStart: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 5, 8, 0, 0, 0, 0, time.UTC),
		},
		{name: "invalid from", from: "yesterday", wantErr: true},
		{name: "invalid to", to: "2025-13-01", wantErr: true},
		{name: "inverted", from: "2025-05-08T00:00:00Z", to: "2025-05-01T00:00:00Z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			start, end, err := parseWindow(tt.from, tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(start), "start %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end %s", end)
		})
	}
}

func TestKeygen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "keys", "signing.pem")
	secretPath := filepath.Join(dir, "keys", "token.secret")

	cmd := newKeygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--signing-key", keyPath, "--token-secret", secretPath})
	require.NoError(t, cmd.Execute())

	key, err := keys.LoadSigningKey(keyPath)
	require.NoError(t, err)
	kid, err := keys.DeriveKeyID(key)
	require.NoError(t, err)
	assert.Contains(t, out.String(), kid)

	info, err := os.Stat(secretPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	minter, err := loadMinter(secretPath)
	require.NoError(t, err)
	assert.NotNil(t, minter)

	// A second run must not clobber existing key material.
	cmd = newKeygenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--token-secret", secretPath})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestKeygen_NothingToDo(t *testing.T) {
	t.Parallel()

	cmd := newKeygenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}

func TestLoadMinter_ShortSecret(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token.secret")
	require.NoError(t, os.WriteFile(path, []byte("too-short\n"), 0o600))

	_, err := loadMinter(path)
	assert.Error(t, err)
}

func TestBuildServices_SQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signing.pem")
	secretPath := filepath.Join(dir, "token.secret")
	dirPath := filepath.Join(dir, "directory.yaml")

	_, err := writeSigningKey(keyPath, keys.DefaultAlgorithm, false)
	require.NoError(t, err)
	require.NoError(t, writeTokenSecret(secretPath, false))
	require.NoError(t, os.WriteFile(dirPath, []byte("users: []\n"), 0o600))

	cfg := config.Default()
	cfg.Issuer = "https://trust.example.com"
	cfg.Storage.Type = config.StorageSQLite
	cfg.Storage.DSN = filepath.Join(dir, "trustfed.db")
	cfg.Signing.KeyDir = dir
	cfg.Signing.SigningKeyFile = "signing.pem"
	cfg.Tokens.HMACSecretFile = secretPath
	cfg.Directory.File = dirPath

	ctx := t.Context()
	svc, err := buildServices(ctx, cfg, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(ctx) })

	require.NoError(t, svc.auth.Health(ctx))
	assert.Nil(t, svc.telemetry)

	partners, err := svc.auth.ListPartners(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, partners)
}
