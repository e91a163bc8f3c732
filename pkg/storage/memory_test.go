// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(_ *testing.T) storage.Storage {
		return storage.NewMemoryStorage()
	})
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	p := &storage.PartnerApplication{
		ID:           "p1",
		RedirectURIs: []string{"https://a.example/cb"},
		Status:       storage.PartnerActive,
	}
	require.NoError(t, s.CreatePartner(ctx, p))
	p.RedirectURIs[0] = "https://mutated.example/cb"

	got, err := s.GetPartner(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/cb", got.RedirectURIs[0])

	got.Status = storage.PartnerRevoked
	again, err := s.GetPartner(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, storage.PartnerActive, again.Status)
}

func TestMemoryStorage_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := storage.NewMemoryStorage()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
