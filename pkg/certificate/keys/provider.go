// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/stacklok/trustfed/pkg/logger"
)

// KeyProvider provides the keys certificates are signed and verified with.
type KeyProvider interface {
	// SigningKey returns the key new certificates are signed with.
	SigningKey(ctx context.Context) (*SigningKeyData, error)

	// PublicKeys returns every key certificates may have been signed with,
	// the current signing key first.
	PublicKeys(ctx context.Context) ([]*PublicKeyData, error)
}

// FileProvider serves keys loaded from PEM files at construction time.
// Changing the files requires a restart.
type FileProvider struct {
	signingKey *SigningKeyData
	allKeys    []*SigningKeyData
}

// NewFileProvider loads the signing key and all fallback keys from cfg.KeyDir.
func NewFileProvider(cfg Config) (*FileProvider, error) {
	if cfg.SigningKeyFile == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signingKey, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, cfg.SigningKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	allKeys := []*SigningKeyData{signingKey}
	seen := map[string]bool{signingKey.KeyID: true}
	for _, filename := range cfg.FallbackKeyFiles {
		key, err := loadKeyFromFile(filepath.Join(cfg.KeyDir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load fallback key %s: %w", filename, err)
		}
		if seen[key.KeyID] {
			continue
		}
		seen[key.KeyID] = true
		allKeys = append(allKeys, key)
	}

	return &FileProvider{signingKey: signingKey, allKeys: allKeys}, nil
}

func loadKeyFromFile(keyPath string) (*SigningKeyData, error) {
	ecKey, err := LoadSigningKey(keyPath)
	if err != nil {
		return nil, err
	}
	data, err := newSigningKeyData(ecKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key parameters: %w", err)
	}
	data.CreatedAt = time.Now()
	return data, nil
}

// SigningKey returns a copy of the primary signing key.
func (p *FileProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	return p.signingKey.clone(), nil
}

// PublicKeys returns the public halves of the signing and fallback keys.
func (p *FileProvider) PublicKeys(_ context.Context) ([]*PublicKeyData, error) {
	pubKeys := make([]*PublicKeyData, 0, len(p.allKeys))
	for _, key := range p.allKeys {
		pubKeys = append(pubKeys, key.public())
	}
	return pubKeys, nil
}

// GeneratingProvider creates an ephemeral key on first use. Certificates it
// signs stop verifying after a restart, so it is for development only.
type GeneratingProvider struct {
	algorithm string
	mu        sync.Mutex
	key       *SigningKeyData
}

// NewGeneratingProvider creates a provider for algorithm, or DefaultAlgorithm
// when algorithm is empty.
func NewGeneratingProvider(algorithm string) *GeneratingProvider {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	return &GeneratingProvider{algorithm: algorithm}
}

// SigningKey returns the signing key, generating it on the first call.
func (p *GeneratingProvider) SigningKey(_ context.Context) (*SigningKeyData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key == nil {
		ecKey, err := GenerateSigningKey(p.algorithm)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		key, err := newSigningKeyData(ecKey)
		if err != nil {
			return nil, err
		}
		key.CreatedAt = time.Now()

		logger.Warnw("generated ephemeral signing key, certificates will not verify after restart",
			"algorithm", key.Algorithm,
			"key_id", key.KeyID,
		)
		p.key = key
	}
	return p.key.clone(), nil
}

// PublicKeys returns the public half of the generated key.
func (p *GeneratingProvider) PublicKeys(ctx context.Context) ([]*PublicKeyData, error) {
	key, err := p.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return []*PublicKeyData{key.public()}, nil
}

// FindPublicKey returns the published key with the given key ID.
func FindPublicKey(ctx context.Context, provider KeyProvider, keyID string) (*PublicKeyData, error) {
	keys, err := provider.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.KeyID == keyID {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
}

var (
	_ KeyProvider = (*FileProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
)
