// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

// Config selects where signing keys come from.
type Config struct {
	// KeyDir is the directory containing PEM-encoded private keys. All key
	// filenames below are relative to it.
	KeyDir string

	// SigningKeyFile is the key new certificates are signed with. Required
	// when KeyDir is set. When both are empty an ephemeral key is generated.
	SigningKeyFile string

	// FallbackKeyFiles are previous keys kept for verification only. They are
	// published in the JWKS so certificates signed before a rotation still
	// verify until they expire.
	//
	// To rotate: generate a new key, make it SigningKeyFile, move the old
	// filename here, and drop it once the longest certificate validity has
	// passed.
	FallbackKeyFiles []string
}

// NewProviderFromConfig returns a FileProvider when KeyDir is set and a
// GeneratingProvider otherwise.
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	if cfg.KeyDir != "" {
		return NewFileProvider(cfg)
	}
	return NewGeneratingProvider(DefaultAlgorithm), nil
}
