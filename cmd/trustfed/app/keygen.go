// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/secrets"
)

// tokenSecretBytes is the amount of entropy written to a token secret file.
const tokenSecretBytes = 48

func newKeygenCmd() *cobra.Command {
	var (
		signingKeyPath  string
		tokenSecretPath string
		algorithm       string
		force           bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a certificate signing key and a token secret",
		Long: `Generate the key material the server needs:

- an ECDSA private key in PEM form used to sign trust certificates
- a random secret used to derive opaque access and refresh tokens

Existing files are left untouched unless --force is given.`,
		Example: `  trustfed keygen --signing-key keys/signing.pem --token-secret keys/token.secret`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if signingKeyPath == "" && tokenSecretPath == "" {
				return errors.New("nothing to generate, set --signing-key and/or --token-secret")
			}
			out := cmd.OutOrStdout()

			if signingKeyPath != "" {
				kid, err := writeSigningKey(signingKeyPath, algorithm, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s signing key %s to %s\n", algorithm, kid, signingKeyPath)
			}
			if tokenSecretPath != "" {
				if err := writeTokenSecret(tokenSecretPath, force); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote token secret to %s\n", tokenSecretPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&signingKeyPath, "signing-key", "", "Path to write the PEM-encoded signing key to")
	cmd.Flags().StringVar(&tokenSecretPath, "token-secret", "", "Path to write the token HMAC secret to")
	cmd.Flags().StringVar(&algorithm, "algorithm", keys.DefaultAlgorithm, "Signing algorithm (ES256, ES384 or ES512)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func writeSigningKey(path, algorithm string, force bool) (string, error) {
	key, err := keys.GenerateSigningKey(algorithm)
	if err != nil {
		return "", err
	}
	kid, err := keys.DeriveKeyID(key)
	if err != nil {
		return "", err
	}
	data, err := keys.EncodeSigningKey(key)
	if err != nil {
		return "", err
	}
	if err := writeSecretFile(path, data, force); err != nil {
		return "", err
	}
	return kid, nil
}

func writeTokenSecret(path string, force bool) error {
	raw := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("failed to generate token secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	if _, err := secrets.NewTokenMinter([]byte(secret)); err != nil {
		return err
	}
	return writeSecretFile(path, []byte(secret+"\n"), force)
}

// writeSecretFile writes data readable only by the current user.
func writeSecretFile(path string, data []byte, force bool) error {
	path = filepath.Clean(path)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists, use --force to overwrite it", path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
