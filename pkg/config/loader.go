// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/stacklok/toolhive-core/env"
	"gopkg.in/yaml.v3"
)

// envPattern matches ${NAME} references.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// YAMLLoader loads configuration from a YAML file, expanding ${NAME}
// references from the environment before parsing.
type YAMLLoader struct {
	path      string
	envReader env.Reader
}

// NewYAMLLoader creates a loader for the file at path.
func NewYAMLLoader(path string, envReader env.Reader) *YAMLLoader {
	return &YAMLLoader{path: path, envReader: envReader}
}

// Load reads, expands, parses, defaults and validates the configuration.
func (l *YAMLLoader) Load() (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(l.path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := l.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands and decodes data and applies defaults without validating.
func (l *YAMLLoader) Parse(data []byte) (*Config, error) {
	expanded, err := expandEnv(data, l.envReader)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return cfg, nil
}

// expandEnv replaces every ${NAME} in data. A reference to an unset or
// empty variable is an error.
func expandEnv(data []byte, envReader env.Reader) ([]byte, error) {
	var missing []error
	out := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		value := envReader.Getenv(name)
		if value == "" {
			missing = append(missing, fmt.Errorf("environment variable %s not set or empty", name))
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	return out, nil
}
