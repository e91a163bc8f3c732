// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// StaticProvider serves profiles from memory, typically loaded from a YAML
// file. It backs development deployments and tests.
type StaticProvider struct {
	mu       sync.RWMutex
	profiles map[string]*TrustProfile
}

// staticFile is the on-disk layout read by LoadStaticProvider.
type staticFile struct {
	Users []*TrustProfile `yaml:"users"`
}

// NewStaticProvider creates a provider serving the given profiles.
func NewStaticProvider(profiles ...*TrustProfile) *StaticProvider {
	p := &StaticProvider{profiles: make(map[string]*TrustProfile, len(profiles))}
	for _, profile := range profiles {
		p.Put(profile)
	}
	return p
}

// LoadStaticProvider reads profiles from a YAML file with a top-level
// "users" list.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file %s: %w", path, err)
	}
	return ParseStaticProvider(data)
}

// ParseStaticProvider builds a provider from YAML bytes.
func ParseStaticProvider(data []byte) (*StaticProvider, error) {
	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}
	for i, u := range file.Users {
		if u == nil || u.UserID == "" {
			return nil, fmt.Errorf("directory entry %d has no user_id", i)
		}
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("directory entry %s: %w", u.UserID, err)
		}
	}
	return NewStaticProvider(file.Users...), nil
}

// Put adds or replaces a profile.
func (p *StaticProvider) Put(profile *TrustProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.UserID] = profile
}

// TrustProfile returns a copy of the stored profile.
func (p *StaticProvider) TrustProfile(_ context.Context, userID string) (*TrustProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	profile, ok := p.profiles[userID]
	if !ok {
		return nil, trusterrors.NewError(trusterrors.TypeNotFound, fmt.Sprintf("user %s not found in directory", userID), nil)
	}
	c := *profile
	return &c, nil
}
