// Package secrets provides read-only secret resolution for components that
// declare requiresSecrets. Values pass through execution contexts in
// cleartext; masking in traces is the runner's responsibility.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fmzchao/studio/common/cache"
)

// Secret is one resolved secret value with its store version
type Secret struct {
	Value   string `json:"value"`
	Version string `json:"version,omitempty"`
}

// Provider resolves secrets by key. A nil secret with nil error means the
// key does not exist.
type Provider interface {
	Get(ctx context.Context, key string) (*Secret, error)
}

// Lister is an optional extension enumerating available secret names
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Static serves secrets from a fixed map, for tests and embedded runs
type Static struct {
	values map[string]Secret
}

// NewStatic creates a static provider from key/value pairs
func NewStatic(values map[string]string) *Static {
	secrets := make(map[string]Secret, len(values))
	for k, v := range values {
		secrets[k] = Secret{Value: v, Version: "static"}
	}
	return &Static{values: secrets}
}

// Get returns the secret for key, nil when absent
func (s *Static) Get(ctx context.Context, key string) (*Secret, error) {
	if secret, ok := s.values[key]; ok {
		return &secret, nil
	}
	return nil, nil
}

// List returns the available secret names, sorted
func (s *Static) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

const defaultSecretTTL = 5 * time.Minute

// Cached wraps a provider with a run-scoped TTL cache so repeated lookups
// within a run hit the backing store once
type Cached struct {
	provider Provider
	cache    cache.Cache
	runID    string
	ttl      time.Duration
}

// NewCached creates a caching provider scoped to one run
func NewCached(provider Provider, c cache.Cache, runID string, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultSecretTTL
	}
	return &Cached{provider: provider, cache: c, runID: runID, ttl: ttl}
}

func (c *Cached) cacheKey(key string) string {
	return fmt.Sprintf("secrets:%s:%s", c.runID, key)
}

// Get resolves key through the cache, falling back to the backing provider.
// Absent keys are not negatively cached.
func (c *Cached) Get(ctx context.Context, key string) (*Secret, error) {
	if data, ok, err := c.cache.Get(ctx, c.cacheKey(key)); err == nil && ok {
		var secret Secret
		if err := json.Unmarshal(data, &secret); err == nil {
			return &secret, nil
		}
	}

	secret, err := c.provider.Get(ctx, key)
	if err != nil || secret == nil {
		return secret, err
	}

	if data, err := json.Marshal(secret); err == nil {
		_ = c.cache.Set(ctx, c.cacheKey(key), data, c.ttl)
	}
	return secret, nil
}

// List delegates to the backing provider when it supports enumeration
func (c *Cached) List(ctx context.Context) ([]string, error) {
	if lister, ok := c.provider.(Lister); ok {
		return lister.List(ctx)
	}
	return nil, nil
}
