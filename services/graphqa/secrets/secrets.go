// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets keeps credentials sealed in memguard enclaves between the
// moment they are read and the moment a client is constructed.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when a secret is unset or empty.
var ErrSecretNotFound = errors.New("secret not found")

// Well-known secret names.
const (
	Neo4jPassword     = "NEO4J_PASSWORD"
	OpenAIAPIKey      = "OPENAI_API_KEY"
	AzureOpenAIAPIKey = "AZURE_OPENAI_API_KEY"
	InfluxToken       = "INFLUX_TOKEN"
)

// Backend retrieves raw secret values.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvBackend reads secrets from environment variables.
type EnvBackend struct {
	lookup func(string) (string, bool)
}

// NewEnvBackend creates a backend over the process environment.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{lookup: os.LookupEnv}
}

// GetSecret implements Backend.
func (e *EnvBackend) GetSecret(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("retrieving secret %q: %w", key, err)
	}
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	return v, nil
}

// Store holds sealed secrets.
//
// Description:
//
//	Seal copies each value from the backend into an encrypted enclave and
//	wipes the intermediate buffer. Reveal decrypts into a locked buffer
//	only for the duration of the callback.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.RWMutex
	enclaves map[string]*memguard.Enclave
}

// NewStore creates an empty Store. A nil backend uses the environment.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if backend == nil {
		backend = NewEnvBackend()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		logger:   logger.With(slog.String("component", "secrets")),
		enclaves: make(map[string]*memguard.Enclave),
	}
}

// Seal loads and seals each key. Missing keys are skipped and reported by
// Has; any other backend error aborts.
func (s *Store) Seal(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		v, err := s.backend.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			s.logger.Debug("secret not set", slog.String("key", key))
			continue
		}
		if err != nil {
			return err
		}
		buf := []byte(v)
		enclave := memguard.NewEnclave(buf)
		s.mu.Lock()
		s.enclaves[key] = enclave
		s.mu.Unlock()
	}
	return nil
}

// Has reports whether key was sealed.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.enclaves[key]
	return ok
}

// Reveal opens key's enclave and passes the plaintext to fn. The slice is
// wiped when fn returns and must not be retained.
func (s *Store) Reveal(key string, fn func(secret []byte) error) error {
	s.mu.RLock()
	enclave, ok := s.enclaves[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
	}
	lb, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret %q: %w", key, err)
	}
	defer lb.Destroy()
	return fn(lb.Bytes())
}

// String returns a copy of key's plaintext for clients that only accept
// strings. Missing keys return "" and ErrSecretNotFound.
func (s *Store) String(key string) (string, error) {
	var out string
	err := s.Reveal(key, func(b []byte) error {
		out = string(b)
		return nil
	})
	return out, err
}

// Forget drops every sealed secret.
func (s *Store) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclaves = make(map[string]*memguard.Enclave)
}
