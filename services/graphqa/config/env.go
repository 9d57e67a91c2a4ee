// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*dst(cfg) = n
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		*dst(cfg) = b
		return nil
	}
}

// envBindings lists the supported overrides. Secrets (NEO4J_PASSWORD and
// the API keys) are read by the secrets package, not here.
var envBindings = []envBinding{
	{"GRAPHQA_ADDR", setString(func(c *Config) *string { return &c.Server.Addr })},
	{"NEO4J_URI", setString(func(c *Config) *string { return &c.Neo4j.URI })},
	{"NEO4J_USER", setString(func(c *Config) *string { return &c.Neo4j.Username })},
	{"NEO4J_DATABASE", setString(func(c *Config) *string { return &c.Neo4j.Database })},
	{"LLM_PROVIDER", setString(func(c *Config) *string { return &c.LLM.Provider })},
	{"OPENAI_MODEL", setString(func(c *Config) *string { return &c.LLM.Model })},
	{"OPENAI_BASE_URL", setString(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"AZURE_OPENAI_ENDPOINT", setString(func(c *Config) *string { return &c.LLM.AzureEndpoint })},
	{"AZURE_OPENAI_DEPLOYMENT", setString(func(c *Config) *string { return &c.LLM.AzureDeployment })},
	{"AZURE_OPENAI_API_VERSION", setString(func(c *Config) *string { return &c.LLM.AzureAPIVersion })},
	{"OLLAMA_BASE_URL", setString(func(c *Config) *string { return &c.LLM.OllamaBaseURL })},
	{"OLLAMA_MODEL", setString(func(c *Config) *string { return &c.LLM.OllamaModel })},
	{"GRAPHQA_SCHEMA_TTL_SECONDS", setInt(func(c *Config) *int { return &c.Schema.TTLSeconds })},
	{"GRAPHQA_DEFAULT_ROW_CAP", setInt(func(c *Config) *int { return &c.Guard.DefaultRowCap })},
	{"GRAPHQA_INCLUDE_GRAPH_DOCS", setBool(func(c *Config) *bool { return &c.Generation.IncludeGraphDocs })},
	{"GRAPHQA_USE_DOCS_ONLY", setBool(func(c *Config) *bool { return &c.Generation.UseDocsOnly })},
	{"GRAPHQA_TRACES", setString(func(c *Config) *string { return &c.Telemetry.Traces })},
	{"CATALOG_DIR", setString(func(c *Config) *string { return &c.Catalog.Dir })},
}

// EnvNames returns the names of all supported override variables.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = b.name
	}
	return names
}

// applyEnv applies every set, non-empty override and returns how many were
// applied. All malformed values are reported together.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) (int, error) {
	applied := 0
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}
