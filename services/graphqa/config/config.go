// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads GraphQA settings from embedded defaults, an optional
// YAML file and environment overrides.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// MaxYAMLFileSize bounds config files read from disk.
const MaxYAMLFileSize = 1 << 20

// PathEnv names the environment variable holding the config file path.
const PathEnv = "GRAPHQA_CONFIG"

var tracer = otel.Tracer("graphqa.config")

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the complete GraphQA configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Neo4j        Neo4jConfig        `yaml:"neo4j"`
	LLM          LLMConfig          `yaml:"llm"`
	Schema       SchemaConfig       `yaml:"schema"`
	Generation   GenerationConfig   `yaml:"generation"`
	Guard        GuardConfig        `yaml:"guard"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr                     string `yaml:"addr" validate:"required"`
	Mode                     string `yaml:"mode" validate:"oneof=debug release test"`
	ReadHeaderTimeoutSeconds int    `yaml:"read_header_timeout_seconds" validate:"min=1"`
	ShutdownTimeoutSeconds   int    `yaml:"shutdown_timeout_seconds" validate:"min=1"`

	// HeartbeatSeconds is the SSE heartbeat interval.
	HeartbeatSeconds int `yaml:"heartbeat_seconds" validate:"min=1"`
}

// Neo4jConfig configures the graph database connection. The password is a
// secret and is read through the secrets package.
type Neo4jConfig struct {
	URI                      string `yaml:"uri" validate:"required"`
	Username                 string `yaml:"username" validate:"required"`
	Database                 string `yaml:"database"`
	MaxConnectionPoolSize    int    `yaml:"max_connection_pool_size" validate:"min=1"`
	ConnectionTimeoutSeconds int    `yaml:"connection_timeout_seconds" validate:"min=1"`
	QueryTimeoutSeconds      int    `yaml:"query_timeout_seconds" validate:"min=1"`
	ConnectRetries           int    `yaml:"connect_retries" validate:"min=1"`
	SchemaPatternSample      int    `yaml:"schema_pattern_sample" validate:"min=1"`
}

// LLMConfig selects and tunes the language model. API keys are secrets.
type LLMConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=openai azure ollama none"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	Temperature       float64 `yaml:"temperature" validate:"min=0,max=2"`
	AnswerTemperature float64 `yaml:"answer_temperature" validate:"min=0,max=2"`
	MaxTokens         int     `yaml:"max_tokens" validate:"min=0"`
	AnswerMaxTokens   int     `yaml:"answer_max_tokens" validate:"min=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
	CostLimitCents    float64 `yaml:"cost_limit_cents" validate:"min=0"`
	SystemPrompt      string  `yaml:"system_prompt"`

	AzureEndpoint   string `yaml:"azure_endpoint" validate:"required_if=Provider azure"`
	AzureDeployment string `yaml:"azure_deployment" validate:"required_if=Provider azure"`
	AzureAPIVersion string `yaml:"azure_api_version"`

	OllamaBaseURL string `yaml:"ollama_base_url" validate:"required_if=Provider ollama"`
	OllamaModel   string `yaml:"ollama_model" validate:"required_if=Provider ollama"`
}

// SchemaConfig configures the schema snapshot cache.
type SchemaConfig struct {
	TTLSeconds           int `yaml:"ttl_seconds" validate:"min=1"`
	RetryIntervalSeconds int `yaml:"retry_interval_seconds" validate:"min=0"`
	FetchTimeoutSeconds  int `yaml:"fetch_timeout_seconds" validate:"min=1"`
}

// TTL returns the snapshot time-to-live.
func (s SchemaConfig) TTL() time.Duration { return seconds(s.TTLSeconds) }

// RetryInterval returns the minimum time between failed fetches.
func (s SchemaConfig) RetryInterval() time.Duration { return seconds(s.RetryIntervalSeconds) }

// FetchTimeout bounds one schema fetch.
func (s SchemaConfig) FetchTimeout() time.Duration { return seconds(s.FetchTimeoutSeconds) }

// GenerationConfig configures dynamic query generation.
type GenerationConfig struct {
	IncludeGraphDocs bool   `yaml:"include_graph_docs"`
	UseDocsOnly      bool   `yaml:"use_docs_only"`
	DocsPath         string `yaml:"docs_path" validate:"omitempty,file"`
	RetryOnReject    bool   `yaml:"retry_on_reject"`
}

// Attempts is the number of generate+validate rounds per dynamic step.
func (g GenerationConfig) Attempts() int {
	if g.RetryOnReject {
		return 2
	}
	return 1
}

// GuardConfig configures query validation.
type GuardConfig struct {
	DefaultRowCap int `yaml:"default_row_cap" validate:"min=1,max=10000"`
}

// OrchestratorConfig tunes classification and session execution.
type OrchestratorConfig struct {
	MaxTools           int     `yaml:"max_tools" validate:"min=1,max=20"`
	MinScore           float64 `yaml:"min_score" validate:"gt=0,lte=1"`
	MinMatchedTerms    int     `yaml:"min_matched_terms" validate:"min=1"`
	MaxConcurrentSteps int     `yaml:"max_concurrent_steps" validate:"min=1,max=64"`
	StepResultLimit    int     `yaml:"step_result_limit" validate:"min=1"`
	FinalAnswerLLM     bool    `yaml:"final_answer_llm"`
}

// CatalogConfig locates the tool catalog store.
type CatalogConfig struct {
	Dir string `yaml:"dir" validate:"required"`

	// ImportFile is a YAML tool file imported at startup.
	ImportFile string `yaml:"import_file"`

	// Watch re-imports ImportFile when it changes.
	Watch bool `yaml:"watch"`
}

// TelemetryConfig selects trace and metric exporters.
type TelemetryConfig struct {
	ServiceName  string       `yaml:"service_name" validate:"required"`
	Traces       string       `yaml:"traces" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string       `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`
	OTLPInsecure bool         `yaml:"otlp_insecure"`
	Metrics      string       `yaml:"metrics" validate:"oneof=prometheus stdout"`
	Influx       InfluxConfig `yaml:"influx"`
}

// InfluxConfig configures the session recorder. The token is a secret.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Org     string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// =============================================================================
// Loading
// =============================================================================

// Defaults returns the embedded defaults.
//
// Outputs:
//   - *Config: Parsed defaults. Never nil on success.
//   - error: Non-nil only if the embedded file is malformed.
func Defaults() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load builds the configuration.
//
// Description:
//
//	Starts from the embedded defaults, layers the YAML file at path (or at
//	$GRAPHQA_CONFIG when path is empty) on top, applies environment
//	overrides, then validates the result.
//
// Inputs:
//   - ctx: Context for tracing.
//   - path: Optional config file path.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil on unreadable files, bad YAML, bad env values or
//     validation failures.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, os.LookupEnv)
}

func load(ctx context.Context, path string, lookup func(string) (string, bool)) (*Config, error) {
	_, span := tracer.Start(ctx, "config.Load")
	defer span.End()

	fail := func(err error) (*Config, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cfg, err := Defaults()
	if err != nil {
		return fail(err)
	}

	if path == "" {
		path, _ = lookup(PathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fail(fmt.Errorf("config: read %s: %w", path, err))
		}
		if err := Merge(cfg, data); err != nil {
			return fail(fmt.Errorf("config: %s: %w", path, err))
		}
	}

	applied, err := applyEnv(cfg, lookup)
	if err != nil {
		return fail(fmt.Errorf("config: environment: %w", err))
	}

	if err := Validate(cfg); err != nil {
		return fail(err)
	}

	span.SetAttributes(
		attribute.String("path", path),
		attribute.Int("env_overrides", applied),
		attribute.String("llm.provider", cfg.LLM.Provider),
		attribute.String("telemetry.traces", cfg.Telemetry.Traces),
	)
	slog.Info("config loaded",
		slog.String("path", path),
		slog.Int("env_overrides", applied),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.Int("schema_ttl_seconds", cfg.Schema.TTLSeconds),
		slog.Int("default_row_cap", cfg.Guard.DefaultRowCap),
	)
	return cfg, nil
}

// Merge layers YAML data over cfg. Keys absent from data keep their values.
func Merge(cfg *Config, data []byte) error {
	if len(data) > MaxYAMLFileSize {
		return fmt.Errorf("YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("config: validation: %w", errors.Join(msgs...))
		}
		return fmt.Errorf("config: validation: %w", err)
	}
	if cfg.Generation.UseDocsOnly && cfg.Generation.IncludeGraphDocs {
		slog.Warn("use_docs_only overrides include_graph_docs")
	}
	return nil
}
