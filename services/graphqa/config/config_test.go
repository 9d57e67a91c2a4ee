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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_EmbeddedDefaults(t *testing.T) {
	cfg, err := load(context.Background(), "", env(nil))
	if err != nil {
		t.Fatalf("load failed on embedded defaults: %v", err)
	}
	if cfg.Schema.TTL() != 300*time.Second {
		t.Errorf("schema TTL = %v, want 300s", cfg.Schema.TTL())
	}
	if cfg.Schema.RetryInterval() != time.Minute {
		t.Errorf("retry interval = %v, want 60s", cfg.Schema.RetryInterval())
	}
	if cfg.Guard.DefaultRowCap != 100 {
		t.Errorf("default_row_cap = %d, want 100", cfg.Guard.DefaultRowCap)
	}
	o := cfg.Orchestrator
	if o.MaxTools != 3 || o.MinScore != 0.5 || o.MinMatchedTerms != 2 || o.MaxConcurrentSteps != 4 || o.StepResultLimit != 10 {
		t.Errorf("orchestrator defaults = %+v", o)
	}
	if !o.FinalAnswerLLM {
		t.Error("final_answer_llm should default to true")
	}
	if cfg.Generation.Attempts() != 2 {
		t.Errorf("Attempts = %d, want 2 with retry_on_reject", cfg.Generation.Attempts())
	}
	if cfg.Generation.IncludeGraphDocs || cfg.Generation.UseDocsOnly {
		t.Error("docs flags should default to false")
	}
}

func TestLoad_FileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphqa.yaml")
	data := []byte(`
schema:
  ttl_seconds: 42
generation:
  retry_on_reject: false
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(context.Background(), path, env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Schema.TTLSeconds != 42 {
		t.Errorf("ttl = %d, want 42", cfg.Schema.TTLSeconds)
	}
	if cfg.Schema.FetchTimeoutSeconds != 30 {
		t.Errorf("untouched key lost its default: fetch_timeout = %d", cfg.Schema.FetchTimeoutSeconds)
	}
	if cfg.Generation.Attempts() != 1 {
		t.Errorf("Attempts = %d, want 1", cfg.Generation.Attempts())
	}
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("guard:\n  default_row_cap: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(context.Background(), "", env(map[string]string{PathEnv: path}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Guard.DefaultRowCap != 7 {
		t.Errorf("row cap = %d, want 7", cfg.Guard.DefaultRowCap)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(context.Background(), "", env(map[string]string{
		"NEO4J_URI":                  "neo4j://graph:7687",
		"NEO4J_USER":                 "reader",
		"LLM_PROVIDER":               "ollama",
		"OLLAMA_MODEL":               "qwen2.5",
		"GRAPHQA_SCHEMA_TTL_SECONDS": "15",
		"GRAPHQA_DEFAULT_ROW_CAP":    "250",
		"GRAPHQA_INCLUDE_GRAPH_DOCS": "true",
		"GRAPHQA_USE_DOCS_ONLY":      "1",
		"CATALOG_DIR":                "/var/lib/graphqa",
		"OPENAI_MODEL":               "",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Neo4j.URI != "neo4j://graph:7687" || cfg.Neo4j.Username != "reader" {
		t.Errorf("neo4j = %+v", cfg.Neo4j)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.OllamaModel != "qwen2.5" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("empty env value should not override, model = %q", cfg.LLM.Model)
	}
	if cfg.Schema.TTLSeconds != 15 || cfg.Guard.DefaultRowCap != 250 {
		t.Errorf("ttl = %d, row cap = %d", cfg.Schema.TTLSeconds, cfg.Guard.DefaultRowCap)
	}
	if !cfg.Generation.IncludeGraphDocs || !cfg.Generation.UseDocsOnly {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Catalog.Dir != "/var/lib/graphqa" {
		t.Errorf("catalog dir = %q", cfg.Catalog.Dir)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		vars    map[string]string
		wantErr string
	}{
		{name: "bad int env", vars: map[string]string{"GRAPHQA_DEFAULT_ROW_CAP": "lots"}, wantErr: "GRAPHQA_DEFAULT_ROW_CAP"},
		{name: "bad bool env", vars: map[string]string{"GRAPHQA_USE_DOCS_ONLY": "maybe"}, wantErr: "GRAPHQA_USE_DOCS_ONLY"},
		{name: "unknown provider", vars: map[string]string{"LLM_PROVIDER": "clippy"}, wantErr: "Provider"},
		{name: "azure without deployment", vars: map[string]string{"LLM_PROVIDER": "azure", "AZURE_OPENAI_ENDPOINT": "https://x.openai.azure.com"}, wantErr: "AzureDeployment"},
		{name: "zero ttl", file: "schema:\n  ttl_seconds: 0\n", wantErr: "TTLSeconds"},
		{name: "row cap too large", file: "guard:\n  default_row_cap: 50000\n", wantErr: "DefaultRowCap"},
		{name: "bad traces exporter", file: "telemetry:\n  traces: jaeger\n", wantErr: "Traces"},
		{name: "influx without bucket", file: "telemetry:\n  influx:\n    enabled: true\n    bucket: \"\"\n", wantErr: "Bucket"},
		{name: "malformed yaml", file: "schema: [unclosed", wantErr: "parsing YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "c.yaml")
				if err := os.WriteFile(path, []byte(tt.file), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			_, err := load(context.Background(), path, env(tt.vars))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), env(nil)); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMerge_SizeLimit(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	if err := Merge(cfg, make([]byte, MaxYAMLFileSize+1)); err == nil {
		t.Error("expected size limit error")
	}
}

func TestEnvNames(t *testing.T) {
	names := strings.Join(EnvNames(), ",")
	for _, want := range []string{"NEO4J_URI", "GRAPHQA_SCHEMA_TTL_SECONDS", "CATALOG_DIR"} {
		if !strings.Contains(names, want) {
			t.Errorf("EnvNames missing %s", want)
		}
	}
}
