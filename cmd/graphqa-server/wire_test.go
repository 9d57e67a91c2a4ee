// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/GraphQA/services/graphqa/config"
	"github.com/AleutianAI/GraphQA/services/graphqa/secrets"
	"github.com/AleutianAI/GraphQA/services/graphqa/telemetry"
)

type mapBackend map[string]string

func (m mapBackend) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok && v != "" {
		return v, nil
	}
	return "", secrets.ErrSecretNotFound
}

func newTestApp(t *testing.T, values map[string]string) *app {
	t.Helper()
	store := secrets.NewStore(mapBackend(values), slog.Default())
	require.NoError(t, store.Seal(context.Background(), secrets.OpenAIAPIKey, secrets.AzureOpenAIAPIKey, secrets.Neo4jPassword))
	t.Cleanup(store.Forget)
	return &app{logger: slog.Default(), secrets: store}
}

func TestBuildCompleter_Disabled(t *testing.T) {
	a := newTestApp(t, nil)
	c, err := a.buildCompleter(config.LLMConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestBuildCompleter_OpenAIRequiresKey(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.buildCompleter(config.LLMConfig{Provider: "openai"})
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestBuildCompleter_OpenAI(t *testing.T) {
	a := newTestApp(t, map[string]string{secrets.OpenAIAPIKey: "sk-test"})
	c, err := a.buildCompleter(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", CostLimitCents: 5})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotNil(t, c.Cost())
}

func TestBuildCompleter_AzureRequiresKey(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.buildCompleter(config.LLMConfig{
		Provider:        "azure",
		AzureEndpoint:   "https://example.openai.azure.com",
		AzureDeployment: "gpt-4o",
	})
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestBuildGraph_UnreachableIsNotFatal(t *testing.T) {
	a := newTestApp(t, map[string]string{secrets.Neo4jPassword: "pw"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, err := a.buildGraph(ctx, config.Neo4jConfig{
		URI:            "bolt://127.0.0.1:1",
		Username:       "neo4j",
		ConnectRetries: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Error(t, client.Ping(context.Background()))
}

func TestBuildRecorder_MeterOnly(t *testing.T) {
	a := newTestApp(t, nil)
	a.telemetry = &telemetry.Providers{Meter: sdkmetric.NewMeterProvider()}
	t.Cleanup(func() { _ = a.telemetry.Meter.Shutdown(context.Background()) })

	rec, err := a.buildRecorder(config.TelemetryConfig{})
	require.NoError(t, err)
	multi, ok := rec.(telemetry.MultiRecorder)
	require.True(t, ok)
	assert.Len(t, multi, 1)
	assert.Nil(t, a.influx)
}

func TestAccessors_NilSafe(t *testing.T) {
	a := &app{logger: slog.Default()}
	assert.Nil(t, a.schemaCache())
	assert.Nil(t, a.pinger())
	a.Close()
}
