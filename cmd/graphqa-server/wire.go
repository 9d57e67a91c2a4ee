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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/GraphQA/services/graphqa"
	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/config"
	"github.com/AleutianAI/GraphQA/services/graphqa/executor"
	"github.com/AleutianAI/GraphQA/services/graphqa/generate"
	"github.com/AleutianAI/GraphQA/services/graphqa/graphdb"
	"github.com/AleutianAI/GraphQA/services/graphqa/guard"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
	"github.com/AleutianAI/GraphQA/services/graphqa/schema"
	"github.com/AleutianAI/GraphQA/services/graphqa/secrets"
	badgerstore "github.com/AleutianAI/GraphQA/services/graphqa/storage/badger"
	"github.com/AleutianAI/GraphQA/services/graphqa/telemetry"
	"github.com/AleutianAI/GraphQA/services/llm"
)

// app holds the wired components and everything that needs closing.
type app struct {
	logger       *slog.Logger
	secrets      *secrets.Store
	telemetry    *telemetry.Providers
	influx       *telemetry.InfluxRecorder
	store        *badgerstore.DB
	graph        *graphdb.Client
	cache        *schema.Cache
	catalog      *catalog.Catalog
	orchestrator *orchestrator.Orchestrator
	cancel       context.CancelFunc
}

// buildApp wires every component from cfg.
//
// Description:
//
//	Secrets are sealed first so that nothing else reads them from the
//	environment. A Neo4j connection failure is not fatal: the server starts,
//	/ready reports 503 and queries fail with a connection error until the
//	database is reachable on a later start. A failed catalog store is fatal
//	because the catalog is the primary routing source.
//
// Outputs:
//   - *app: The wired application. The caller must call Close.
//   - error: Non-nil if a required component cannot be built.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &app{logger: logger, cancel: cancel}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.secrets = secrets.NewStore(secrets.NewEnvBackend(), logger)
	if err := a.secrets.Seal(ctx, secrets.Neo4jPassword, secrets.OpenAIAPIKey, secrets.AzureOpenAIAPIKey, secrets.InfluxToken); err != nil {
		return nil, err
	}

	a.telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}

	recorder, err := a.buildRecorder(cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	a.store, err = badgerstore.OpenDB(badgerstore.Config{
		Path:       cfg.Catalog.Dir,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	a.catalog, err = catalog.New(ctx, catalog.NewBadgerStore(a.store, logger), logger)
	if err != nil {
		return nil, err
	}
	if path := cfg.Catalog.ImportFile; path != "" {
		if cfg.Catalog.Watch {
			if err := a.catalog.Watch(bg, path); err != nil {
				return nil, err
			}
		} else if n, err := a.catalog.ImportFile(ctx, path); err != nil {
			logger.Warn("catalog import failed", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			logger.Info("catalog imported", slog.String("path", path), slog.Int("tools", n))
		}
	}

	a.graph, err = a.buildGraph(ctx, cfg.Neo4j)
	if err != nil {
		return nil, err
	}

	a.cache = schema.NewCache(schema.NewNeo4jFetcher(a.graph, cfg.Neo4j.SchemaPatternSample, logger), schema.Config{
		TTL:           cfg.Schema.TTL(),
		RetryInterval: cfg.Schema.RetryInterval(),
		FetchTimeout:  cfg.Schema.FetchTimeout(),
		Logger:        logger,
	})
	_ = a.cache.Preload(ctx)

	completer, err := a.buildCompleter(cfg.LLM)
	if err != nil {
		return nil, err
	}

	rowCap := cfg.Guard.DefaultRowCap
	deps := orchestrator.Deps{
		Catalog:  a.catalog,
		Schema:   a.cache,
		Guard:    guard.New(rowCap),
		Executor: executor.New(a.graph, rowCap, logger),
		Recorder: recorder,
	}
	if completer != nil {
		gen, err := generate.New(completer, generate.Config{
			DocsPath:    cfg.Generation.DocsPath,
			RowCap:      rowCap,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		deps.Generator = gen
		deps.Completer = completer
	}

	a.orchestrator, err = orchestrator.New(deps, orchestrator.Config{
		Classifier: orchestrator.ClassifierConfig{
			MaxTools:        cfg.Orchestrator.MaxTools,
			MinScore:        cfg.Orchestrator.MinScore,
			MinMatchedTerms: cfg.Orchestrator.MinMatchedTerms,
		},
		MaxConcurrentSteps: cfg.Orchestrator.MaxConcurrentSteps,
		StepResultLimit:    cfg.Orchestrator.StepResultLimit,
		GenerationAttempts: cfg.Generation.Attempts(),
		FinalAnswerLLM:     cfg.Orchestrator.FinalAnswerLLM && completer != nil,
		AnswerTemperature:  cfg.LLM.AnswerTemperature,
		AnswerMaxTokens:    cfg.LLM.AnswerMaxTokens,
		DefaultOptions: generate.Options{
			IncludeGraphDocs: cfg.Generation.IncludeGraphDocs,
			UseDocsOnly:      cfg.Generation.UseDocsOnly,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) buildRecorder(cfg config.TelemetryConfig) (orchestrator.SessionRecorder, error) {
	meter, err := telemetry.NewMeterRecorder(a.telemetry.Meter)
	if err != nil {
		return nil, err
	}
	recorders := telemetry.MultiRecorder{meter}
	if cfg.Influx.Enabled {
		token, err := a.secrets.String(secrets.InfluxToken)
		if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
			return nil, err
		}
		a.influx = telemetry.NewInfluxRecorder(cfg.Influx, token, a.logger)
		recorders = append(recorders, a.influx)
	}
	return recorders, nil
}

// buildGraph creates the Neo4j client and tries to connect. The client is
// returned unconnected when the database is unreachable.
func (a *app) buildGraph(ctx context.Context, cfg config.Neo4jConfig) (*graphdb.Client, error) {
	password, err := a.secrets.String(secrets.Neo4jPassword)
	if err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, err
	}
	client, err := graphdb.NewClient(graphdb.Config{
		URI:                   cfg.URI,
		Username:              cfg.Username,
		Password:              password,
		Database:              cfg.Database,
		MaxConnectionPoolSize: cfg.MaxConnectionPoolSize,
		ConnectionTimeout:     time.Duration(cfg.ConnectionTimeoutSeconds) * time.Second,
		QueryTimeout:          time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		ConnectRetries:        cfg.ConnectRetries,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		a.logger.Warn("Neo4j unavailable, queries will fail until it is reachable",
			slog.String("uri", cfg.URI),
			slog.String("error", err.Error()))
	}
	return client, nil
}

// buildCompleter returns nil when generation is disabled.
func (a *app) buildCompleter(cfg config.LLMConfig) (*llm.ChatCompleter, error) {
	var backend llm.ChatBackend
	switch cfg.Provider {
	case "openai":
		key, err := a.secrets.String(secrets.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("llm provider openai: %w", err)
		}
		backend = llm.NewOpenAIClientWithConfig(key, cfg.Model, cfg.BaseURL)
	case "azure":
		key, err := a.secrets.String(secrets.AzureOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("llm provider azure: %w", err)
		}
		client, err := llm.NewAzureOpenAIClient(cfg.AzureEndpoint, cfg.AzureDeployment, cfg.AzureAPIVersion, key)
		if err != nil {
			return nil, err
		}
		backend = client
	case "ollama":
		client, err := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		a.logger.Info("LLM provider disabled, only catalog tools will run")
		return nil, nil
	}
	return llm.NewChatCompleter(backend, llm.CompleterConfig{
		SystemPrompt:      cfg.SystemPrompt,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		CostLimitCents:    cfg.CostLimitCents,
	}, a.logger), nil
}

func (a *app) schemaCache() graphqa.SchemaCache {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

func (a *app) pinger() graphqa.Pinger {
	if a.graph == nil {
		return nil
	}
	return a.graph
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			a.logger.Warn("Failed to close Neo4j driver", slog.String("error", err.Error()))
		}
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Warn("Failed to close catalog", slog.String("error", err.Error()))
		}
	} else if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close catalog store", slog.String("error", err.Error()))
		}
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("Failed to flush telemetry", slog.String("error", err.Error()))
		}
	}
	if a.secrets != nil {
		a.secrets.Forget()
	}
}
