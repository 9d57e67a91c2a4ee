// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command graphqa-server starts the GraphQA API server.
//
// GraphQA answers natural-language questions about a code graph stored in
// Neo4j by selecting curated Cypher tools from a catalog, or by generating
// a read-only query with an LLM when no tool fits.
//
// Usage:
//
//	go run ./cmd/graphqa-server
//	go run ./cmd/graphqa-server -config graphqa.yaml -addr :9090
//
// With OpenAI generation:
//
//	NEO4J_PASSWORD=secret OPENAI_API_KEY=sk-... LLM_PROVIDER=openai go run ./cmd/graphqa-server
//
// With Ollama generation:
//
//	OLLAMA_BASE_URL=http://localhost:11434 OLLAMA_MODEL=llama3.1 LLM_PROVIDER=ollama go run ./cmd/graphqa-server
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/graphqa/health
//
//	# List catalog tools
//	curl http://localhost:8080/v1/graphqa/tools | jq
//
//	# Ask a question
//	curl -X POST http://localhost:8080/v1/graphqa/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "Which files are the largest?"}'
//
//	# Stream the reasoning steps
//	curl -N -X POST http://localhost:8080/v1/graphqa/query/stream \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "Which methods are the most complex?"}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/GraphQA/services/graphqa"
	"github.com/AleutianAI/GraphQA/services/graphqa/config"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $GRAPHQA_CONFIG)")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	debug := flag.Bool("debug", false, "Enable debug logging and gin debug mode")
	flag.Parse()

	memguard.CatchInterrupt()
	defer memguard.Purge()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configPath, *addr, *debug, logger); err != nil {
		logger.Error("graphqa-server exited", slog.String("error", err.Error()))
		memguard.Purge()
		os.Exit(1)
	}
}

func run(configPath, addr string, debug bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	switch {
	case debug:
		gin.SetMode(gin.DebugMode)
	case cfg.Server.Mode != "":
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handlers := graphqa.NewHandlers(app.orchestrator, app.catalog, app.schemaCache(), app.pinger(), graphqa.HandlersConfig{
		Heartbeat: time.Duration(cfg.Server.HeartbeatSeconds) * time.Second,
		Logger:    logger,
	})
	router := graphqa.NewRouter(handlers, cfg.Telemetry.ServiceName, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting GraphQA server",
			slog.String("address", srv.Addr),
			slog.String("llm_provider", cfg.LLM.Provider),
			slog.Bool("neo4j", app.graph != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down GraphQA server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
