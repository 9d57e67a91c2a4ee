// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphdb adapts the Neo4j Go driver to the read-only query surface
// used by the executor and the schema fetcher.
//
// Thread Safety:
//
//	Client is safe for concurrent use once Connect has returned.
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "graphqa.graphdb"

// ErrNotConnected is returned when a query is attempted before Connect.
var ErrNotConnected = errors.New("graphdb: driver not connected")

// Config holds Neo4j connection settings.
type Config struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration

	// QueryTimeout bounds each read transaction on the server side.
	QueryTimeout time.Duration

	// ConnectRetries is the number of connect attempts before giving up.
	ConnectRetries int
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() Config {
	return Config{
		URI:                   "bolt://localhost:7687",
		Username:              "neo4j",
		Database:              "neo4j",
		MaxConnectionPoolSize: 50,
		ConnectionTimeout:     10 * time.Second,
		QueryTimeout:          30 * time.Second,
		ConnectRetries:        5,
	}
}

// QueryResult is the normalised outcome of one read query.
type QueryResult struct {
	// Columns are the result keys in RETURN order.
	Columns []string

	// Records hold JSON-friendly values; driver graph types are converted to maps.
	Records []map[string]any

	// Truncated is true when the row cap stopped the read early.
	Truncated bool

	// AvailableAfter and ConsumedAfter are the server-reported timings.
	// Zero when the summary did not carry them.
	AvailableAfter time.Duration
	ConsumedAfter  time.Duration
}

// Runner executes a read-only query with a row cap.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Runner interface {
	Execute(ctx context.Context, query string, params map[string]any, rowCap int) (QueryResult, error)
}

// Client is the Neo4j-backed Runner.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	driver neo4j.DriverWithContext
}

// NewClient validates the config and returns an unconnected client.
//
// Inputs:
//   - cfg: Connection settings. URI is required.
//   - logger: Logger. Nil uses slog.Default().
//
// Outputs:
//   - *Client: The client. Call Connect before Execute.
//   - error: Non-nil if the config is invalid.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("graphdb: URI is required")
	}
	def := DefaultConfig()
	if cfg.MaxConnectionPoolSize <= 0 {
		cfg.MaxConnectionPoolSize = def.MaxConnectionPoolSize
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = def.ConnectionTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = def.ConnectRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}, nil
}

// Connect creates the driver and verifies connectivity with exponential backoff.
//
// Description:
//
//	Retries up to ConnectRetries times, doubling a 100ms base delay capped
//	at ConnectionTimeout. Returns early if ctx is cancelled.
//
// Outputs:
//   - error: Non-nil if every attempt failed or ctx was cancelled.
func (c *Client) Connect(ctx context.Context) error {
	auth := neo4j.BasicAuth(c.cfg.Username, c.cfg.Password, "")
	driverConfig := func(config *neo4j.Config) {
		config.MaxConnectionPoolSize = c.cfg.MaxConnectionPoolSize
		config.ConnectionAcquisitionTimeout = c.cfg.ConnectionTimeout
	}

	var lastErr error
	delay := 100 * time.Millisecond
	for attempt := 1; attempt <= c.cfg.ConnectRetries; attempt++ {
		driver, err := neo4j.NewDriverWithContext(c.cfg.URI, auth, driverConfig)
		if err == nil {
			err = driver.VerifyConnectivity(ctx)
			if err == nil {
				c.mu.Lock()
				c.driver = driver
				c.mu.Unlock()
				c.logger.Info("Connected to Neo4j",
					slog.String("database", c.cfg.Database),
					slog.Int("attempt", attempt))
				return nil
			}
			_ = driver.Close(ctx)
		}
		lastErr = err
		c.logger.Warn("Neo4j connect attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", redactURI(err.Error(), c.cfg.Password)))

		if attempt == c.cfg.ConnectRetries {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("graphdb: connection attempt cancelled: %w", ctx.Err())
		}
		delay *= 2
		if delay > c.cfg.ConnectionTimeout {
			delay = c.cfg.ConnectionTimeout
		}
	}
	return fmt.Errorf("graphdb: failed to connect after %d attempts: %w", c.cfg.ConnectRetries, lastErr)
}

// Ping verifies connectivity. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	driver := c.currentDriver()
	if driver == nil {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(pingCtx); err != nil {
		return fmt.Errorf("graphdb: connectivity check failed: %w", err)
	}
	return nil
}

// Close releases the driver. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	driver := c.driver
	c.driver = nil
	c.mu.Unlock()
	if driver == nil {
		return nil
	}
	if err := driver.Close(ctx); err != nil {
		return fmt.Errorf("graphdb: closing driver: %w", err)
	}
	return nil
}

func (c *Client) currentDriver() neo4j.DriverWithContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driver
}

// Execute runs query in one explicit read transaction and pulls at most rowCap records.
//
// Description:
//
//	The session is opened in read access mode so the server rejects writes
//	as well. The query runs exactly once: a transient server error is
//	returned to the caller instead of being replayed, and the transaction is
//	rolled back on close. Records are pulled one at a time and the cursor is
//	consumed once rowCap is reached, which discards the remainder on the
//	server. A rowCap of zero or less reads every record.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - query: Cypher text.
//   - params: Query parameters. May be nil.
//   - rowCap: Maximum records to return.
//
// Outputs:
//   - QueryResult: Normalised rows and server timings.
//   - error: Non-nil on driver or server failure. The message carries the
//     server's error text.
//
// Thread Safety: Safe for concurrent use.
func (c *Client) Execute(ctx context.Context, query string, params map[string]any, rowCap int) (QueryResult, error) {
	driver := c.currentDriver()
	if driver == nil {
		return QueryResult{}, ErrNotConnected
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "graphdb.Client.Execute",
		trace.WithAttributes(
			attribute.String("db.system", "neo4j"),
			attribute.String("db.name", c.cfg.Database),
			attribute.Int("row_cap", rowCap),
		),
	)
	defer span.End()

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.cfg.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	begin := func(ctx context.Context) (readTx, error) {
		tx, err := session.BeginTransaction(ctx, neo4j.WithTxTimeout(c.cfg.QueryTimeout))
		if err != nil {
			return nil, err
		}
		return explicitTx{tx: tx}, nil
	}
	result, err := readOnce(ctx, begin, query, params, rowCap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QueryResult{}, fmt.Errorf("graphdb: query failed: %w", err)
	}

	span.SetAttributes(
		attribute.Int("rows", len(result.Records)),
		attribute.Bool("truncated", result.Truncated),
	)
	return result, nil
}

// readTx is the part of an explicit transaction that readOnce uses.
type readTx interface {
	run(ctx context.Context, query string, params map[string]any) (resultCursor, error)
	close(ctx context.Context) error
}

// explicitTx adapts neo4j.ExplicitTransaction to readTx.
type explicitTx struct {
	tx neo4j.ExplicitTransaction
}

func (t explicitTx) run(ctx context.Context, query string, params map[string]any) (resultCursor, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// close rolls back the transaction if it is still open.
func (t explicitTx) close(ctx context.Context) error {
	return t.tx.Close(ctx)
}

// readOnce opens a transaction, runs query a single time and collects the
// records. The transaction is never committed.
func readOnce(ctx context.Context, begin func(context.Context) (readTx, error), query string, params map[string]any, rowCap int) (QueryResult, error) {
	tx, err := begin(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	defer func() { _ = tx.close(ctx) }()

	res, err := tx.run(ctx, query, params)
	if err != nil {
		return QueryResult{}, err
	}
	return collect(ctx, res, rowCap)
}

// resultCursor is the subset of neo4j.ResultWithContext that collect needs.
type resultCursor interface {
	Keys() ([]string, error)
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
	Consume(ctx context.Context) (neo4j.ResultSummary, error)
}

func collect(ctx context.Context, res resultCursor, rowCap int) (QueryResult, error) {
	keys, err := res.Keys()
	if err != nil {
		return QueryResult{}, err
	}
	result := QueryResult{Columns: keys, Records: make([]map[string]any, 0)}

	for res.Next(ctx) {
		if rowCap > 0 && len(result.Records) >= rowCap {
			result.Truncated = true
			break
		}
		record := res.Record()
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = ConvertValue(record.Values[i])
		}
		result.Records = append(result.Records, row)
	}
	if err := res.Err(); err != nil {
		return QueryResult{}, err
	}

	summary, err := res.Consume(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	if summary != nil {
		result.AvailableAfter = summary.ResultAvailableAfter()
		result.ConsumedAfter = summary.ResultConsumedAfter()
	}
	return result, nil
}

// redactURI removes the password from driver error text.
func redactURI(msg, password string) string {
	if password == "" {
		return msg
	}
	return strings.ReplaceAll(msg, password, "[REDACTED]")
}
