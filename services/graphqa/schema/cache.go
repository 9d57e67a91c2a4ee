// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema caches a description of the graph's labels, relationship
// types and properties for prompt grounding.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. At most one fetch is in flight at a
//	time; concurrent callers share its result.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrSchemaUnavailable is returned when no snapshot can be produced.
var ErrSchemaUnavailable = errors.New("schema unavailable")

const tracerName = "graphqa.schema"

const refreshKey = "schema"

// Default timings.
const (
	DefaultTTL           = 300 * time.Second
	DefaultRetryInterval = 60 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
)

// Config configures a Cache.
type Config struct {
	// TTL is how long a snapshot is served without refetching.
	TTL time.Duration

	// RetryInterval suppresses refetches after a failed attempt.
	RetryInterval time.Duration

	// FetchTimeout bounds the detached fetch.
	FetchTimeout time.Duration

	Logger *slog.Logger

	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time
}

// Result is returned by Get.
type Result struct {
	Snapshot *Snapshot

	// Stale is true when a refresh failed and an older snapshot was served.
	Stale bool
}

// Status describes the cache for diagnostics.
type Status struct {
	Cached                 bool       `json:"cached"`
	CapturedAt             *time.Time `json:"captured_at,omitempty"`
	AgeSeconds             float64    `json:"age_seconds"`
	TTLSeconds             float64    `json:"ttl_seconds"`
	Expired                bool       `json:"expired"`
	TimeUntilExpirySeconds float64    `json:"time_until_expiry_seconds"`
	LabelCount             int        `json:"label_count"`
	RelationshipCount      int        `json:"relationship_count"`
	LastError              string     `json:"last_error,omitempty"`
	LastAttemptAt          *time.Time `json:"last_attempt_at,omitempty"`
}

// Cache serves schema snapshots with a TTL.
type Cache struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger

	mu          sync.RWMutex
	snap        *Snapshot
	lastErr     error
	lastAttempt time.Time

	group singleflight.Group
}

// NewCache creates a Cache. Zero durations in cfg take the defaults.
func NewCache(fetcher Fetcher, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	} else if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{fetcher: fetcher, cfg: cfg, logger: logger.With(slog.String("component", "schema_cache"))}
}

// Get returns the current snapshot, fetching when needed.
//
// Description:
//
//	A cached snapshot younger than the TTL is returned unless forceRefresh
//	is set. Otherwise a single shared fetch runs on a context detached from
//	the caller and bounded by FetchTimeout, so a caller that gives up does
//	not cancel the fetch for the others. After a failed fetch, further
//	fetches are suppressed for RetryInterval unless forceRefresh is set.
//
// Inputs:
//   - ctx: Caller context. Cancellation stops waiting, not the fetch.
//   - forceRefresh: Bypass the TTL and the retry interval.
//
// Outputs:
//   - Result: The snapshot and whether it is stale.
//   - error: Wraps ErrSchemaUnavailable when no snapshot exists and the
//     fetch failed. ctx.Err() when the caller was cancelled.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (Result, error) {
	now := c.cfg.Now()

	c.mu.RLock()
	snap, lastErr, lastAttempt := c.snap, c.lastErr, c.lastAttempt
	c.mu.RUnlock()

	if !forceRefresh && snap != nil && now.Sub(snap.CapturedAt) <= c.cfg.TTL {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return Result{Snapshot: snap}, nil
	}
	if !forceRefresh && lastErr != nil && now.Sub(lastAttempt) < c.cfg.RetryInterval {
		return c.degrade(snap, lastErr)
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return c.degrade(c.current(), r.Err)
		}
		cacheLookupsTotal.WithLabelValues("miss").Inc()
		return Result{Snapshot: r.Val.(*Snapshot)}, nil
	}
}

// Invalidate drops the cached snapshot and any remembered failure.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.lastErr = nil
	c.lastAttempt = time.Time{}
	c.mu.Unlock()
	c.logger.Info("schema cache invalidated")
}

// Preload warms the cache. Failures are logged and returned.
func (c *Cache) Preload(ctx context.Context) error {
	res, err := c.Get(ctx, false)
	if err != nil {
		c.logger.Warn("schema preload failed", slog.String("error", err.Error()))
		return err
	}
	c.logger.Info("schema preloaded",
		slog.Int("labels", len(res.Snapshot.Labels)),
		slog.Int("relationships", len(res.Snapshot.Relationships)),
	)
	return nil
}

// Status reports the cache state.
func (c *Cache) Status() Status {
	now := c.cfg.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{TTLSeconds: c.cfg.TTL.Seconds()}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if !c.lastAttempt.IsZero() {
		at := c.lastAttempt
		st.LastAttemptAt = &at
	}
	if c.snap == nil {
		return st
	}
	captured := c.snap.CapturedAt
	age := now.Sub(captured)
	st.Cached = true
	st.CapturedAt = &captured
	st.AgeSeconds = age.Seconds()
	st.Expired = age > c.cfg.TTL
	if remaining := c.cfg.TTL - age; remaining > 0 {
		st.TimeUntilExpirySeconds = remaining.Seconds()
	}
	st.LabelCount = len(c.snap.Labels)
	st.RelationshipCount = len(c.snap.Relationships)
	return st
}

func (c *Cache) current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Cache) degrade(snap *Snapshot, cause error) (Result, error) {
	if snap != nil {
		cacheLookupsTotal.WithLabelValues("stale").Inc()
		return Result{Snapshot: snap, Stale: true}, nil
	}
	cacheLookupsTotal.WithLabelValues("unavailable").Inc()
	return Result{}, fmt.Errorf("%w: %w", ErrSchemaUnavailable, cause)
}

// refresh runs inside the singleflight group.
func (c *Cache) refresh(parent context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.FetchTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "schema.Cache.refresh",
		trace.WithAttributes(attribute.Float64("fetch_timeout_seconds", c.cfg.FetchTimeout.Seconds())),
	)
	defer span.End()

	start := time.Now()
	snap, err := c.fetcher.FetchSchema(ctx)
	duration := time.Since(start)
	if err == nil && snap == nil {
		err = errors.New("fetcher returned no snapshot")
	}

	attempt := c.cfg.Now()
	c.mu.Lock()
	c.lastAttempt = attempt
	if err != nil {
		c.lastErr = err
	} else {
		if snap.CapturedAt.IsZero() {
			snap.CapturedAt = attempt
		}
		c.snap = snap
		c.lastErr = nil
	}
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fetchDuration.WithLabelValues("error").Observe(duration.Seconds())
		c.logger.Warn("schema fetch failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return nil, err
	}

	fetchDuration.WithLabelValues("success").Observe(duration.Seconds())
	span.SetAttributes(
		attribute.Int("labels", len(snap.Labels)),
		attribute.Int("relationships", len(snap.Relationships)),
	)
	c.logger.Info("schema fetched",
		slog.Int("labels", len(snap.Labels)),
		slog.Int("relationships", len(snap.Relationships)),
		slog.Duration("duration", duration),
	)
	return snap, nil
}
