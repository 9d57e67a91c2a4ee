// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the analysis tool descriptors.
//
// Built-in descriptors are embedded in the binary. Custom descriptors are
// written through to a Store before the in-memory view changes, so a failed
// commit never leaves memory and storage disagreeing.
//
// Thread Safety:
//
//	Catalog is safe for concurrent use. Reads take a shared lock; all
//	mutations are serialised by a single write mutex.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("tool not found")
	ErrConflict  = errors.New("tool name already exists")
	ErrForbidden = errors.New("built-in tools cannot be modified")
	ErrInvalid   = errors.New("invalid tool descriptor")
)

const tracerName = "graphqa.catalog"

//go:embed builtin_tools.yaml
var builtinToolsYAML []byte

// toolFile is the YAML shape of builtin_tools.yaml and of import files.
type toolFile struct {
	Tools []ToolDescriptor `yaml:"tools"`
}

// Catalog is the tool registry.
type Catalog struct {
	store     Store
	logger    *slog.Logger
	validator *descriptorValidator
	now       func() time.Time

	// writeMu serialises Create, Update, Delete and Import.
	writeMu sync.Mutex

	mu       sync.RWMutex
	builtins []string
	tools    map[string]ToolDescriptor
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New loads the built-in descriptors and every stored custom descriptor.
//
// Inputs:
//   - ctx: Context for the initial store read.
//   - store: Durable store for custom descriptors. The catalog owns it.
//   - logger: Logger. Nil uses slog.Default().
//
// Outputs:
//   - *Catalog: The loaded catalog.
//   - error: Non-nil if the embedded built-ins are invalid or the store
//     cannot be read.
func New(ctx context.Context, store Store, logger *slog.Logger, opts ...Option) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		store:     store,
		logger:    logger.With(slog.String("component", "catalog")),
		validator: newDescriptorValidator(),
		now:       time.Now,
		tools:     make(map[string]ToolDescriptor),
	}
	for _, opt := range opts {
		opt(c)
	}

	builtins, err := parseToolFile(builtinToolsYAML)
	if err != nil {
		return nil, fmt.Errorf("catalog: built-in tools: %w", err)
	}
	for _, d := range builtins {
		normalize(&d)
		if err := c.validator.check(d); err != nil {
			return nil, fmt.Errorf("catalog: built-in %q: %w", d.Name, err)
		}
		if _, dup := c.tools[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate built-in %q", d.Name)
		}
		d.BuiltIn = true
		c.tools[d.Name] = d
		c.builtins = append(c.builtins, d.Name)
	}

	stored, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range stored {
		if existing, ok := c.tools[d.Name]; ok && existing.BuiltIn {
			c.logger.Warn("stored tool shadows a built-in, ignoring", slog.String("name", d.Name))
			continue
		}
		d.BuiltIn = false
		c.tools[d.Name] = d
	}

	c.logger.Info("catalog loaded",
		slog.Int("builtin", len(c.builtins)),
		slog.Int("custom", len(c.tools)-len(c.builtins)),
	)
	catalogSize.WithLabelValues("builtin").Set(float64(len(c.builtins)))
	catalogSize.WithLabelValues("custom").Set(float64(len(c.tools) - len(c.builtins)))
	return c, nil
}

// List returns built-ins in declared order, then customs by creation time.
func (c *Catalog) List(ctx context.Context) []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(c.tools))
	for _, name := range c.builtins {
		out = append(out, c.tools[name].Clone())
	}
	customs := make([]ToolDescriptor, 0, len(c.tools)-len(c.builtins))
	for _, d := range c.tools {
		if !d.BuiltIn {
			customs = append(customs, d.Clone())
		}
	}
	sort.Slice(customs, func(i, j int) bool {
		if !customs[i].CreatedAt.Equal(customs[j].CreatedAt) {
			return customs[i].CreatedAt.Before(customs[j].CreatedAt)
		}
		return customs[i].Name < customs[j].Name
	})
	return append(out, customs...)
}

// ListByCategory filters List by category.
func (c *Catalog) ListByCategory(ctx context.Context, category Category) []ToolDescriptor {
	var out []ToolDescriptor
	for _, d := range c.List(ctx) {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the descriptor named name.
func (c *Catalog) Get(name string) (ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.tools[name]
	if !ok {
		return ToolDescriptor{}, fmt.Errorf("catalog get %q: %w", name, ErrNotFound)
	}
	return d.Clone(), nil
}

// Create adds a custom descriptor.
//
// Description:
//
//	The descriptor is normalised and validated, then written to the store.
//	Memory is updated only after the store commit succeeds.
//
// Outputs:
//   - ToolDescriptor: The stored descriptor with timestamps set.
//   - error: ErrConflict if the name is taken, *ValidationError (ErrInvalid)
//     on bad input, or a wrapped store error.
func (c *Catalog) Create(ctx context.Context, d ToolDescriptor) (ToolDescriptor, error) {
	ctx, span := c.startSpan(ctx, "catalog.Catalog.Create", d.Name)
	defer span.End()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	d = d.Clone()
	normalize(&d)
	d.BuiltIn = false
	if err := c.validator.check(d); err != nil {
		return c.fail(span, "create", err)
	}
	if c.exists(d.Name) {
		return c.fail(span, "create", fmt.Errorf("catalog create %q: %w", d.Name, ErrConflict))
	}

	now := c.now()
	d.CreatedAt, d.UpdatedAt = now, now
	if err := c.store.Apply(ctx, []ToolDescriptor{d}, nil); err != nil {
		return c.fail(span, "create", fmt.Errorf("catalog create %q: %w", d.Name, err))
	}

	c.mu.Lock()
	c.tools[d.Name] = d
	c.mu.Unlock()

	c.recordMutation("create", nil)
	c.logger.Info("tool created", slog.String("name", d.Name), slog.String("category", string(d.Category)))
	return d.Clone(), nil
}

// Update changes fields of a custom descriptor, including its name.
//
// Outputs:
//   - ToolDescriptor: The updated descriptor.
//   - error: ErrNotFound, ErrForbidden for built-ins, ErrConflict when a
//     rename collides, *ValidationError, or a wrapped store error.
func (c *Catalog) Update(ctx context.Context, name string, upd ToolUpdate) (ToolDescriptor, error) {
	ctx, span := c.startSpan(ctx, "catalog.Catalog.Update", name)
	defer span.End()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	cur, ok := c.tools[name]
	c.mu.RUnlock()
	if !ok {
		return c.fail(span, "update", fmt.Errorf("catalog update %q: %w", name, ErrNotFound))
	}
	if cur.BuiltIn {
		return c.fail(span, "update", fmt.Errorf("catalog update %q: %w", name, ErrForbidden))
	}

	next := cur.Clone()
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Category != nil {
		next.Category = *upd.Category
	}
	if upd.Query != nil {
		next.Query = *upd.Query
	}
	if upd.Parameters != nil {
		next.Parameters = append([]Parameter(nil), (*upd.Parameters)...)
		next.IsParameterized = len(next.Parameters) > 0
	}
	if upd.Keywords != nil {
		next.Keywords = append([]string(nil), (*upd.Keywords)...)
	}
	normalize(&next)
	if err := c.validator.check(next); err != nil {
		return c.fail(span, "update", err)
	}

	var deletes []string
	if next.Name != name {
		if c.exists(next.Name) {
			return c.fail(span, "update", fmt.Errorf("catalog update %q -> %q: %w", name, next.Name, ErrConflict))
		}
		deletes = []string{name}
	}
	next.UpdatedAt = c.now()

	if err := c.store.Apply(ctx, []ToolDescriptor{next}, deletes); err != nil {
		return c.fail(span, "update", fmt.Errorf("catalog update %q: %w", name, err))
	}

	c.mu.Lock()
	delete(c.tools, name)
	c.tools[next.Name] = next
	c.mu.Unlock()

	c.recordMutation("update", nil)
	c.logger.Info("tool updated", slog.String("name", name), slog.String("new_name", next.Name))
	return next.Clone(), nil
}

// Delete removes a custom descriptor.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	ctx, span := c.startSpan(ctx, "catalog.Catalog.Delete", name)
	defer span.End()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	cur, ok := c.tools[name]
	c.mu.RUnlock()
	if !ok {
		_, err := c.fail(span, "delete", fmt.Errorf("catalog delete %q: %w", name, ErrNotFound))
		return err
	}
	if cur.BuiltIn {
		_, err := c.fail(span, "delete", fmt.Errorf("catalog delete %q: %w", name, ErrForbidden))
		return err
	}

	if err := c.store.Apply(ctx, nil, []string{name}); err != nil {
		_, err = c.fail(span, "delete", fmt.Errorf("catalog delete %q: %w", name, err))
		return err
	}

	c.mu.Lock()
	delete(c.tools, name)
	c.mu.Unlock()

	c.recordMutation("delete", nil)
	c.logger.Info("tool deleted", slog.String("name", name))
	return nil
}

// Import upserts custom descriptors in one store transaction.
//
// Description:
//
//	Entries naming a built-in are skipped. Invalid entries are skipped and
//	logged. Existing customs keep their CreatedAt.
//
// Outputs:
//   - int: Number of descriptors written.
//   - error: Non-nil only when the store commit fails.
func (c *Catalog) Import(ctx context.Context, descs []ToolDescriptor) (int, error) {
	ctx, span := c.startSpan(ctx, "catalog.Catalog.Import", "")
	defer span.End()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	var puts []ToolDescriptor
	seen := make(map[string]struct{})
	c.mu.RLock()
	for _, d := range descs {
		d = d.Clone()
		normalize(&d)
		if _, dup := seen[d.Name]; dup {
			continue
		}
		if cur, ok := c.tools[d.Name]; ok {
			if cur.BuiltIn {
				c.logger.Warn("import skips built-in name", slog.String("name", d.Name))
				continue
			}
			d.CreatedAt = cur.CreatedAt
		} else {
			d.CreatedAt = now
		}
		if err := c.validator.check(d); err != nil {
			c.logger.Warn("import skips invalid tool", slog.String("name", d.Name), slog.String("error", err.Error()))
			continue
		}
		d.BuiltIn = false
		d.UpdatedAt = now
		seen[d.Name] = struct{}{}
		puts = append(puts, d)
	}
	c.mu.RUnlock()

	if len(puts) == 0 {
		return 0, nil
	}
	if err := c.store.Apply(ctx, puts, nil); err != nil {
		_, err = c.fail(span, "import", fmt.Errorf("catalog import: %w", err))
		return 0, err
	}

	c.mu.Lock()
	for _, d := range puts {
		c.tools[d.Name] = d
	}
	c.mu.Unlock()

	span.SetAttributes(attribute.Int("imported", len(puts)))
	c.recordMutation("import", nil)
	c.logger.Info("tools imported", slog.Int("count", len(puts)))
	return len(puts), nil
}

// Close flushes and closes the store.
func (c *Catalog) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	syncErr := c.store.Sync()
	closeErr := c.store.Close()
	if syncErr != nil {
		return fmt.Errorf("catalog close: sync: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("catalog close: %w", closeErr)
	}
	return nil
}

func (c *Catalog) exists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tools[name]
	return ok
}

func (c *Catalog) startSpan(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op, trace.WithAttributes(attribute.String("tool.name", name)))
}

func (c *Catalog) fail(span trace.Span, op string, err error) (ToolDescriptor, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.recordMutation(op, err)
	return ToolDescriptor{}, err
}

func (c *Catalog) recordMutation(op string, err error) {
	mutationsTotal.WithLabelValues(op, mutationStatus(err)).Inc()
	if err == nil {
		c.mu.RLock()
		custom := len(c.tools) - len(c.builtins)
		c.mu.RUnlock()
		catalogSize.WithLabelValues("custom").Set(float64(custom))
	}
}

func parseToolFile(data []byte) ([]ToolDescriptor, error) {
	var f toolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tool file: %w", err)
	}
	return f.Tools, nil
}
