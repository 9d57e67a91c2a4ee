// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// importDebounce coalesces editor save bursts into one import.
const importDebounce = 250 * time.Millisecond

// ImportFile reads a YAML tool file and upserts its entries.
func (c *Catalog) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("catalog import %s: %w", path, err)
	}
	descs, err := parseToolFile(data)
	if err != nil {
		return 0, fmt.Errorf("catalog import %s: %w", path, err)
	}
	return c.Import(ctx, descs)
}

// Watch imports path now and again whenever it changes, until ctx ends.
//
// Description:
//
//	The parent directory is watched so that editors which replace the file
//	by rename are still observed. Events are debounced. A missing file at
//	startup is not an error; it is imported once it appears.
//
// Outputs:
//   - error: Non-nil only if the watcher cannot be created.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("catalog watch %s: %w", path, err)
	}

	c.reimport(ctx, path)
	go c.runWatcher(ctx, watcher, path)
	return nil
}

func (c *Catalog) runWatcher(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("catalog watcher error", slog.String("error", err.Error()))
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(importDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(importDebounce)
		case <-timerChan(timer):
			timer = nil
			c.reimport(ctx, path)
		}
	}
}

func (c *Catalog) reimport(ctx context.Context, path string) {
	n, err := c.ImportFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("catalog import file absent", slog.String("path", path))
			return
		}
		c.logger.Warn("catalog import failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	c.logger.Info("catalog import applied", slog.String("path", path), slog.Int("tools", n))
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
