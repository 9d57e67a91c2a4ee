// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// catalog_dump inspects the GraphQA tool catalog store.
//
// The catalog persists custom tool descriptors in BadgerDB as JSON; built-in
// tools are compiled into the server and never stored. This tool opens the
// store read-only and prints one row per stored tool with its category,
// parameters, last update and stored size. With --query the Cypher text of
// each tool is printed as well.
//
// Usage:
//
//	catalog_dump [--path /path/to/catalog] [--query]
//
// If --path is not given, reads CATALOG_DIR from the environment, falling
// back to ./data/catalog, the server's default catalog.dir.
//
// Exit codes:
//
//	0: success, including an empty or missing store
//	1: error opening or reading the database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
)

// toolKeyPrefix must match catalog/store.go exactly.
const toolKeyPrefix = "catalog/tool/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to catalog BadgerDB directory (overrides CATALOG_DIR env var)")
	showQuery := flag.Bool("query", false, "Print the Cypher text of each tool")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("CATALOG_DIR")
	}
	if dbPath == "" {
		dbPath = filepath.Join(".", "data", "catalog")
	}

	fmt.Printf("Catalog path: %s\n", dbPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Catalog directory does not exist. No custom tools have been created yet.")
		os.Exit(0)
	}

	entries, err := readEntries(dbPath)
	if err != nil {
		fatalf("%v", err)
	}
	printEntries(os.Stdout, entries, *showQuery)
}

type entry struct {
	key       string
	tool      catalog.ToolDescriptor
	rawSize   int
	decodeErr error
}

// readEntries opens dbPath read-only and decodes every tool record.
func readEntries(dbPath string) ([]entry, error) {
	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB at %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	var entries []entry
	err = db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(toolKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			e := entry{key: string(item.Key())}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)
			if err := json.Unmarshal(raw, &e.tool); err != nil {
				e.decodeErr = fmt.Errorf("json decode: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read BadgerDB: %w", err)
	}
	return entries, nil
}

func printEntries(w io.Writer, entries []entry, showQuery bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo catalog entries found.")
		return
	}

	nameWidth := len("Tool")
	for _, e := range entries {
		if n := len(strings.TrimPrefix(e.key, toolKeyPrefix)); n > nameWidth {
			nameWidth = n
		}
	}

	fmt.Fprintf(w, "\nFound %d stored tool%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Fprintf(w, "\n%-*s  %-12s  %-20s  %-16s  %s\n", nameWidth, "Tool", "Category", "Parameters", "Updated", "Size")
	fmt.Fprintln(w, strings.Repeat("─", nameWidth+70))
	for _, e := range entries {
		name := strings.TrimPrefix(e.key, toolKeyPrefix)
		if e.decodeErr != nil {
			fmt.Fprintf(w, "%-*s  DECODE ERROR: %v\n", nameWidth, name, e.decodeErr)
			continue
		}
		params := strings.Join(e.tool.ParameterNames(), ",")
		if params == "" {
			params = "-"
		}
		updated := "-"
		if !e.tool.UpdatedAt.IsZero() {
			updated = e.tool.UpdatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-*s  %-12s  %-20s  %-16s  %s\n",
			nameWidth, name, e.tool.Category, params, updated, formatBytes(e.rawSize))
		if showQuery {
			for _, line := range strings.Split(strings.TrimSpace(e.tool.Query), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	fmt.Fprintln(w, strings.Repeat("─", nameWidth+70))
	fmt.Fprintf(w, "Summary: %d stored tool%s\n", len(entries), plural(len(entries), "", "s"))
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "catalog_dump: "+format+"\n", args...)
	os.Exit(1)
}
