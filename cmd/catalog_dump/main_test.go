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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	badgerstore "github.com/AleutianAI/GraphQA/services/graphqa/storage/badger"
)

func seedCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db, err := badgerstore.OpenDB(badgerstore.Config{Path: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	cat, err := catalog.New(ctx, catalog.NewBadgerStore(db, nil), nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	_, err = cat.Create(ctx, catalog.ToolDescriptor{
		Name:        "orphan_files",
		Description: "Files not imported by any other file",
		Category:    catalog.CategoryArchitecture,
		Query:       "MATCH (f:File) WHERE NOT (f)<-[:IMPORTS]-() RETURN f.path AS path",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cat.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return dir
}

func TestReadEntries(t *testing.T) {
	dir := seedCatalog(t)

	entries, err := readEntries(dir)
	if err != nil {
		t.Fatalf("readEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want only the custom tool", len(entries))
	}
	e := entries[0]
	if e.decodeErr != nil {
		t.Fatalf("decode: %v", e.decodeErr)
	}
	if e.tool.Name != "orphan_files" || e.key != toolKeyPrefix+"orphan_files" {
		t.Errorf("entry = %s / %s", e.key, e.tool.Name)
	}
	if e.tool.Category != catalog.CategoryArchitecture {
		t.Errorf("category = %s", e.tool.Category)
	}
}

func TestPrintEntries(t *testing.T) {
	dir := seedCatalog(t)
	entries, err := readEntries(dir)
	if err != nil {
		t.Fatalf("readEntries: %v", err)
	}

	var buf bytes.Buffer
	printEntries(&buf, entries, true)
	out := buf.String()
	for _, want := range []string{"orphan_files", "Architecture", "MATCH (f:File)", "Summary: 1 stored tool"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintEntries_Empty(t *testing.T) {
	var buf bytes.Buffer
	printEntries(&buf, nil, false)
	if !strings.Contains(buf.String(), "No catalog entries") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReadEntries_MissingDir(t *testing.T) {
	if _, err := readEntries(t.TempDir() + "/absent"); err == nil {
		t.Error("expected error for a directory that is not a badger store")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int]string{512: "512 B", 2048: "2.0 KB", 3 << 20: "3.0 MB"}
	for n, want := range cases {
		if got := formatBytes(n); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
