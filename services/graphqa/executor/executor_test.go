// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/GraphQA/services/graphqa/graphdb"
)

// mockStore is a func-field DataStore.
type mockStore struct {
	executeFunc func(ctx context.Context, query string, params map[string]any, rowCap int) (graphdb.QueryResult, error)
	calls       int
}

func (m *mockStore) Execute(ctx context.Context, query string, params map[string]any, rowCap int) (graphdb.QueryResult, error) {
	m.calls++
	return m.executeFunc(ctx, query, params, rowCap)
}

func TestExecute_Success(t *testing.T) {
	var gotCap int
	var gotParams map[string]any
	store := &mockStore{executeFunc: func(_ context.Context, _ string, params map[string]any, rowCap int) (graphdb.QueryResult, error) {
		gotCap, gotParams = rowCap, params
		return graphdb.QueryResult{
			Columns:        []string{"path"},
			Records:        []map[string]any{{"path": "a.go"}, {"path": "b.go"}, {"path": "c.go"}},
			AvailableAfter: 3 * time.Millisecond,
			ConsumedAfter:  1500 * time.Microsecond,
		}, nil
	}}

	res, err := New(store, 25, nil).Execute(context.Background(), "MATCH (f:File) RETURN f.path AS path", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowCount != 3 || len(res.Rows) != 3 {
		t.Errorf("RowCount = %d, rows = %d, want 3", res.RowCount, len(res.Rows))
	}
	if gotCap != 25 {
		t.Errorf("rowCap = %d, want 25", gotCap)
	}
	if gotParams["x"] != 1 {
		t.Errorf("params not passed through: %v", gotParams)
	}
	if res.AvailableAfterMS == nil || *res.AvailableAfterMS != 3 {
		t.Errorf("AvailableAfterMS = %v, want 3", res.AvailableAfterMS)
	}
	if res.ConsumedAfterMS == nil || *res.ConsumedAfterMS != 1.5 {
		t.Errorf("ConsumedAfterMS = %v, want 1.5", res.ConsumedAfterMS)
	}
	if res.LatencyMS < 0 {
		t.Errorf("LatencyMS = %v", res.LatencyMS)
	}
}

func TestExecute_EmptyResultEncodesAsArray(t *testing.T) {
	store := &mockStore{executeFunc: func(context.Context, string, map[string]any, int) (graphdb.QueryResult, error) {
		return graphdb.QueryResult{}, nil
	}}
	res, err := New(store, 10, nil).Execute(context.Background(), "MATCH (n) RETURN n", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	raw, _ := json.Marshal(res)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if _, ok := decoded["rows"].([]any); !ok {
		t.Errorf("rows should encode as an array, got %s", raw)
	}
	if _, present := decoded["available_after_ms"]; present {
		t.Error("absent timings should be omitted")
	}
}

func TestExecute_FailureIsTypedAndNotRetried(t *testing.T) {
	storeErr := errors.New("Neo.ClientError.Statement.SyntaxError: Invalid input 'RETRUN'")
	store := &mockStore{executeFunc: func(context.Context, string, map[string]any, int) (graphdb.QueryResult, error) {
		return graphdb.QueryResult{}, storeErr
	}}

	_, err := New(store, 10, nil).Execute(context.Background(), "MATCH (n) RETRUN n", nil)
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("err = %v, want ErrExecution", err)
	}
	if !errors.Is(err, storeErr) {
		t.Error("store error should be reachable with errors.Is")
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("err is %T, want *ExecutionError", err)
	}
	if ee.Query != "MATCH (n) RETRUN n" || ee.Message != storeErr.Error() {
		t.Errorf("ExecutionError = %+v", ee)
	}
	if store.calls != 1 {
		t.Errorf("store called %d times, want 1", store.calls)
	}
	if Describe(err) != storeErr.Error() {
		t.Errorf("Describe = %q", Describe(err))
	}
}

func TestExecute_DefaultRowCap(t *testing.T) {
	store := &mockStore{executeFunc: func(_ context.Context, _ string, _ map[string]any, rowCap int) (graphdb.QueryResult, error) {
		if rowCap != 100 {
			t.Errorf("rowCap = %d, want 100", rowCap)
		}
		return graphdb.QueryResult{}, nil
	}}
	_, _ = New(store, 0, nil).Execute(context.Background(), "RETURN 1", nil)
}
