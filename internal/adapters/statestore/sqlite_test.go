package statestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "missing"); err != nil || found {
		t.Errorf("Get(missing) = found=%v, err=%v; want false, nil", found, err)
	}

	value := json.RawMessage(`{"layerId":"vfr","totalTiles":42}`)
	if err := s.Put(ctx, "checkpoint:vfr", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := s.Get(ctx, "checkpoint:vfr")
	if err != nil || !found {
		t.Fatalf("Get = found=%v, err=%v; want true, nil", found, err)
	}
	if string(got) != string(value) {
		t.Errorf("Get = %s, want %s", got, value)
	}

	if err := s.Delete(ctx, "checkpoint:vfr"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := s.Get(ctx, "checkpoint:vfr"); found {
		t.Error("key still present after Delete")
	}

	if err := s.Delete(ctx, "checkpoint:vfr"); err != nil {
		t.Errorf("Delete of absent key = %v, want nil", err)
	}
}

func TestPutReplacesValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, "k", json.RawMessage(`{"v":1}`))
	_ = s.Put(ctx, "k", json.RawMessage(`{"v":2}`))

	got, found, err := s.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get = found=%v, err=%v", found, err)
	}

	var decoded struct {
		V int `json:"v"`
	}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("stored value is not valid JSON: %v", err)
	}
	if decoded.V != 2 {
		t.Errorf("v = %d, want 2", decoded.V)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = s.Put(ctx, "task:abc", json.RawMessage(`{"status":"pending"}`))
	_ = s.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, found, err := s2.Get(ctx, "task:abc")
	if err != nil || !found {
		t.Fatalf("Get after reopen = found=%v, err=%v", found, err)
	}
	if string(got) != `{"status":"pending"}` {
		t.Errorf("Get after reopen = %s", got)
	}
}
