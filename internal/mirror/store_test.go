package mirror

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "mirror.db")
	store, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRead_ReturnsDefaultForUnknownKey(t *testing.T) {
	store := newTestStore(t)

	def := json.RawMessage(`[]`)
	got := store.Read("customSections", def)

	if string(got) != `[]` {
		t.Errorf("Read = %s, want []", got)
	}
}

func TestWriteAndRead_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	value := json.RawMessage(`{"sections":[{"name":"work","accounts":["a","b"]}]}`)
	store.Write("customSections", value)

	got := store.Read("customSections", json.RawMessage(`{}`))
	if string(got) != string(value) {
		t.Errorf("Read = %s, want %s", got, value)
	}
}

func TestWrite_MarksDirty(t *testing.T) {
	store := newTestStore(t)

	store.Write("customSections", json.RawMessage(`[1]`))
	store.Write("openCustomMenus", json.RawMessage(`[2]`))

	dirty, err := store.DirtyKeys()
	if err != nil {
		t.Fatalf("DirtyKeys failed: %v", err)
	}
	if len(dirty) != 2 {
		t.Fatalf("dirty count = %d, want 2", len(dirty))
	}
	if dirty[0] != "customSections" || dirty[1] != "openCustomMenus" {
		t.Errorf("dirty keys = %v", dirty)
	}
}

func TestClearDirty(t *testing.T) {
	store := newTestStore(t)

	store.Write("customSections", json.RawMessage(`[1]`))
	if err := store.ClearDirty("customSections"); err != nil {
		t.Fatalf("ClearDirty failed: %v", err)
	}

	dirty, err := store.DirtyKeys()
	if err != nil {
		t.Fatalf("DirtyKeys failed: %v", err)
	}
	if len(dirty) != 0 {
		t.Errorf("dirty count = %d, want 0", len(dirty))
	}
}

func TestApplyRemote_DoesNotMarkDirty(t *testing.T) {
	store := newTestStore(t)

	if err := store.ApplyRemote("customSections", json.RawMessage(`["remote"]`)); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	got := store.Read("customSections", nil)
	if string(got) != `["remote"]` {
		t.Errorf("Read = %s, want [\"remote\"]", got)
	}

	dirty, err := store.DirtyKeys()
	if err != nil {
		t.Fatalf("DirtyKeys failed: %v", err)
	}
	if len(dirty) != 0 {
		t.Errorf("dirty count = %d, want 0 (remote apply must not mark dirty)", len(dirty))
	}
}

func TestApplyRemote_OverwritesDirtyLocalValue(t *testing.T) {
	store := newTestStore(t)

	store.Write("customSections", json.RawMessage(`["local"]`))
	if err := store.ApplyRemote("customSections", json.RawMessage(`["remote"]`)); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	// リモート優先: 値が上書きされ、dirtyも下りる
	got := store.Read("customSections", nil)
	if string(got) != `["remote"]` {
		t.Errorf("Read = %s, want [\"remote\"]", got)
	}
	dirty, _ := store.DirtyKeys()
	if len(dirty) != 0 {
		t.Errorf("dirty count = %d, want 0", len(dirty))
	}
}

func TestKeys_ListsAllKeys(t *testing.T) {
	store := newTestStore(t)

	store.Write("b-key", json.RawMessage(`1`))
	store.Write("a-key", json.RawMessage(`2`))

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a-key" || keys[1] != "b-key" {
		t.Errorf("keys = %v, want [a-key b-key] sorted", keys)
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "nested", "deep", "mirror.db")

	store, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	store.Write("k", json.RawMessage(`true`))
	if got := store.Read("k", nil); string(got) != "true" {
		t.Errorf("Read = %s, want true", got)
	}
}

func TestReopen_PersistsValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "mirror.db")

	store, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.Write("customSections", json.RawMessage(`["persisted"]`))
	store.Close()

	reopened, err := Open(path, logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got := reopened.Read("customSections", nil)
	if string(got) != `["persisted"]` {
		t.Errorf("Read after reopen = %s, want [\"persisted\"]", got)
	}
}
