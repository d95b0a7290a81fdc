package database

import (
	"io/fs"
	"strings"
	"testing"
)

// 埋め込みマイグレーションにup/downのペアが揃っていることを検証する。
func TestMigrations_UpDownPairs(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one embedded migration file")
	}

	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file name: %s", name)
		}
	}

	for base := range ups {
		if !downs[base] {
			t.Errorf("migration %s has no matching down file", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("migration %s has no matching up file", base)
		}
	}
}

// 初期マイグレーションに主要テーブルの定義が含まれることを検証する。
func TestMigrations_InitContainsCoreTables(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("failed to read init migration: %v", err)
	}
	sql := string(data)

	for _, table := range []string{"users", "sessions", "kv_entries", "accounts"} {
		if !strings.Contains(sql, "CREATE TABLE "+table) {
			t.Errorf("init migration does not create table %s", table)
		}
	}

	// (user_id, key) と (user_id, normalized_url) の一意制約はUPSERTの前提条件。
	if !strings.Contains(sql, "UNIQUE (user_id, key)") {
		t.Error("kv_entries must be unique per (user_id, key)")
	}
	if !strings.Contains(sql, "UNIQUE (user_id, normalized_url)") {
		t.Error("accounts must be unique per (user_id, normalized_url)")
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("not-a-url")
	if err == nil {
		t.Fatal("expected error for invalid database URL")
	}
}
