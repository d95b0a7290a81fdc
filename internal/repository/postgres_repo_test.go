package repository

import (
	"testing"
)

// PostgresKVRepoはKVRepositoryインターフェースを満たすことを検証
func TestPostgresKVRepo_ImplementsInterface(t *testing.T) {
	var _ KVRepository = (*PostgresKVRepo)(nil)
}

// PostgresAccountRepoはAccountRepositoryインターフェースを満たすことを検証
func TestPostgresAccountRepo_ImplementsInterface(t *testing.T) {
	var _ AccountRepository = (*PostgresAccountRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// NewPostgresKVRepoが正しく初期化されることを検証
func TestNewPostgresKVRepo_Initializes(t *testing.T) {
	repo := NewPostgresKVRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresAccountRepoが正しく初期化されることを検証
func TestNewPostgresAccountRepo_Initializes(t *testing.T) {
	repo := NewPostgresAccountRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestNullString_Conversion(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("empty string should map to invalid NullString")
	}
	ns := nullString("value")
	if !ns.Valid || ns.String != "value" {
		t.Errorf("nullString(\"value\") = %+v, want valid with value", ns)
	}
	if got := nullStringValue(ns); got != "value" {
		t.Errorf("nullStringValue = %q, want %q", got, "value")
	}
}
