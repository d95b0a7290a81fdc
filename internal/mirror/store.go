// Package mirror はエージェントのローカルミラーストアを提供する。
// リモートのキー/値ストアの最終既知値をSQLiteファイルに保持し、
// ネットワーク断絶時も読み取りを即座に返せるようにする。
package mirror

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLiteドライバ
)

// schema はミラーストアのテーブル定義。
// dirtyは次回の同期サイクルでリモートへ送信すべき行を示す。
const schema = `
CREATE TABLE IF NOT EXISTS mirror_entries (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    dirty      INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);`

// Store はSQLiteベースのローカルミラーストア。
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open は指定パスのミラーストアを開く。ファイルと親ディレクトリが
// 存在しない場合は作成する。
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ミラーディレクトリの作成に失敗しました: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ミラーデータベースのオープンに失敗しました: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ミラースキーマの初期化に失敗しました: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close はミラーストアを閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Read はキーの最終既知値を返す。未登録または読み取り失敗の場合は
// defaultValueを返す。読み取りは決してエラーにならない。
func (s *Store) Read(key string, defaultValue json.RawMessage) json.RawMessage {
	var value string
	err := s.db.QueryRow(`SELECT value FROM mirror_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultValue
	}
	if err != nil {
		s.logger.Warn("ミラーの読み取りに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return defaultValue
	}
	return json.RawMessage(value)
}

// Write はローカル書き込みを永続化し、次回同期のためにdirtyフラグを立てる。
// 書き込み失敗（ディスクフル等）はログに記録して破棄し、決して致命的にならない。
func (s *Store) Write(key string, value json.RawMessage) {
	_, err := s.db.Exec(`
		INSERT INTO mirror_entries (key, value, dirty, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, dirty = 1, updated_at = excluded.updated_at`,
		key, string(value), time.Now(),
	)
	if err != nil {
		s.logger.Warn("ミラーの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// ApplyRemote はリモートから取得した値をdirtyフラグなしで反映する。
// リモート優先の上書きに使用する。
func (s *Store) ApplyRemote(key string, value json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO mirror_entries (key, value, dirty, updated_at) VALUES (?, ?, 0, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, dirty = 0, updated_at = excluded.updated_at`,
		key, string(value), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("リモート値の反映に失敗しました: %w", err)
	}
	return nil
}

// Keys は登録済みの全キーを返す。
func (s *Store) Keys() ([]string, error) {
	return s.queryKeys(`SELECT key FROM mirror_entries ORDER BY key`)
}

// DirtyKeys はリモートへ未送信の書き込みがあるキーを返す。
func (s *Store) DirtyKeys() ([]string, error) {
	return s.queryKeys(`SELECT key FROM mirror_entries WHERE dirty = 1 ORDER BY key`)
}

// ClearDirty はリモートへの送信が完了したキーのdirtyフラグを下ろす。
func (s *Store) ClearDirty(key string) error {
	if _, err := s.db.Exec(`UPDATE mirror_entries SET dirty = 0 WHERE key = ?`, key); err != nil {
		return fmt.Errorf("dirtyフラグのクリアに失敗しました: %w", err)
	}
	return nil
}

func (s *Store) queryKeys(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("キー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("キーのスキャンに失敗しました: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
