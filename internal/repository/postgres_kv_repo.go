package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/cabinet/internal/model"
)

// PostgresKVRepo はPostgreSQLを使用したキー/値リポジトリ。
type PostgresKVRepo struct {
	db *sql.DB
}

// NewPostgresKVRepo はPostgresKVRepoを生成する。
func NewPostgresKVRepo(db *sql.DB) *PostgresKVRepo {
	return &PostgresKVRepo{db: db}
}

// ListByUserID はユーザーの全エントリを返す。
func (r *PostgresKVRepo) ListByUserID(ctx context.Context, userID string) ([]*model.StoredValue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, key, value, created_at, updated_at
		 FROM kv_entries WHERE user_id = $1 ORDER BY key ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var values []*model.StoredValue
	for rows.Next() {
		sv := &model.StoredValue{}
		var raw []byte
		if err := rows.Scan(&sv.ID, &sv.UserID, &sv.Key, &raw, &sv.CreatedAt, &sv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("エントリの読み取りに失敗しました: %w", err)
		}
		sv.Value = json.RawMessage(raw)
		values = append(values, sv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エントリ一覧の走査に失敗しました: %w", err)
	}

	return values, nil
}

// FindByUserAndKey はユーザーIDとキーでエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresKVRepo) FindByUserAndKey(ctx context.Context, userID, key string) (*model.StoredValue, error) {
	sv := &model.StoredValue{}
	var raw []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, key, value, created_at, updated_at
		 FROM kv_entries WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&sv.ID, &sv.UserID, &sv.Key, &raw, &sv.CreatedAt, &sv.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}

	sv.Value = json.RawMessage(raw)
	return sv, nil
}

// Upsert はエントリを冪等にUPSERTする。
// UNIQUE(user_id, key)制約を利用したINSERT ON CONFLICTで実装し、
// xmaxシステム列で挿入と更新を判別する。
func (r *PostgresKVRepo) Upsert(ctx context.Context, userID, key string, value json.RawMessage) (*model.StoredValue, bool, error) {
	now := time.Now().UTC()
	sv := &model.StoredValue{}
	var raw []byte
	var inserted bool

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO kv_entries (id, user_id, key, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		 RETURNING id, user_id, key, value, created_at, updated_at, (xmax = 0)`,
		uuid.New().String(), userID, key, []byte(value), now,
	).Scan(&sv.ID, &sv.UserID, &sv.Key, &raw, &sv.CreatedAt, &sv.UpdatedAt, &inserted)

	if err != nil {
		return nil, false, fmt.Errorf("エントリのUPSERTに失敗しました: %w", err)
	}

	sv.Value = json.RawMessage(raw)
	return sv, inserted, nil
}

// DeleteByUserAndKey はユーザーIDとキーでエントリを削除する。
func (r *PostgresKVRepo) DeleteByUserAndKey(ctx context.Context, userID, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE user_id = $1 AND key = $2`,
		userID, key,
	)
	if err != nil {
		return fmt.Errorf("エントリの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KVRepository = (*PostgresKVRepo)(nil)
