// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/cabinet/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れまたは未登録の場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// KVRepository はユーザーごとのキー/値データの永続化インターフェース。
// (user_id, key) ごとに最大1行というUPSERTセマンティクスを保証する。
type KVRepository interface {
	// ListByUserID はユーザーの全エントリを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.StoredValue, error)

	// FindByUserAndKey はユーザーIDとキーでエントリを取得する。見つからない場合はnilを返す。
	FindByUserAndKey(ctx context.Context, userID, key string) (*model.StoredValue, error)

	// Upsert はエントリを冪等にUPSERTする。
	// 戻り値のcreatedは新規作成された場合にtrueとなる。
	Upsert(ctx context.Context, userID, key string, value json.RawMessage) (sv *model.StoredValue, created bool, err error)

	// DeleteByUserAndKey はユーザーIDとキーでエントリを削除する。
	DeleteByUserAndKey(ctx context.Context, userID, key string) error
}

// AccountRepository は追跡アカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// ListByUserID はユーザーの全アカウントを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Account, error)

	// FindByUserAndNormalizedURL は正規化済み識別子による完全一致検索を行う。
	// 見つからない場合はnilを返す。あいまい照合の前段として使用する。
	FindByUserAndNormalizedURL(ctx context.Context, userID, normalizedURL string) (*model.Account, error)

	// Create はアカウントを作成する。
	Create(ctx context.Context, account *model.Account) error

	// Update はアカウント情報を上書き更新する。
	Update(ctx context.Context, account *model.Account) error

	// DeleteByIDAndUser は所有者を確認した上でアカウントを削除する。
	// 該当行が存在しない場合はfalseを返す。
	DeleteByIDAndUser(ctx context.Context, id, userID string) (bool, error)

	// ListStaleWithToken はセッショントークンを持ち、統計の再取得期限が切れた
	// アカウントを取得する。stats_refreshed_atがNULL（未取得）を優先し、
	// 次に古い順に最大limit件を返す。
	ListStaleWithToken(ctx context.Context, olderThan time.Time, limit int) ([]*model.Account, error)
}
