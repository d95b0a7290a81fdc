package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/cabinet/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した追跡アカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// accountColumns はアカウント行のSELECT列リスト。全取得系クエリで共有する。
const accountColumns = `id, user_id, username, reddit_url, normalized_url,
	session_token, avatar_url,
	followers, karma, account_age_days, contributions, comments, posts,
	gold_earned, active_in, stats_refreshed_at, created_at, updated_at`

// scanAccount は1行分のアカウントデータを読み取る。
func scanAccount(scan func(dest ...any) error) (*model.Account, error) {
	a := &model.Account{}
	var sessionToken, avatarURL sql.NullString
	var refreshedAt sql.NullTime

	err := scan(
		&a.ID, &a.UserID, &a.Username, &a.RedditURL, &a.NormalizedURL,
		&sessionToken, &avatarURL,
		&a.Stats.Followers, &a.Stats.Karma, &a.Stats.AccountAgeDays,
		&a.Stats.Contributions, &a.Stats.Comments, &a.Stats.Posts,
		&a.Stats.GoldEarned, &a.Stats.ActiveIn,
		&refreshedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.SessionToken = nullStringValue(sessionToken)
	a.AvatarURL = nullStringValue(avatarURL)
	if refreshedAt.Valid {
		a.StatsRefreshedAt = &refreshedAt.Time
	}

	return a, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)

	a, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	return a, nil
}

// ListByUserID はユーザーの全アカウントを返す。
func (r *PostgresAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("アカウントの読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アカウント一覧の走査に失敗しました: %w", err)
	}

	return accounts, nil
}

// FindByUserAndNormalizedURL は正規化済み識別子による完全一致検索を行う。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByUserAndNormalizedURL(ctx context.Context, userID, normalizedURL string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND normalized_url = $2`,
		userID, normalizedURL,
	)

	a, err := scanAccount(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("正規化識別子によるアカウントの検索に失敗しました: %w", err)
	}
	return a, nil
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	var refreshedAt sql.NullTime
	if a.StatsRefreshedAt != nil {
		refreshedAt = sql.NullTime{Time: *a.StatsRefreshedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, username, reddit_url, normalized_url,
		                       session_token, avatar_url,
		                       followers, karma, account_age_days, contributions,
		                       comments, posts, gold_earned, active_in,
		                       stats_refreshed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.UserID, a.Username, a.RedditURL, a.NormalizedURL,
		nullString(a.SessionToken), nullString(a.AvatarURL),
		a.Stats.Followers, a.Stats.Karma, a.Stats.AccountAgeDays,
		a.Stats.Contributions, a.Stats.Comments, a.Stats.Posts,
		a.Stats.GoldEarned, a.Stats.ActiveIn,
		refreshedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はアカウント情報を上書き更新する。
func (r *PostgresAccountRepo) Update(ctx context.Context, a *model.Account) error {
	var refreshedAt sql.NullTime
	if a.StatsRefreshedAt != nil {
		refreshedAt = sql.NullTime{Time: *a.StatsRefreshedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		    username = $2, reddit_url = $3, normalized_url = $4,
		    session_token = $5, avatar_url = $6,
		    followers = $7, karma = $8, account_age_days = $9,
		    contributions = $10, comments = $11, posts = $12,
		    gold_earned = $13, active_in = $14,
		    stats_refreshed_at = $15, updated_at = $16
		 WHERE id = $1`,
		a.ID, a.Username, a.RedditURL, a.NormalizedURL,
		nullString(a.SessionToken), nullString(a.AvatarURL),
		a.Stats.Followers, a.Stats.Karma, a.Stats.AccountAgeDays,
		a.Stats.Contributions, a.Stats.Comments, a.Stats.Posts,
		a.Stats.GoldEarned, a.Stats.ActiveIn,
		refreshedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アカウントの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByIDAndUser は所有者を確認した上でアカウントを削除する。
// 該当行が存在しない場合はfalseを返す。
func (r *PostgresAccountRepo) DeleteByIDAndUser(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// ListStaleWithToken はセッショントークンを持ち、統計の再取得期限が切れた
// アカウントを取得する。stats_refreshed_at IS NULL（未取得）を優先し、
// 次に古い順に最大limit件を返す。
func (r *PostgresAccountRepo) ListStaleWithToken(ctx context.Context, olderThan time.Time, limit int) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE session_token IS NOT NULL AND session_token <> ''
		   AND (stats_refreshed_at IS NULL OR stats_refreshed_at < $1)
		 ORDER BY stats_refreshed_at ASC NULLS FIRST
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("再取得対象アカウントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("再取得対象アカウントの読み取りに失敗しました: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("再取得対象アカウントの走査に失敗しました: %w", err)
	}

	return accounts, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
