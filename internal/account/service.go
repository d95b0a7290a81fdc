package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cabinet/internal/model"
	"github.com/hitoshi/cabinet/internal/repository"
)

// StatsFetcher は権威ソースからの統計再取得のインターフェース。
// reddit.Clientを抽象化してテスタビリティを向上させる。
// 戻り値はアカウント統計とアバターURL（取得できなかった場合は空）。
type StatsFetcher interface {
	FetchStats(ctx context.Context, username, token string) (*model.AccountStats, string, error)
}

// ActivityFetcher は公開RSSフィードからの直近アクティビティ取得のインターフェース。
// DOMスクレイプで取れなかった投稿数・コメント数の補完にのみ使用する。
type ActivityFetcher interface {
	FetchRecentActivity(ctx context.Context, username string) (posts int, comments int, err error)
}

// IngestRecorder は取り込み結果のメトリクス記録のインターフェース。
type IngestRecorder interface {
	RecordIngestCreated()
	RecordIngestUpdated()
	RecordRefetchSuccess()
	RecordRefetchFailure(reason string)
}

// Service はアカウントの照合・UPSERT・一覧・削除を提供する。
type Service struct {
	accountRepo     repository.AccountRepository
	statsFetcher    StatsFetcher
	activityFetcher ActivityFetcher
	metrics         IngestRecorder
	logger          *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// statsFetcherとactivityFetcherはnil許容で、nilの場合はライブ再取得を行わない。
func NewService(
	accountRepo repository.AccountRepository,
	statsFetcher StatsFetcher,
	activityFetcher ActivityFetcher,
	metrics IngestRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		accountRepo:     accountRepo,
		statsFetcher:    statsFetcher,
		activityFetcher: activityFetcher,
		metrics:         metrics,
		logger:          logger,
	}
}

// UpsertResult はUpsertの戻り値。
type UpsertResult struct {
	Account *model.Account
	Created bool // 新規作成された場合にtrue
}

// Upsert はスナップショットを受け取り、既存アカウントの更新または新規作成を行う。
//
// 同一性判定は正規化済み識別子のあいまい照合カスケードで行う:
//  1. 完全一致
//  2. 供給された識別子が既存の識別子を含む / 既存が供給されたものを含む
//  3. ユーザー名の大文字小文字を無視した一致
//
// 同一の論理アカウントは識別子の綴り（大文字小文字、末尾スラッシュ、部分パス）に
// かかわらず常に1レコードに収束する。
//
// トークンが供給されている場合は権威ソースからのライブ再取得を試みる。
// 成功時はその値がスナップショットの値を上書きする。失敗してもリクエストは
// 失敗させず、スナップショットの値のまま保存してログに記録する。
func (s *Service) Upsert(ctx context.Context, userID string, snapshot model.Snapshot) (*UpsertResult, error) {
	username := strings.TrimSpace(snapshot.Username)
	if username == "" {
		return nil, model.NewInvalidIdentifierError("ユーザー名が指定されていません")
	}
	redditURL := strings.TrimSpace(snapshot.RedditURL)
	if redditURL == "" {
		return nil, model.NewInvalidIdentifierError("プロフィールURLが指定されていません")
	}

	normalized := NormalizeIdentifier(redditURL)

	existing, err := s.findMatch(ctx, userID, normalized, username)
	if err != nil {
		return nil, fmt.Errorf("アカウントの照合に失敗しました: %w", err)
	}

	// トークンがあれば権威ソースから再取得し、スナップショットを上書きする
	var refreshedAt *time.Time
	if snapshot.Token != "" && s.statsFetcher != nil {
		if live, avatarURL, fetchErr := s.statsFetcher.FetchStats(ctx, username, snapshot.Token); fetchErr == nil {
			// 権威ソースが持たないフィールドはスナップショットの値を残す
			merged := *live
			if merged.Posts == 0 {
				merged.Posts = snapshot.Stats.Posts
			}
			if merged.Comments == 0 {
				merged.Comments = snapshot.Stats.Comments
			}
			if merged.Contributions == 0 {
				merged.Contributions = snapshot.Stats.Contributions
			}
			if merged.GoldEarned == 0 {
				merged.GoldEarned = snapshot.Stats.GoldEarned
			}
			if merged.ActiveIn == 0 {
				merged.ActiveIn = snapshot.Stats.ActiveIn
			}
			snapshot.Stats = s.fillMissingActivity(ctx, username, merged)
			if avatarURL != "" {
				snapshot.AvatarURL = avatarURL
			}
			now := time.Now()
			refreshedAt = &now
			s.metrics.RecordRefetchSuccess()
		} else {
			s.logger.Warn("ライブ再取得に失敗しました。スナップショットの値を使用します",
				slog.String("username", username),
				slog.String("error", fetchErr.Error()),
			)
			s.metrics.RecordRefetchFailure("fetch_error")
		}
	}

	now := time.Now()

	if existing != nil {
		existing.Username = username
		existing.RedditURL = redditURL
		existing.NormalizedURL = normalized
		if snapshot.Token != "" {
			existing.SessionToken = snapshot.Token
		}
		if snapshot.AvatarURL != "" {
			existing.AvatarURL = snapshot.AvatarURL
		}
		existing.Stats = snapshot.Stats
		if refreshedAt != nil {
			existing.StatsRefreshedAt = refreshedAt
		}
		existing.UpdatedAt = now

		if err := s.accountRepo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("アカウントの更新に失敗しました: %w", err)
		}
		s.metrics.RecordIngestUpdated()
		s.logger.Info("アカウントを更新しました",
			slog.String("account_id", existing.ID),
			slog.String("username", username),
		)
		return &UpsertResult{Account: existing, Created: false}, nil
	}

	created := &model.Account{
		ID:               uuid.NewString(),
		UserID:           userID,
		Username:         username,
		RedditURL:        redditURL,
		NormalizedURL:    normalized,
		SessionToken:     snapshot.Token,
		AvatarURL:        snapshot.AvatarURL,
		Stats:            snapshot.Stats,
		StatsRefreshedAt: refreshedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.accountRepo.Create(ctx, created); err != nil {
		return nil, fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	s.metrics.RecordIngestCreated()
	s.logger.Info("アカウントを作成しました",
		slog.String("account_id", created.ID),
		slog.String("username", username),
	)
	return &UpsertResult{Account: created, Created: true}, nil
}

// findMatch はあいまい照合カスケードで既存アカウントを検索する。
func (s *Service) findMatch(ctx context.Context, userID, normalized, username string) (*model.Account, error) {
	// 第1段: 正規化識別子の完全一致
	match, err := s.accountRepo.FindByUserAndNormalizedURL(ctx, userID, normalized)
	if err != nil {
		return nil, err
	}
	if match != nil {
		return match, nil
	}

	accounts, err := s.accountRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 第2段: 部分一致（供給⊇既存 または 既存⊇供給）
	for _, candidate := range accounts {
		if candidate.NormalizedURL == "" {
			continue
		}
		if strings.Contains(normalized, candidate.NormalizedURL) ||
			strings.Contains(candidate.NormalizedURL, normalized) {
			return candidate, nil
		}
	}

	// 第3段: ユーザー名の大文字小文字を無視した一致
	for _, candidate := range accounts {
		if strings.EqualFold(candidate.Username, username) {
			return candidate, nil
		}
	}

	return nil, nil
}

// fillMissingActivity は投稿数・コメント数がゼロの場合に公開RSSフィードから補完する。
func (s *Service) fillMissingActivity(ctx context.Context, username string, stats model.AccountStats) model.AccountStats {
	if s.activityFetcher == nil || (stats.Posts > 0 && stats.Comments > 0) {
		return stats
	}

	posts, comments, err := s.activityFetcher.FetchRecentActivity(ctx, username)
	if err != nil {
		s.logger.Warn("アクティビティの取得に失敗しました",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return stats
	}

	if stats.Posts == 0 {
		stats.Posts = posts
	}
	if stats.Comments == 0 {
		stats.Comments = comments
	}
	return stats
}

// List はユーザーの全アカウントを返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Account, error) {
	accounts, err := s.accountRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	return accounts, nil
}

// Delete は所有者を確認した上でアカウントを削除する。
// 該当アカウントが存在しない場合はACCOUNT_NOT_FOUNDエラーを返す。
func (s *Service) Delete(ctx context.Context, userID, accountID string) error {
	deleted, err := s.accountRepo.DeleteByIDAndUser(ctx, accountID, userID)
	if err != nil {
		return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewAccountNotFoundError(accountID)
	}
	return nil
}
