// Package refresh はアカウント統計のバックグラウンド再取得処理を提供する。
// 期限切れの統計を持つアカウントを定期的に権威ソースから更新する。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/cabinet/internal/model"
	"github.com/hitoshi/cabinet/internal/repository"
)

// StatsFetcher は権威ソースからの統計再取得のインターフェース。
type StatsFetcher interface {
	FetchStats(ctx context.Context, username, token string) (*model.AccountStats, string, error)
}

// RefreshRecorder は再取得結果のメトリクス記録のインターフェース。
type RefreshRecorder interface {
	RecordStatsRefreshed(count int)
	RecordRefetchSuccess()
	RecordRefetchFailure(reason string)
}

// Worker は統計再取得のスケジューリングとペーシングを行う。
// 外部APIへの呼び出しはレートリミッターで間隔を空けて逐次実行する。
type Worker struct {
	accountRepo repository.AccountRepository
	fetcher     StatsFetcher
	metrics     RefreshRecorder
	logger      *slog.Logger
	statsTTL    time.Duration
	maxPerCycle int
	limiter     *rate.Limiter
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// apiIntervalは外部API呼び出しの最小間隔。maxPerCycleが0以下の場合は
// デフォルト値50を使用する。
func NewWorker(
	accountRepo repository.AccountRepository,
	fetcher StatsFetcher,
	metrics RefreshRecorder,
	logger *slog.Logger,
	statsTTL time.Duration,
	apiInterval time.Duration,
	maxPerCycle int,
) *Worker {
	if maxPerCycle <= 0 {
		maxPerCycle = 50
	}
	return &Worker{
		accountRepo: accountRepo,
		fetcher:     fetcher,
		metrics:     metrics,
		logger:      logger,
		statsTTL:    statsTTL,
		maxPerCycle: maxPerCycle,
		limiter:     rate.NewLimiter(rate.Every(apiInterval), 1),
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("統計更新ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("stats_ttl", w.statsTTL),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("統計更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("統計更新ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("統計更新サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限切れアカウントを1回分取得し、ペーシングしながら再取得する。
// 個々のアカウントの失敗はログに記録してサイクルを継続する。
func (w *Worker) RunOnce(ctx context.Context) error {
	start := time.Now()
	olderThan := start.Add(-w.statsTTL)

	accounts, err := w.accountRepo.ListStaleWithToken(ctx, olderThan, w.maxPerCycle)
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		w.logger.Info("更新対象のアカウントはありません")
		return nil
	}

	w.logger.Info("統計更新サイクルを開始します",
		slog.Int("account_count", len(accounts)),
	)

	refreshed := 0
	for _, account := range accounts {
		if err := w.limiter.Wait(ctx); err != nil {
			// コンテキストキャンセル。サイクルを打ち切る
			break
		}
		if err := w.refreshAccount(ctx, account); err != nil {
			w.logger.Warn("アカウント統計の再取得に失敗しました",
				slog.String("account_id", account.ID),
				slog.String("username", account.Username),
				slog.String("error", err.Error()),
			)
			w.metrics.RecordRefetchFailure("worker_fetch_error")
			continue
		}
		refreshed++
	}

	w.metrics.RecordStatsRefreshed(refreshed)

	duration := time.Since(start)
	w.logger.Info("統計更新サイクルが完了しました",
		slog.Int("account_count", len(accounts)),
		slog.Int("refreshed_count", refreshed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// refreshAccount は1アカウントの統計を権威ソースから再取得して保存する。
func (w *Worker) refreshAccount(ctx context.Context, account *model.Account) error {
	live, avatarURL, err := w.fetcher.FetchStats(ctx, account.Username, account.SessionToken)
	if err != nil {
		return err
	}
	w.metrics.RecordRefetchSuccess()

	// 権威ソースが持たないフィールドは既存の値を残す
	account.Stats.Karma = live.Karma
	account.Stats.Followers = live.Followers
	if live.AccountAgeDays > 0 {
		account.Stats.AccountAgeDays = live.AccountAgeDays
	}
	if avatarURL != "" {
		account.AvatarURL = avatarURL
	}
	now := time.Now()
	account.StatsRefreshedAt = &now
	account.UpdatedAt = now

	return w.accountRepo.Update(ctx, account)
}
