// Package handler はHTTP APIのルーティングとハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/cabinet/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DB がそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// キー/値ストア
	KVStore KVStoreInterface

	// アカウント
	AccountService AccountServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → BearerAuth → RateLimit
//
// 取り込みエンドポイント（/api/accounts/from-extension）はブラウザ拡張・
// ローカルエージェントのオリジンが不定のためCORSを全開放し、取り込み専用の
// レート制限を適用する。/health と /metrics は認証の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	kvHandler := NewKVHandler(deps.KVStore)
	accountHandler := NewAccountHandler(deps.AccountService)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.HealthChecker))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 取り込みエンドポイント ---
	// ミドルウェアスタック: OpenCORS → BearerAuth → RateLimit(Ingest)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOpenCORSMiddleware())
		r.Use(middleware.NewBearerAuthMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.IngestMiddleware())

		r.Post("/api/accounts/from-extension", accountHandler.IngestSnapshot)
	})

	// --- ダッシュボード向けルート ---
	// ミドルウェアスタック: CORS → BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewBearerAuthMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// キー/値ストア
		r.Route("/api/kv", func(r chi.Router) {
			r.Get("/", kvHandler.ListEntries)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", kvHandler.GetEntry)
				r.Put("/", kvHandler.PutEntry)
				r.Delete("/", kvHandler.DeleteEntry)
			})
		})

		// アカウント管理（ダッシュボード側のCRUD。POSTは取り込みと同じUPSERT）
		r.Get("/api/accounts", accountHandler.ListAccounts)
		r.Post("/api/accounts", accountHandler.UpsertAccount)
		r.Delete("/api/accounts/{id}", accountHandler.DeleteAccount)
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check: database ping failed",
					slog.String("error", err.Error()),
				)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("unhealthy"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
