package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/cabinet/internal/middleware"
	"github.com/hitoshi/cabinet/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// Upsert はスナップショットをあいまい照合でUPSERTする。
	// createdは新規作成された場合にtrueとなる。
	Upsert(ctx context.Context, userID string, snapshot model.Snapshot) (account *model.Account, created bool, err error)
	// List はユーザーの全アカウントを返す。
	List(ctx context.Context, userID string) ([]*model.Account, error)
	// Delete は所有者を確認した上でアカウントを削除する。
	Delete(ctx context.Context, userID, accountID string) error
}

// AccountHandler は追跡アカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// --- リクエスト/レスポンス型 ---

// accountStatsPayload は取り込みリクエスト・レスポンスの統計部分。
// ブラウザ拡張およびローカルエージェントが送信するJSONキーと一致させる。
type accountStatsPayload struct {
	Followers     int    `json:"followers"`
	Karma         int    `json:"karma"`
	AccountAge    int    `json:"accountAge"` // 日数換算
	Contributions int    `json:"contributions"`
	Comments      int    `json:"comments"`
	Posts         int    `json:"posts"`
	GoldEarned    int    `json:"goldEarned"`
	ActiveIn      int    `json:"activeIn"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
}

// ingestRequest は取り込みエンドポイントへのリクエストボディ。
type ingestRequest struct {
	Username  string              `json:"username"`
	RedditURL string              `json:"redditUrl"`
	Token     string              `json:"token,omitempty"`
	Stats     accountStatsPayload `json:"stats"`
}

// accountResponse はアカウントのレスポンス。
type accountResponse struct {
	ID               string              `json:"id"`
	Username         string              `json:"username"`
	RedditURL        string              `json:"redditUrl"`
	AvatarURL        string              `json:"avatarUrl,omitempty"`
	Stats            accountStatsPayload `json:"stats"`
	StatsRefreshedAt *time.Time          `json:"statsRefreshedAt,omitempty"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// accountListResponse はアカウント一覧のレスポンス。
type accountListResponse struct {
	Accounts []accountResponse `json:"accounts"`
}

// IngestSnapshot はスクレイプ結果のスナップショットを取り込む。
// 既存アカウントとのあいまい照合に成功すれば更新（200）、なければ新規作成（201）。
// POST /api/accounts/from-extension
func (h *AccountHandler) IngestSnapshot(w http.ResponseWriter, r *http.Request) {
	h.upsertFromRequest(w, r)
}

// UpsertAccount はダッシュボードからのアカウント登録・更新を取り込む。
// 取り込みエンドポイントと同じUPSERTセマンティクスを持つ。
// POST /api/accounts
func (h *AccountHandler) UpsertAccount(w http.ResponseWriter, r *http.Request) {
	h.upsertFromRequest(w, r)
}

func (h *AccountHandler) upsertFromRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディのJSONが不正です"))
		return
	}

	snapshot := model.Snapshot{
		Username:  req.Username,
		RedditURL: req.RedditURL,
		Token:     req.Token,
		AvatarURL: req.Stats.AvatarURL,
		Stats: model.AccountStats{
			Followers:      req.Stats.Followers,
			Karma:          req.Stats.Karma,
			AccountAgeDays: req.Stats.AccountAge,
			Contributions:  req.Stats.Contributions,
			Comments:       req.Stats.Comments,
			Posts:          req.Stats.Posts,
			GoldEarned:     req.Stats.GoldEarned,
			ActiveIn:       req.Stats.ActiveIn,
		},
	}

	account, created, err := h.service.Upsert(r.Context(), userID, snapshot)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, toAccountResponse(account))
}

// ListAccounts は認証済みユーザーの全アカウントを取得する。
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	accounts, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := accountListResponse{Accounts: make([]accountResponse, 0, len(accounts))}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(a))
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// DeleteAccount はアカウントを削除する。
// DELETE /api/accounts/:id
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	accountID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, accountID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toAccountResponse はドメインモデルをレスポンス型に変換する。
func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Username:  a.Username,
		RedditURL: a.RedditURL,
		AvatarURL: a.AvatarURL,
		Stats: accountStatsPayload{
			Followers:     a.Stats.Followers,
			Karma:         a.Stats.Karma,
			AccountAge:    a.Stats.AccountAgeDays,
			Contributions: a.Stats.Contributions,
			Comments:      a.Stats.Comments,
			Posts:         a.Stats.Posts,
			GoldEarned:    a.Stats.GoldEarned,
			ActiveIn:      a.Stats.ActiveIn,
		},
		StatsRefreshedAt: a.StatsRefreshedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidIdentifier, model.ErrCodeInvalidValue:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound, model.ErrCodeKeyNotFound:
		return http.StatusNotFound
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
