package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/cabinet/internal/middleware"
	"github.com/hitoshi/cabinet/internal/model"
)

// maxValueBytes は1エントリあたりの値の最大サイズ。
// セクションデータのJSON blobを想定しており、これを超える値は拒否する。
const maxValueBytes = 1 << 20 // 1MiB

// KVStoreInterface はキー/値ハンドラーが必要とするストアインターフェース。
// repository.KVRepositoryの部分集合として定義する。
type KVStoreInterface interface {
	// ListByUserID はユーザーの全エントリを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.StoredValue, error)
	// FindByUserAndKey はエントリを取得する。見つからない場合はnilを返す。
	FindByUserAndKey(ctx context.Context, userID, key string) (*model.StoredValue, error)
	// Upsert はエントリを冪等にUPSERTする。createdは新規作成時にtrue。
	Upsert(ctx context.Context, userID, key string, value json.RawMessage) (*model.StoredValue, bool, error)
	// DeleteByUserAndKey はエントリを削除する。
	DeleteByUserAndKey(ctx context.Context, userID, key string) error
}

// KVHandler はユーザーごとのキー/値ストアのHTTPハンドラー。
type KVHandler struct {
	store KVStoreInterface
}

// NewKVHandler はKVHandlerを生成する。
func NewKVHandler(store KVStoreInterface) *KVHandler {
	return &KVHandler{store: store}
}

// --- レスポンス型 ---

// kvEntryResponse はキー/値エントリのレスポンス。
type kvEntryResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// kvListResponse はエントリ一覧のレスポンス。
type kvListResponse struct {
	Entries []kvEntryResponse `json:"entries"`
}

// ListEntries は認証済みユーザーの全エントリを取得する。
// GET /api/kv
func (h *KVHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	values, err := h.store.ListByUserID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := kvListResponse{Entries: make([]kvEntryResponse, 0, len(values))}
	for _, v := range values {
		resp.Entries = append(resp.Entries, kvEntryResponse{Key: v.Key, Value: v.Value})
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// GetEntry は単一エントリを取得する。
// GET /api/kv/:key
func (h *KVHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	key := chi.URLParam(r, "key")

	value, err := h.store.FindByUserAndKey(r.Context(), userID, key)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if value == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewKeyNotFoundError(key))
		return
	}

	writeJSONResponse(w, http.StatusOK, kvEntryResponse{Key: value.Key, Value: value.Value})
}

// PutEntry は任意のJSON値をUPSERTする。リクエストボディがそのまま値となる。
// 新規作成時は201、更新時は200を返す。
// PUT /api/kv/:key
func (h *KVHandler) PutEntry(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	key := chi.URLParam(r, "key")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidValueError())
		return
	}
	if !json.Valid(body) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidValueError())
		return
	}

	value, created, err := h.store.Upsert(r.Context(), userID, key, json.RawMessage(body))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, kvEntryResponse{Key: value.Key, Value: value.Value})
}

// DeleteEntry はエントリを削除する。存在しないキーには404を返す。
// DELETE /api/kv/:key
func (h *KVHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	key := chi.URLParam(r, "key")

	value, err := h.store.FindByUserAndKey(r.Context(), userID, key)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if value == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewKeyNotFoundError(key))
		return
	}

	if err := h.store.DeleteByUserAndKey(r.Context(), userID, key); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
