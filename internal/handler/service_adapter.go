package handler

import (
	"context"

	"github.com/hitoshi/cabinet/internal/account"
	"github.com/hitoshi/cabinet/internal/model"
)

// AccountServiceAdapter は account.Service を AccountServiceInterface に適合させるアダプタ。
type AccountServiceAdapter struct {
	svc *account.Service
}

// NewAccountServiceAdapter はAccountServiceAdapterを生成する。
func NewAccountServiceAdapter(svc *account.Service) *AccountServiceAdapter {
	return &AccountServiceAdapter{svc: svc}
}

// Upsert はUPSERT結果を (アカウント, 新規作成フラグ) に平坦化して返す。
func (a *AccountServiceAdapter) Upsert(ctx context.Context, userID string, snapshot model.Snapshot) (*model.Account, bool, error) {
	result, err := a.svc.Upsert(ctx, userID, snapshot)
	if err != nil {
		return nil, false, err
	}
	return result.Account, result.Created, nil
}

// List はユーザーの全アカウントを返す。
func (a *AccountServiceAdapter) List(ctx context.Context, userID string) ([]*model.Account, error) {
	return a.svc.List(ctx, userID)
}

// Delete は所有者を確認した上でアカウントを削除する。
func (a *AccountServiceAdapter) Delete(ctx context.Context, userID, accountID string) error {
	return a.svc.Delete(ctx, userID, accountID)
}

// インターフェース実装のコンパイル時チェック
var _ AccountServiceInterface = (*AccountServiceAdapter)(nil)
