// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, kv, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidIdentifier = "INVALID_IDENTIFIER"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrCodeKeyNotFound       = "KEY_NOT_FOUND"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidIdentifierError はアカウント識別子が不正な場合のエラーを生成する。
func NewInvalidIdentifierError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentifier,
		Message:  fmt.Sprintf("アカウント識別子が不正です: %s", reason),
		Category: "validation",
		Action:   "ユーザー名とプロフィールURLを確認してください。",
	}
}

// NewInvalidValueError は保存値が有効なJSONでない場合のエラーを生成する。
func NewInvalidValueError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidValue,
		Message:  "保存値が有効なJSONではありません。",
		Category: "validation",
		Action:   "正しいJSON形式で値を指定してください。",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", accountID),
		Category: "account",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewKeyNotFoundError は保存キーが見つからない場合のエラーを生成する。
func NewKeyNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeKeyNotFound,
		Message:  fmt.Sprintf("指定されたキーが見つかりません: %s", key),
		Category: "kv",
		Action:   "キー名を確認してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているプロフィールURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なAPIトークンを指定してください。",
	}
}
