// Package model はドメインモデルを定義する。
package model

import "time"

// Session はAPIアクセス用のbearerクレデンシャルを表す。
// Authorization: Bearer <session id> として提示される。
// 発行フローはスコープ外のため、レコードは外部プロセスで払い出される。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
