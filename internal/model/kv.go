// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// StoredValue はユーザーごとの名前付きJSON値を表す。
// (user_id, key) の組み合わせで一意（UPSERTセマンティクス）。
// 値の形はキーごとに利用側が定義するため、有効なJSONであること以外の
// スキーマは持たない。
type StoredValue struct {
	ID        string
	UserID    string
	Key       string
	Value     json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
