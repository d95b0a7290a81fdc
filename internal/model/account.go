// Package model はドメインモデルを定義する。
package model

import "time"

// AccountStats はプロフィールページから取得した数値統計のスナップショットを表す。
type AccountStats struct {
	Followers      int // フォロワー（subscriber）数
	Karma          int // 合計karma
	AccountAgeDays int // アカウント年齢（日数換算）
	Contributions  int // contribution数
	Comments       int // コメント数
	Posts          int // 投稿数
	GoldEarned     int // 獲得gold数
	ActiveIn       int // アクティブなコミュニティ数
}

// Account は追跡対象のRedditアカウントを表す。
// (user_id, normalized_url) の組み合わせで一意。
type Account struct {
	ID               string
	UserID           string
	Username         string
	RedditURL        string
	NormalizedURL    string // trim + 末尾スラッシュ除去 + 小文字化した識別子
	SessionToken     string // 任意。拡張から供給されたcookie文字列
	AvatarURL        string
	Stats            AccountStats
	StatsRefreshedAt *time.Time // 権威ソースからの最終再取得日時
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Snapshot はスクレイパーの1回の抽出結果を表す。
// 永続化されず、エージェントと取り込みエンドポイントの間でのみ存在する。
type Snapshot struct {
	Username  string
	RedditURL string
	Token     string // cookie文字列。空の場合あり
	AvatarURL string // 抽出できなかった場合は空
	Stats     AccountStats
}
