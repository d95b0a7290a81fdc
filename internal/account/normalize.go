// Package account は追跡アカウントのあいまい照合とUPSERT処理を提供する。
package account

import "strings"

// NormalizeIdentifier はアカウント識別子を照合用に正規化する。
// 前後の空白を除去し、末尾のスラッシュを取り除き、小文字化する。
// "https://www.Reddit.com/user/Spez/" と "https://www.reddit.com/user/spez" は
// 正規化後に同一となる。
func NormalizeIdentifier(raw string) string {
	normalized := strings.TrimSpace(raw)
	normalized = strings.TrimRight(normalized, "/")
	return strings.ToLower(normalized)
}
