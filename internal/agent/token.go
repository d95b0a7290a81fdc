// Package agent はローカルエージェントの機能を提供する。
// ブラウザCookieからのセッショントークン抽出、プロフィールページの
// スクレイピング、取り込みエンドポイントへの送信を含む。
package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // 各ブラウザのCookieストア対応
)

// canonicalSessionCookie は正準のセッションCookie名。
const canonicalSessionCookie = "reddit_session"

// authCookiePatterns は認証関連とみなすCookie名のパターン。
var authCookiePatterns = []string{
	"session",
	"token",
	"auth",
}

// CollectBrowserToken はアクセス可能な全ブラウザのCookieストアから
// reddit.comとそのサブドメインのCookieを読み取り、認証用のCookie文字列を
// 組み立てる。読み取りのみで副作用はない。
func CollectBrowserToken(ctx context.Context) (string, error) {
	cookies, err := kooky.ReadCookies(ctx, kooky.Valid, kooky.DomainContains("reddit.com"))
	if err != nil {
		return "", fmt.Errorf("ブラウザCookieの読み取りに失敗しました: %w", err)
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &c.Cookie)
	}
	return BuildToken(httpCookies)
}

// BuildToken は認証関連のCookieのみを選別し、単一のCookie文字列に連結する。
// reddit_sessionがあれば先頭に置く。該当するCookieが1つもない場合はエラーを返す。
func BuildToken(cookies []*http.Cookie) (string, error) {
	var canonical *http.Cookie
	var others []*http.Cookie

	for _, c := range cookies {
		if c.Name == canonicalSessionCookie {
			canonical = c
			continue
		}
		if isAuthCookie(c.Name) {
			others = append(others, c)
		}
	}

	if canonical == nil && len(others) == 0 {
		return "", fmt.Errorf("認証関連のCookieが見つかりません。ブラウザでRedditにログインしてください")
	}

	parts := make([]string, 0, len(others)+1)
	if canonical != nil {
		parts = append(parts, canonical.Name+"="+canonical.Value)
	}
	for _, c := range others {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; "), nil
}

// isAuthCookie はCookie名が認証関連のパターンに一致するかを判定する。
func isAuthCookie(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range authCookiePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
