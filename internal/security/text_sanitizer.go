package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はスクレイピング結果のサニタイズ機能のインターフェースを定義する。
// プロフィールページから抽出した文字列を保存する前に使用される。
type TextSanitizerService interface {
	// StripTags は抽出テキストから全てのHTMLタグを除去し、
	// 前後の空白をトリムしたプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	StripTags(raw string) string

	// SanitizeAvatarURL はアバター画像URLを検証して返す。
	// httpsスキーム以外のURL（javascript:, data: 等）は空文字列になる。
	SanitizeAvatarURL(rawURL string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	strict *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグと属性を除去し、テキストノードのみを通過させる。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		strict: bluemonday.StrictPolicy(),
	}
}

// StripTags は抽出テキストから全てのHTMLタグを除去する。
func (s *textSanitizer) StripTags(raw string) string {
	return strings.TrimSpace(s.strict.Sanitize(raw))
}

// SanitizeAvatarURL はアバター画像URLを検証して返す。
func (s *textSanitizer) SanitizeAvatarURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return ""
	}
	if parsed.Hostname() == "" {
		return ""
	}
	return trimmed
}
