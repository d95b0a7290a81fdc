// Package scrape はプロフィールページHTMLからアカウント統計を抽出する。
//
// 抽出はフィールドごとの戦略カスケードで行う:
//  1. 属性セレクタによるピンポイント抽出（goquery）
//  2. DOM全体の短いテキストノードに対する正規表現スキャン
//     （長い段落での誤検出を避けるため、要素自身のテキスト長に上限を設ける）
//  3. ページ全文に対する最終手段の正規表現（x/net/htmlウォーク）
//
// 最初にヒットした戦略の値を採用する。全戦略が外れたフィールドは
// ゼロ値になり、メトリクスとログに記録される。構造の変化で全フィールドが
// 外れても、構造的に妥当なスナップショットを常に返す。
package scrape

import (
	"bytes"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hitoshi/cabinet/internal/model"
)

// maxScanTextLen は戦略2で走査対象とする要素テキストの最大長。
// これより長いテキストは本文段落とみなしてスキップする。
const maxScanTextLen = 80

// TextSanitizer は抽出テキストのサニタイズのインターフェース。
// security.TextSanitizerServiceを抽象化してテスタビリティを向上させる。
type TextSanitizer interface {
	StripTags(raw string) string
	SanitizeAvatarURL(rawURL string) string
}

// MissRecorder は抽出失敗とレイテンシの記録のインターフェース。
type MissRecorder interface {
	RecordScrapeFieldMiss(field string)
	RecordScrapeLatency(duration time.Duration)
}

// Scraper はプロフィールページの解析機能を提供する。
type Scraper struct {
	sanitizer TextSanitizer
	metrics   MissRecorder
	logger    *slog.Logger
}

// NewScraper はScraperの新しいインスタンスを生成する。
func NewScraper(sanitizer TextSanitizer, metrics MissRecorder, logger *slog.Logger) *Scraper {
	return &Scraper{
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// countField は数値統計フィールドの抽出仕様。
// selectorsは戦略1で順に試すgoqueryセレクタ、patternは戦略2と3で使う正規表現。
// patternの最初のキャプチャグループが値として解釈される。
type countField struct {
	name      string
	selectors []string
	pattern   *regexp.Regexp
}

// countFields は数値フィールドの抽出仕様リスト。
// 差し替え可能な戦略リストとしてここに隔離されている。
var countFields = []countField{
	{
		name: "followers",
		selectors: []string{
			`[data-testid="profile-followers"]`,
			`[id^="profile--id-card--highlight-tooltip--followers"]`,
		},
		pattern: regexp.MustCompile(`(?i)([\d.,]+[km]?)\s*follower`),
	},
	{
		name: "karma",
		selectors: []string{
			`[data-testid="profile-karma"]`,
			`[id^="profile--id-card--highlight-tooltip--karma"]`,
		},
		pattern: regexp.MustCompile(`(?i)([\d.,]+[km]?)\s*karma`),
	},
	{
		name: "contributions",
		selectors: []string{
			`[data-testid="profile-contributions"]`,
		},
		pattern: regexp.MustCompile(`(?i)([\d.,]+[km]?)\s*contribution`),
	},
	{
		name: "comments",
		selectors: []string{
			`[data-testid="profile-comments"]`,
		},
		pattern: regexp.MustCompile(`(?i)([\d.,]+[km]?)\s*comment`),
	},
	{
		name: "posts",
		selectors: []string{
			`[data-testid="profile-posts"]`,
		},
		pattern: regexp.MustCompile(`(?i)([\d.,]+[km]?)\s*post`),
	},
	{
		name: "gold_earned",
		selectors: []string{
			`[data-testid="profile-gold"]`,
		},
		pattern: regexp.MustCompile(`(?i)([\d.,]+[km]?)\s*gold`),
	},
	{
		name: "active_in",
		selectors: []string{
			`[data-testid="profile-active-communities"]`,
		},
		pattern: regexp.MustCompile(`(?i)active in\s*([\d.,]+[km]?)`),
	},
}

// ageField はアカウント年齢の抽出仕様。値は「<N> <単位>」形式で取得後、日数に正規化される。
var ageField = countField{
	name: "account_age",
	selectors: []string{
		`[data-testid="profile-cake-day"]`,
		`[id^="profile--id-card--highlight-tooltip--cakeday"]`,
	},
	pattern: regexp.MustCompile(`(?i)(\d+)\s*(y(?:ears?|rs?)?|mo(?:nths?)?|d(?:ays?)?)\b`),
}

// ParseProfile はプロフィールページHTMLを解析してスナップショットを生成する。
// 解析不能なHTMLや全戦略のミスでもエラーを返さず、全デフォルト値の
// スナップショットを返す。抽出できなかったフィールドはメトリクスに記録される。
func (s *Scraper) ParseProfile(htmlBody []byte) model.Snapshot {
	start := time.Now()
	defer func() {
		s.metrics.RecordScrapeLatency(time.Since(start))
	}()

	var snapshot model.Snapshot

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		s.logger.Warn("プロフィールHTMLの解析に失敗しました", slog.String("error", err.Error()))
		s.recordAllMisses()
		return snapshot
	}

	fullText := extractFullText(htmlBody)

	for _, field := range countFields {
		raw, ok := s.extract(doc, fullText, field)
		if !ok {
			s.recordMiss(field.name)
			continue
		}
		value := parseCount(raw)
		switch field.name {
		case "followers":
			snapshot.Stats.Followers = value
		case "karma":
			snapshot.Stats.Karma = value
		case "contributions":
			snapshot.Stats.Contributions = value
		case "comments":
			snapshot.Stats.Comments = value
		case "posts":
			snapshot.Stats.Posts = value
		case "gold_earned":
			snapshot.Stats.GoldEarned = value
		case "active_in":
			snapshot.Stats.ActiveIn = value
		}
	}

	if raw, ok := s.extract(doc, fullText, ageField); ok {
		snapshot.Stats.AccountAgeDays = parseAgeDays(raw)
	} else {
		s.recordMiss(ageField.name)
	}

	if avatar, ok := extractAvatarURL(doc); ok {
		snapshot.AvatarURL = s.sanitizer.SanitizeAvatarURL(avatar)
	}
	if snapshot.AvatarURL == "" {
		s.recordMiss("avatar_url")
	}

	if username, ok := extractUsername(doc, fullText); ok {
		snapshot.Username = s.sanitizer.StripTags(username)
	} else {
		s.recordMiss("username")
	}

	return snapshot
}

// extract は1フィールドに対して戦略カスケードを実行する。
func (s *Scraper) extract(doc *goquery.Document, fullText string, field countField) (string, bool) {
	// 戦略1: 属性セレクタ
	for _, selector := range field.selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := s.sanitizer.StripTags(sel.Text())
		if m := field.pattern.FindStringSubmatch(text); m != nil {
			return matchValue(field, m), true
		}
		// セレクタが要素に当たった場合、数値のみの表示もそのまま採用する
		if field.name != "account_age" && looksLikeCount(text) {
			return text, true
		}
	}

	// 戦略2: 短いテキストを持つ要素のDOM全体スキャン
	var found string
	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		switch goquery.NodeName(sel) {
		case "script", "style":
			return true
		}
		text := strings.TrimSpace(ownText(sel))
		if text == "" || len(text) > maxScanTextLen {
			return true
		}
		if m := field.pattern.FindStringSubmatch(text); m != nil {
			found = matchValue(field, m)
			return false
		}
		return true
	})
	if found != "" {
		return found, true
	}

	// 戦略3: ページ全文への最終手段の正規表現
	if m := field.pattern.FindStringSubmatch(fullText); m != nil {
		return matchValue(field, m), true
	}

	return "", false
}

// matchValue は正規表現マッチから採用する値を取り出す。
// account_ageは数値と単位の両方が必要なためマッチ全体を返す。
func matchValue(field countField, m []string) string {
	if field.name == "account_age" {
		return m[0]
	}
	return m[1]
}

// ownText は子要素のテキストを除いた、要素自身の直下テキストを返す。
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, node := range sel.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				b.WriteString(child.Data)
			}
		}
	}
	return b.String()
}

// looksLikeCount はテキストが数値表示（"1,234"、"1.2k"等）のみかを判定する。
var countOnlyPattern = regexp.MustCompile(`^[\d.,]+[km]?$`)

func looksLikeCount(text string) bool {
	return countOnlyPattern.MatchString(strings.ToLower(strings.TrimSpace(text)))
}

// extractAvatarURL はアバター画像URLを抽出する。
func extractAvatarURL(doc *goquery.Document) (string, bool) {
	selectors := []string{
		`img[data-testid="profile-avatar"]`,
		`img[alt*="avatar"]`,
		`img[src*="snoovatar"]`,
		`img[src*="styles.redditmedia.com"]`,
	}
	for _, selector := range selectors {
		if src, ok := doc.Find(selector).First().Attr("src"); ok && src != "" {
			return src, true
		}
	}
	return "", false
}

// usernamePattern はu/xxx形式のユーザー名表示にマッチする。
var usernamePattern = regexp.MustCompile(`(?i)\bu/([\w-]+)`)

// extractUsername はページからユーザー名を抽出する。
func extractUsername(doc *goquery.Document, fullText string) (string, bool) {
	if name := strings.TrimSpace(doc.Find(`[data-testid="profile-username"]`).First().Text()); name != "" {
		return strings.TrimPrefix(name, "u/"), true
	}
	if m := usernamePattern.FindStringSubmatch(fullText); m != nil {
		return m[1], true
	}
	return "", false
}

// extractFullText はHTMLからscript/styleを除く全テキストを抽出する。
// goqueryが解析に失敗するような壊れたHTMLに対する最終手段でもある。
func extractFullText(htmlBody []byte) string {
	var b strings.Builder
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// parseCount は数値表示テキストを整数に変換する。
// カンマ区切り（"1,234"）と省略表記（"1.2k"、"3m"）に対応する。
// 変換できない場合は0を返す。
func parseCount(raw string) int {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.ReplaceAll(text, ",", "")
	if text == "" {
		return 0
	}

	multiplier := 1.0
	switch text[len(text)-1] {
	case 'k':
		multiplier = 1_000
		text = text[:len(text)-1]
	case 'm':
		multiplier = 1_000_000
		text = text[:len(text)-1]
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	return int(value * multiplier)
}

// agePattern は「<N> <単位>」形式の年齢表示にマッチする。
var agePattern = regexp.MustCompile(`(?i)(\d+)\s*(y(?:ears?|rs?)?|m(?:o(?:nths?)?)?|d(?:ays?)?)\b`)

// parseAgeDays は年齢表示テキストを日数に正規化する。
// 1ヶ月 = 30日、1年 = 365日として換算する。
// 解釈できないテキストは0を返す。
func parseAgeDays(raw string) int {
	m := agePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}

	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "y"):
		return n * 365
	case strings.HasPrefix(unit, "m"):
		return n * 30
	case strings.HasPrefix(unit, "d"):
		return n
	}
	return 0
}

// recordMiss は抽出失敗をログとメトリクスに記録する。
func (s *Scraper) recordMiss(field string) {
	s.logger.Warn("フィールドの抽出に失敗しました", slog.String("field", field))
	s.metrics.RecordScrapeFieldMiss(field)
}

// recordAllMisses は全フィールドの抽出失敗を記録する。
func (s *Scraper) recordAllMisses() {
	for _, field := range countFields {
		s.recordMiss(field.name)
	}
	s.recordMiss(ageField.name)
	s.recordMiss("avatar_url")
	s.recordMiss("username")
}
