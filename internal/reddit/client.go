// Package reddit はRedditの権威ソースからのアカウント統計取得を提供する。
// セッショントークン付きのabout.json呼び出しと、公開RSSフィードからの
// 直近アクティビティ集計を含む。
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/cabinet/internal/model"
)

// defaultBaseURL はReddit APIのベースURL。
const defaultBaseURL = "https://www.reddit.com"

// userAgent はRedditへのリクエストで使用するUser-Agent。
// 既定のGo User-AgentはRedditにブロックされるため明示的に設定する。
const userAgent = "Cabinet/1.0 Account Dashboard"

// Client はRedditプロフィールAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
	now        func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すことを想定している。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
		now:        time.Now,
	}
}

// aboutResponse はabout.jsonエンドポイントのレスポンス。
type aboutResponse struct {
	Data struct {
		TotalKarma  int     `json:"total_karma"`
		Subscribers int     `json:"subscribers"`
		IconImg     string  `json:"icon_img"`
		CreatedUTC  float64 `json:"created_utc"`
	} `json:"data"`
}

// FetchStats はabout.jsonエンドポイントから権威的な統計を取得する。
// tokenはCookieヘッダとしてそのまま送信される。
// 戻り値はアカウント統計とアバターURL（未設定の場合は空）。
func (c *Client) FetchStats(ctx context.Context, username, token string) (*model.AccountStats, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", fmt.Errorf("ユーザー名が指定されていません")
	}

	reqURL := fmt.Sprintf("%s/user/%s/about.json", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Cookie", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("about.jsonの呼び出しに失敗しました",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("about.jsonがエラーステータスを返しました",
			slog.String("username", username),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, "", fmt.Errorf("about.jsonがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var about aboutResponse
	if err := json.Unmarshal(body, &about); err != nil {
		return nil, "", fmt.Errorf("about.jsonのパースに失敗しました: %w", err)
	}

	stats := &model.AccountStats{
		Karma:          about.Data.TotalKarma,
		Followers:      about.Data.Subscribers,
		AccountAgeDays: c.ageDays(about.Data.CreatedUTC),
	}

	// icon_imgはHTMLエスケープ済み（&amp;等）で返るため展開する
	avatarURL := html.UnescapeString(about.Data.IconImg)

	return stats, avatarURL, nil
}

// ageDays はアカウント作成時刻（UNIX秒）から経過日数を計算する。
func (c *Client) ageDays(createdUTC float64) int {
	if createdUTC <= 0 {
		return 0
	}
	created := time.Unix(int64(createdUTC), 0)
	days := int(c.now().Sub(created).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// FetchRecentActivity は公開RSSフィードから直近の投稿数とコメント数を集計する。
// コメントのpermalinkは投稿よりパスが深いことを利用して分類する。
func (c *Client) FetchRecentActivity(ctx context.Context, username string) (posts int, comments int, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, 0, fmt.Errorf("ユーザー名が指定されていません")
	}

	reqURL := fmt.Sprintf("%s/user/%s.rss", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("RSSフィードがステータス %d を返しました", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("RSSフィードのパースに失敗しました: %w", err)
	}

	for _, item := range feed.Items {
		if isCommentPermalink(item.Link) {
			comments++
		} else {
			posts++
		}
	}

	c.logger.Info("直近アクティビティを集計しました",
		slog.String("username", username),
		slog.Int("posts", posts),
		slog.Int("comments", comments),
	)

	return posts, comments, nil
}

// isCommentPermalink はpermalinkがコメントを指すかを判定する。
// 投稿: /r/<sub>/comments/<id>/<slug>/
// コメント: /r/<sub>/comments/<id>/<slug>/<comment_id>/
// コメントのpermalinkは投稿より1段深い。
func isCommentPermalink(link string) bool {
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return false
	}
	segments := strings.Split(path, "/")
	return len(segments) >= 6
}
