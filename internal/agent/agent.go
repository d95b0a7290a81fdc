package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cabinet/internal/model"
	"github.com/hitoshi/cabinet/internal/scrape"
)

// ProfileScraper はプロフィールHTMLの解析のインターフェース。
type ProfileScraper interface {
	ParseProfile(htmlBody []byte) model.Snapshot
}

// URLValidator は取得前のURL検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Agent はプロフィールのスクレイピングと取り込みエンドポイントへの送信を行う。
type Agent struct {
	fetchClient *http.Client // SSRF防止機能付き
	apiClient   *http.Client
	scraper     ProfileScraper
	validator   URLValidator
	logger      *slog.Logger
	apiURL      string
	apiToken    string
	maxBodySize int64
}

// NewAgent はAgentの新しいインスタンスを生成する。
func NewAgent(
	fetchClient *http.Client,
	apiClient *http.Client,
	scraper ProfileScraper,
	validator URLValidator,
	logger *slog.Logger,
	apiURL, apiToken string,
	maxBodySize int64,
) *Agent {
	return &Agent{
		fetchClient: fetchClient,
		apiClient:   apiClient,
		scraper:     scraper,
		validator:   validator,
		logger:      logger,
		apiURL:      apiURL,
		apiToken:    apiToken,
		maxBodySize: maxBodySize,
	}
}

// ingestStats は取り込みリクエストの統計部分。
type ingestStats struct {
	Followers     int    `json:"followers"`
	Karma         int    `json:"karma"`
	AccountAge    int    `json:"accountAge"`
	Contributions int    `json:"contributions"`
	Comments      int    `json:"comments"`
	Posts         int    `json:"posts"`
	GoldEarned    int    `json:"goldEarned"`
	ActiveIn      int    `json:"activeIn"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
}

// ingestRequest は取り込みエンドポイントへのリクエストボディ。
type ingestRequest struct {
	Username  string      `json:"username"`
	RedditURL string      `json:"redditUrl"`
	Token     string      `json:"token,omitempty"`
	Stats     ingestStats `json:"stats"`
}

// ScrapeAndPost はプロフィールページを取得・解析し、スナップショットを
// 取り込みエンドポイントへ送信する。tokenはスナップショットに添付され、
// サーバー側のライブ再取得に使用される。
func (a *Agent) ScrapeAndPost(ctx context.Context, profileURL, token string) error {
	if err := a.validator.ValidateURL(profileURL); err != nil {
		return fmt.Errorf("プロフィールURLの検証に失敗しました: %w", err)
	}

	htmlBody, err := a.fetchProfile(ctx, profileURL)
	if err != nil {
		return err
	}

	snapshot := a.scraper.ParseProfile(htmlBody)
	snapshot.RedditURL = profileURL
	snapshot.Token = token

	if snapshot.Username == "" {
		return fmt.Errorf("プロフィールページからユーザー名を抽出できませんでした: %s", profileURL)
	}

	if err := a.postSnapshot(ctx, snapshot); err != nil {
		return err
	}

	a.logger.Info("スナップショットを送信しました",
		slog.String("username", snapshot.Username),
		slog.String("url", profileURL),
	)
	return nil
}

// fetchProfile はプロフィールページのHTMLを取得する。
func (a *Agent) fetchProfile(ctx context.Context, profileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Cabinet/1.0 Account Dashboard")

	resp, err := a.fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("プロフィールページの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("プロフィールページがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, nil
}

// postSnapshot はスナップショットを取り込みエンドポイントへ送信する。
func (a *Agent) postSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	payload := ingestRequest{
		Username:  snapshot.Username,
		RedditURL: snapshot.RedditURL,
		Token:     snapshot.Token,
		Stats: ingestStats{
			Followers:     snapshot.Stats.Followers,
			Karma:         snapshot.Stats.Karma,
			AccountAge:    snapshot.Stats.AccountAgeDays,
			Contributions: snapshot.Stats.Contributions,
			Comments:      snapshot.Stats.Comments,
			Posts:         snapshot.Stats.Posts,
			GoldEarned:    snapshot.Stats.GoldEarned,
			ActiveIn:      snapshot.Stats.ActiveIn,
			AvatarURL:     snapshot.AvatarURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("リクエストボディの作成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.apiURL+"/api/accounts/from-extension", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiToken)

	resp, err := a.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("取り込みエンドポイントへの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("取り込みエンドポイントがステータス %d を返しました", resp.StatusCode)
	}
	return nil
}

// インターフェース実装のコンパイル時チェック
var _ ProfileScraper = (*scrape.Scraper)(nil)
