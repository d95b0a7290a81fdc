// Package sync はローカルミラーとリモートのキー/値ストアの整合を取る
// 照合エンジンを提供する。
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// RemoteClient はCabinet APIのキー/値エンドポイントのクライアント。
type RemoteClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string // Bearerトークン
}

// NewRemoteClient はRemoteClientの新しいインスタンスを生成する。
func NewRemoteClient(httpClient *http.Client, baseURL, token string, logger *slog.Logger) *RemoteClient {
	return &RemoteClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		token:      token,
	}
}

// kvEntry はAPIレスポンスの1エントリ。
type kvEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// kvListResponse はGET /api/kvのレスポンス。
type kvListResponse struct {
	Entries []kvEntry `json:"entries"`
}

func (c *RemoteClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// List はリモートの全エントリを取得する。
func (c *RemoteClient) List(ctx context.Context) (map[string]json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/kv", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("キー一覧の取得がステータス %d を返しました", resp.StatusCode)
	}

	var list kvListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("キー一覧のパースに失敗しました: %w", err)
	}

	entries := make(map[string]json.RawMessage, len(list.Entries))
	for _, entry := range list.Entries {
		entries[entry.Key] = entry.Value
	}
	return entries, nil
}

// keyPath はキーの1エントリエンドポイントのパスを組み立てる。
// キーは任意の文字列を許容するため、"/"や"?"を含むキーが
// 別のルートと解釈されないようパスセグメントとしてエスケープする。
func keyPath(key string) string {
	return "/api/kv/" + url.PathEscape(key)
}

// Get はリモートの1エントリを取得する。
// 未登録の場合はfoundがfalseとなり、エラーにはならない。
func (c *RemoteClient) Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, keyPath(key), nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("キーの取得がステータス %d を返しました", resp.StatusCode)
	}

	var entry kvEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, false, fmt.Errorf("エントリのパースに失敗しました: %w", err)
	}
	return entry.Value, true, nil
}

// Put はリモートの1エントリをUPSERTする。
func (c *RemoteClient) Put(ctx context.Context, key string, value json.RawMessage) error {
	req, err := c.newRequest(ctx, http.MethodPut, keyPath(key), bytes.NewReader(value))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("キーの保存がステータス %d を返しました", resp.StatusCode)
	}
	return nil
}
