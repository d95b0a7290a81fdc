package reddit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(http.DefaultClient, logger)
	c.baseURL = serverURL
	return c
}

const aboutJSONFixture = `{
  "kind": "t2",
  "data": {
    "total_karma": 123456,
    "subscribers": 789,
    "icon_img": "https://styles.redditmedia.com/avatar.png?width=256&amp;height=256",
    "created_utc": 1119484800
  }
}`

func TestFetchStats_Success(t *testing.T) {
	var gotCookie, gotUserAgent, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotUserAgent = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(aboutJSONFixture))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.now = func() time.Time {
		// created_utc(2005-06-23)から丁度100日後
		return time.Unix(1119484800, 0).Add(100 * 24 * time.Hour)
	}

	stats, avatarURL, err := c.FetchStats(context.Background(), "spez", "reddit_session=abc123")
	if err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}

	if gotPath != "/user/spez/about.json" {
		t.Errorf("path = %q, want /user/spez/about.json", gotPath)
	}
	if gotCookie != "reddit_session=abc123" {
		t.Errorf("Cookie = %q, want reddit_session=abc123", gotCookie)
	}
	if gotUserAgent == "" || gotUserAgent == "Go-http-client/1.1" {
		t.Errorf("User-Agent = %q, want explicit value", gotUserAgent)
	}

	if stats.Karma != 123456 {
		t.Errorf("Karma = %d, want 123456", stats.Karma)
	}
	if stats.Followers != 789 {
		t.Errorf("Followers = %d, want 789", stats.Followers)
	}
	if stats.AccountAgeDays != 100 {
		t.Errorf("AccountAgeDays = %d, want 100", stats.AccountAgeDays)
	}
	// &amp;が展開されていること
	if avatarURL != "https://styles.redditmedia.com/avatar.png?width=256&height=256" {
		t.Errorf("avatarURL = %q", avatarURL)
	}
}

func TestFetchStats_NoTokenOmitsCookie(t *testing.T) {
	var cookieSent bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, cookieSent = r.Header["Cookie"]
		_, _ = w.Write([]byte(aboutJSONFixture))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, _, err := c.FetchStats(context.Background(), "spez", ""); err != nil {
		t.Fatalf("FetchStats failed: %v", err)
	}

	if cookieSent {
		t.Error("Cookie header should not be sent without a token")
	}
}

func TestFetchStats_EmptyUsername(t *testing.T) {
	c := newTestClient("http://unused.example")

	if _, _, err := c.FetchStats(context.Background(), "  ", "token"); err == nil {
		t.Error("expected error for empty username")
	}
}

func TestFetchStats_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, _, err := c.FetchStats(context.Background(), "spez", "expired"); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestFetchStats_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, _, err := c.FetchStats(context.Background(), "spez", "token"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

const overviewFeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>overview for spez</title>
  <entry>
    <title>An announcement post</title>
    <link href="https://www.reddit.com/r/announcements/comments/abc123/an_announcement_post/"/>
  </entry>
  <entry>
    <title>Another post</title>
    <link href="https://www.reddit.com/r/golang/comments/def456/another_post/"/>
  </entry>
  <entry>
    <title>A reply on something</title>
    <link href="https://www.reddit.com/r/golang/comments/def456/another_post/ghi789/"/>
  </entry>
</feed>`

func TestFetchRecentActivity_CountsPostsAndComments(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(overviewFeedFixture))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	posts, comments, err := c.FetchRecentActivity(context.Background(), "spez")
	if err != nil {
		t.Fatalf("FetchRecentActivity failed: %v", err)
	}

	if gotPath != "/user/spez.rss" {
		t.Errorf("path = %q, want /user/spez.rss", gotPath)
	}
	if posts != 2 {
		t.Errorf("posts = %d, want 2", posts)
	}
	if comments != 1 {
		t.Errorf("comments = %d, want 1", comments)
	}
}

func TestFetchRecentActivity_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, _, err := c.FetchRecentActivity(context.Background(), "ghost"); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestIsCommentPermalink(t *testing.T) {
	tests := []struct {
		name string
		link string
		want bool
	}{
		{"post permalink", "https://www.reddit.com/r/golang/comments/abc123/some_post/", false},
		{"comment permalink", "https://www.reddit.com/r/golang/comments/abc123/some_post/xyz789/", true},
		{"profile link", "https://www.reddit.com/user/spez", false},
		{"empty", "", false},
		{"root", "https://www.reddit.com/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCommentPermalink(tt.link); got != tt.want {
				t.Errorf("isCommentPermalink(%q) = %v, want %v", tt.link, got, tt.want)
			}
		})
	}
}
