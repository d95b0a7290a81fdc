package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はサーバー/ワーカーモードの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// 外部フェッチ（プロフィールページ・権威ソース再取得）
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitIngest  int

	// 統計再取得ワーカー
	RefreshInterval    time.Duration
	RefreshAPIInterval time.Duration
	RefreshMaxPerCycle int
	StatsTTL           time.Duration
}

// AgentConfig はエージェントモードの設定を保持する。
// エージェントはDBに接続せず、APIサーバーとローカルミラーのみを使用する。
type AgentConfig struct {
	// APIサーバー
	APIBaseURL string
	APIToken   string

	// ローカルミラー（SQLiteファイル）
	MirrorPath string

	// 照合ループ
	SyncInterval time.Duration
	WatchKeys    []string

	// 外部フェッチ（プロフィールページ）
	FetchTimeout time.Duration
	FetchMaxSize int64
}

// Load は環境変数からサーバー/ワーカーモードのConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIngest = getEnvInt("RATE_LIMIT_INGEST", 30)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 15*time.Minute)
	cfg.RefreshAPIInterval = getEnvDuration("REFRESH_API_INTERVAL", 2*time.Second)
	cfg.RefreshMaxPerCycle = getEnvInt("REFRESH_MAX_PER_CYCLE", 50)
	cfg.StatsTTL = getEnvDuration("STATS_TTL", 6*time.Hour)

	return cfg, nil
}

// defaultWatchKeys は照合ループが監視するセクションキーのデフォルト。
// パネルごとのキーはダッシュボード側が動的に追加するため、
// ここには常設のセクションのみを列挙する。
var defaultWatchKeys = []string{"customSections", "openCustomMenus"}

// LoadAgent は環境変数からエージェントモードのAgentConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadAgent() (*AgentConfig, error) {
	cfg := &AgentConfig{}

	var missing []string

	cfg.APIBaseURL = os.Getenv("CABINET_API_URL")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "CABINET_API_URL")
	}

	cfg.APIToken = os.Getenv("CABINET_API_TOKEN")
	if cfg.APIToken == "" {
		missing = append(missing, "CABINET_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.MirrorPath = getEnvString("CABINET_MIRROR_PATH", defaultMirrorPath())
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 30*time.Second)
	cfg.WatchKeys = getEnvList("SYNC_WATCH_KEYS", defaultWatchKeys)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)

	return cfg, nil
}

// defaultMirrorPath はローカルミラーファイルのデフォルトパスを返す。
// ホームディレクトリが取得できない環境ではカレントディレクトリを使用する。
func defaultMirrorPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cabinet-mirror.db"
	}
	return filepath.Join(home, ".cabinet", "mirror.db")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
