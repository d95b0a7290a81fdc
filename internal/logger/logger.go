// Package logger はCabinetのserve/worker/agent各モードで共通の
// JSON構造化ログ設定を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// nilが渡された場合はos.Stdoutに出力する。
func Setup(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// サーバー・ワーカー・エージェントの起動時に一度だけ呼び出すことを想定している。
func SetupDefault(w io.Writer) {
	slog.SetDefault(Setup(w))
}
