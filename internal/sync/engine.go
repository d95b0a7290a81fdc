package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// State は照合エンジンの状態を表す。
type State int

const (
	// StateUninitialized は初回移行前の状態。
	StateUninitialized State = iota
	// StateSyncing はリモート全件の取り込み中の状態。
	StateSyncing
	// StateSteady は定期ポーリングによる定常運転の状態。
	StateSteady
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateSteady:
		return "steady"
	default:
		return "unknown"
	}
}

// RemoteStore はリモートのキー/値ストアのインターフェース。
// RemoteClientを抽象化してテスタビリティを向上させる。
type RemoteStore interface {
	List(ctx context.Context) (map[string]json.RawMessage, error)
	Get(ctx context.Context, key string) (value json.RawMessage, found bool, err error)
	Put(ctx context.Context, key string, value json.RawMessage) error
}

// LocalStore はローカルミラーのインターフェース。
type LocalStore interface {
	Read(key string, defaultValue json.RawMessage) json.RawMessage
	Write(key string, value json.RawMessage)
	ApplyRemote(key string, value json.RawMessage) error
	Keys() ([]string, error)
	DirtyKeys() ([]string, error)
	ClearDirty(key string) error
}

// Engine はローカルミラーとリモートストアの照合を行う状態機械。
//
// 状態遷移: Uninitialized → Syncing → Steady
//   - Uninitialized: リモートが知らないローカルキーを一度だけ送信する（初回移行）
//   - Syncing: リモート全件を取得してローカルを上書きする（初回ロードはリモート優先）
//   - Steady: 固定間隔で監視キーを取得し、JSONデコード後の深い等価比較で
//     差異があればリモートの値でローカルを上書きする
//
// エンジンの状態はセッションごとの明示的な構造体に閉じており、
// パッケージレベルのフラグは持たない。
// 単一の対話ユーザーを前提とし、ポーリングの重複のみin-flightフラグで防ぐ。
// それ以外のロックは行わない（最後に到着したネットワーク応答が勝つ）。
type Engine struct {
	remote    RemoteStore
	local     LocalStore
	watchKeys []string
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	inFlight bool
}

// NewEngine はEngineの新しいインスタンスを生成する。
// watchKeysは定常運転時にポーリングするキーのリスト。
func NewEngine(remote RemoteStore, local LocalStore, watchKeys []string, logger *slog.Logger) *Engine {
	return &Engine{
		remote:    remote,
		local:     local,
		watchKeys: watchKeys,
		logger:    logger,
		state:     StateUninitialized,
	}
}

// State は現在の状態を返す。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run は初回移行と全件取り込みを行った後、定常ポーリングに入る。
// コンテキストがキャンセルされるまでブロックする。
// 初回移行のネットワーク失敗は致命的ではなく、ミラーを権威として
// 定常運転に進む（次のサイクルで再試行される）。
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.logger.Info("照合エンジンを開始します",
		slog.Duration("interval", interval),
		slog.Int("watch_key_count", len(e.watchKeys)),
	)

	if err := e.initialSync(ctx); err != nil {
		e.logger.Warn("初回同期に失敗しました。ミラーの値で運転を継続します",
			slog.String("error", err.Error()),
		)
	}
	e.setState(StateSteady)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("照合エンジンを停止しました")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// initialSync は初回移行（ローカル専有キーの送信）と
// リモート全件のローカルへの取り込みを行う。
func (e *Engine) initialSync(ctx context.Context) error {
	remoteEntries, err := e.remote.List(ctx)
	if err != nil {
		return err
	}

	// Uninitialized: リモートが知らないローカルキーを送信する
	localKeys, err := e.local.Keys()
	if err != nil {
		return err
	}
	for _, key := range localKeys {
		if _, known := remoteEntries[key]; known {
			continue
		}
		value := e.local.Read(key, nil)
		if value == nil {
			continue
		}
		if err := e.remote.Put(ctx, key, value); err != nil {
			e.logger.Warn("初回移行のキー送信に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := e.local.ClearDirty(key); err != nil {
			e.logger.Warn("dirtyフラグのクリアに失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	// Syncing: リモート全件でローカルを上書きする（リモート優先）
	e.setState(StateSyncing)
	for key, value := range remoteEntries {
		if err := e.local.ApplyRemote(key, value); err != nil {
			e.logger.Warn("リモート値の取り込みに失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Info("初回同期が完了しました",
		slog.Int("remote_entry_count", len(remoteEntries)),
	)
	return nil
}

// runCycle は定常運転の1サイクルを実行する。
// 前サイクルが進行中の場合はスキップする。
func (e *Engine) runCycle(ctx context.Context) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		e.logger.Info("前回の同期サイクルが進行中のためスキップします")
		return
	}
	e.inFlight = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	// 未送信のローカル書き込みを先に送信する
	e.pushDirty(ctx)

	// 監視キーをポーリングし、差異があればリモート優先で上書きする
	for _, key := range e.watchKeys {
		remoteValue, found, err := e.remote.Get(ctx, key)
		if err != nil {
			e.logger.Warn("監視キーの取得に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !found {
			continue
		}

		localValue := e.local.Read(key, nil)
		if jsonEqual(localValue, remoteValue) {
			continue
		}

		if err := e.local.ApplyRemote(key, remoteValue); err != nil {
			e.logger.Warn("リモート値の反映に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Info("リモートの変更をローカルに反映しました",
			slog.String("key", key),
		)
	}
}

// pushDirty は未送信のローカル書き込みをリモートへ送信する。
func (e *Engine) pushDirty(ctx context.Context) {
	dirtyKeys, err := e.local.DirtyKeys()
	if err != nil {
		e.logger.Warn("dirtyキーの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, key := range dirtyKeys {
		value := e.local.Read(key, nil)
		if value == nil {
			continue
		}
		if err := e.remote.Put(ctx, key, value); err != nil {
			e.logger.Warn("ローカル書き込みの送信に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := e.local.ClearDirty(key); err != nil {
			e.logger.Warn("dirtyフラグのクリアに失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Read はローカルミラーから値を読み取る。ネットワークには触れない。
func (e *Engine) Read(key string, defaultValue json.RawMessage) json.RawMessage {
	return e.local.Read(key, defaultValue)
}

// Write はローカルミラーへ書き込み、リモートへの送信を非同期に試みる。
// 送信失敗はログに記録されるのみで、dirtyフラグにより次のサイクルで再送される。
func (e *Engine) Write(ctx context.Context, key string, value json.RawMessage) {
	e.local.Write(key, value)

	// 呼び出し元のコンテキストが先に終了しても送信は継続させる。
	// 値やトレース情報は引き継ぎ、キャンセルだけを切り離す。
	pushCtx := context.WithoutCancel(ctx)
	go func() {
		if err := e.remote.Put(pushCtx, key, value); err != nil {
			e.logger.Warn("書き込みの即時送信に失敗しました。次のサイクルで再送されます",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := e.local.ClearDirty(key); err != nil {
			e.logger.Warn("dirtyフラグのクリアに失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// jsonEqual はJSONデコード後の深い等価比較を行う。
// キー順序や空白の違いは同値とみなす。
func jsonEqual(a, b json.RawMessage) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
