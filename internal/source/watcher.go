package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce はファイル変更を検知してから再同期するまでの待ち時間。
const DefaultDebounce = 500 * time.Millisecond

// SyncFunc はシードの再同期処理。
type SyncFunc func(ctx context.Context, seed *Seed) error

// Watcher はシードファイルの変更を監視し、変更時に再同期する。
// エディタの置き換え保存に対応するため、ファイルではなく親ディレクトリを監視する。
type Watcher struct {
	path     string
	sync     SyncFunc
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher はWatcherを生成する。
func NewWatcher(path string, sync SyncFunc, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		sync:     sync,
		debounce: debounce,
		logger:   logger,
	}
}

// Run はコンテキストがキャンセルされるまで監視を続ける。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ファイル監視の開始に失敗: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("ディレクトリの監視登録に失敗: %w", err)
	}

	w.logger.Info("シードファイルの監視を開始しました", slog.String("path", w.path))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("シードファイルの監視を停止しました")
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				resetTimer(timer, w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("ファイル監視でエラーが発生しました", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

// resetTimer は発火済みで未受信の値を捨ててからタイマーを再設定する。
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (w *Watcher) reload(ctx context.Context) {
	seed, err := LoadSeedFile(w.path)
	if err != nil {
		w.logger.Error("シードファイルの再読み込みに失敗しました",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := w.sync(ctx, seed); err != nil {
		w.logger.Error("シードの再同期に失敗しました",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("シードファイルを再同期しました", slog.String("path", w.path))
}
