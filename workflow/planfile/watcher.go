package planfile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentcoord/workflow"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听计划目录，文件变化后（防抖）重新同步到存储
type Watcher struct {
	dir      string
	store    Saver
	registry workflow.NodeRegistry
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(SyncResult)
	fsw       *fsnotify.Watcher
	done      chan struct{}
}

// WatcherOption 配置 Watcher
type WatcherOption func(*Watcher)

// WithDebounce 设置防抖间隔
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher 创建目录监听器
func NewWatcher(dir string, store Saver, registry workflow.NodeRegistry, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		store:    store,
		registry: registry,
		debounce: 200 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "plan_watcher"), zap.String("dir", dir))
	return w
}

// OnReload 注册同步完成回调
func (w *Watcher) OnReload(cb func(SyncResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start 先同步一次，再开始监听。ctx 取消或 Close 后停止。
func (w *Watcher) Start(ctx context.Context) (SyncResult, error) {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return SyncResult{}, fmt.Errorf("plan watcher already running")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return SyncResult{}, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		w.mu.Unlock()
		return SyncResult{}, fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	initial := w.reload(ctx)
	go w.loop(ctx, fsw, w.done)

	w.logger.Info("plan watcher started", zap.Int("plans", len(initial.Saved)))
	return initial, nil
}

// Close 停止监听
func (w *Watcher) Close() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !IsPlanFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("plan file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plan watcher error", zap.Error(err))
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) SyncResult {
	result, err := Sync(ctx, w.dir, w.store, w.registry)
	if err != nil {
		w.logger.Error("plan sync failed", zap.Error(err))
	}
	for path, ferr := range result.Failed {
		w.logger.Warn("plan file rejected", zap.String("path", path), zap.Error(ferr))
	}
	if len(result.Saved) > 0 {
		w.logger.Info("plans synced", zap.Strings("plans", result.Saved))
	}

	w.mu.Lock()
	callbacks := make([]func(SyncResult), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(result)
	}
	return result
}
