package workingcopy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the working copy for file changes and invokes a
// callback after events settle, so callers can snapshot continuously
// without polling.
type Watcher struct {
	wc       *WorkingCopy
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher sets up recursive watches over the working copy, skipping
// the .jj directory.
func NewWatcher(wc *WorkingCopy, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		wc:       wc,
		watcher:  fsw,
		debounce: debounce,
		logger:   wc.opts.Logger,
	}
	if err := w.addRecursive(wc.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".jj" {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run blocks until the context is cancelled, invoking onSettle after
// each debounced burst of events. Errors from the callback are logged
// and watching continues.
func (w *Watcher) Run(ctx context.Context, onSettle func() error) error {
	defer w.watcher.Close()

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if strings.Contains(event.Name, string(filepath.Separator)+".jj") {
				continue
			}
			// New directories need their own watches.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			arm()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-fire:
			if err := onSettle(); err != nil {
				w.logger.Warn("snapshot after change failed", zap.Error(err))
			}
		}
	}
}
