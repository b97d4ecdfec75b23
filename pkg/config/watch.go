package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watch calls onChange after filename was written, created or replaced,
// until ctx is cancelled. Bursts of events within debounce collapse into
// a single call.
//
// The parent directory is watched rather than the file so that editors
// which save by rename keep triggering reloads.
func Watch(ctx context.Context, filename string, debounce time.Duration, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch: add %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("config watcher: started", slog.String("file", abs))

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("config watcher: stopped")
			return nil

		case <-fire:
			fire = nil
			onChange()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
