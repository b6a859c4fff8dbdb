package latency

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	// debounceDelay lets the writer finish before the log is re-read.
	debounceDelay = 100 * time.Millisecond
	pollInterval  = 2 * time.Second
)

// Watcher re-analyzes a log file whenever it changes.
type Watcher struct {
	path   string
	re     *regexp.Regexp
	out    io.Writer
	logger zerolog.Logger
}

// NewWatcher builds a Watcher for the log at path. A nil re uses
// DefaultPattern.
func NewWatcher(path string, re *regexp.Regexp, out io.Writer, logger zerolog.Logger) *Watcher {
	return &Watcher{path: path, re: re, out: out, logger: logger}
}

// Watch prints an initial summary, then reprints on every write to the file
// until ctx is cancelled. The parent directory is watched rather than the
// file itself so log rotation and atomic replacement keep producing events.
// If the notifier cannot start, Watch falls back to modtime polling.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.analyze(); err != nil {
		return err
	}

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Falling back to polling for log changes")
		return w.poll(ctx)
	}
	defer notifier.Close()

	dir := filepath.Dir(w.path)
	if err := notifier.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch log directory, falling back to polling")
		return w.poll(ctx)
	}

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce - wait a bit for the write to complete
			time.Sleep(debounceDelay)
			if err := w.analyze(); err != nil {
				w.logger.Error().Err(err).Msg("Log analysis failed")
			}
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Log watcher error")
		}
	}
}

// poll is the fallback when inotify is unavailable.
func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastMod time.Time
	if stat, err := os.Stat(w.path); err == nil {
		lastMod = stat.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stat, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if stat.ModTime().After(lastMod) {
				lastMod = stat.ModTime()
				if err := w.analyze(); err != nil {
					w.logger.Error().Err(err).Msg("Log analysis failed")
				}
			}
		}
	}
}

func (w *Watcher) analyze() error {
	return Analyze(w.path, w.re, w.out)
}
