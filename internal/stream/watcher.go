package stream

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// playlistWatcher tracks when the HLS playlist was last rewritten. Status
// treats a fresh playlist as proof of life even when the daemon holds no
// process handle, which covers a consumer attached from a previous run.
type playlistWatcher struct {
	logger zerolog.Logger
	path   string

	mu        sync.Mutex
	lastWrite time.Time

	fw   *fsnotify.Watcher
	done chan struct{}
}

// newPlaylistWatcher starts watching the playlist's directory. When inotify
// is unavailable the watcher degrades to stat-only freshness checks.
func newPlaylistWatcher(logger zerolog.Logger, path string) *playlistWatcher {
	w := &playlistWatcher{
		logger: logger,
		path:   path,
		done:   make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fw.Add(filepath.Dir(path))
	}
	if err != nil {
		if fw != nil {
			fw.Close()
		}
		logger.Debug().
			Str("event", "stream.watcher.fallback").
			Err(err).
			Msg("playlist watch unavailable, using stat only")
		return w
	}

	w.fw = fw
	go w.run()
	return w
}

func (w *playlistWatcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				w.mu.Lock()
				w.lastWrite = time.Now()
				w.mu.Unlock()
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *playlistWatcher) close() {
	close(w.done)
	if w.fw != nil {
		w.fw.Close()
	}
}

// fresh reports whether the playlist was written within window, consulting
// both the in-memory event timestamp and the file mtime. The mtime check
// matters on the first call after daemon start, before any event arrived.
func (w *playlistWatcher) fresh(window time.Duration) bool {
	now := time.Now()

	w.mu.Lock()
	last := w.lastWrite
	w.mu.Unlock()
	if !last.IsZero() && now.Sub(last) <= window {
		return true
	}

	fi, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	return now.Sub(fi.ModTime()) <= window
}
