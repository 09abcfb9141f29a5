// Package watch implements a drop-directory watcher: audio files dropped
// into the watched tree are queued and submitted for transcription as the
// command channel becomes free.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/metrics"
)

// audioExtensions matches the formats the runner's audio loader accepts.
var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".wma":  true,
}

// Submitter is the slice of the operation controller the watcher drives.
type Submitter interface {
	SubmitTranscribe(ctx context.Context, path string, diarize bool) (uuid.UUID, error)
	SubmitLoadModel(ctx context.Context, model string) (uuid.UUID, error)
	Busy() bool
	LoadedModel() string
}

// Options configures a Watcher.
type Options struct {
	Dir          string
	DefaultModel string
	Diarize      bool
	// Interval is how often the dispatch loop retries a queued file
	// while the channel is busy.
	Interval time.Duration
	Ctrl     Submitter
	Log      zerolog.Logger
}

// Watcher queues dropped audio files and feeds them to the controller one
// at a time. The runner handles a single command at once, so queued files
// wait for the channel rather than being submitted concurrently.
type Watcher struct {
	opts Options
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	queueMu sync.Mutex
	queue   []string
	queued  map[string]bool

	filesQueued    atomic.Int64
	filesSubmitted atomic.Int64
}

func New(opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		queued:         make(map[string]bool),
	}
}

// Start initializes the fsnotify watcher over the drop directory tree and
// begins the event and dispatch loops.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	dirCount := 0
	err = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.opts.Dir).
		Msg("drop-dir watcher initialized")

	go w.watchLoop(ctx)
	go w.dispatchLoop(ctx)
	return nil
}

// Stop closes the fsnotify watcher and halts dispatch.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().
		Int64("files_queued", w.filesQueued.Load()).
		Int64("files_submitted", w.filesSubmitted.Load()).
		Msg("drop-dir watcher stopped")
}

// Pending returns how many files are waiting for the channel.
func (w *Watcher) Pending() int {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()
	return len(w.queue)
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: extend the watch set.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !audioExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}

			w.scheduleEnqueue(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleEnqueue debounces enqueueing by 500ms so a file still being
// copied in is picked up once, after its last write.
func (w *Watcher) scheduleEnqueue(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()
	if w.queued[path] {
		return
	}
	w.queued[path] = true
	w.queue = append(w.queue, path)
	w.filesQueued.Add(1)
	metrics.WatcherFilesQueuedTotal.Inc()
	w.log.Info().Str("path", path).Int("pending", len(w.queue)).Msg("audio file queued")
}

// dispatchLoop submits queued files one at a time, whenever the channel
// is free. If no model is loaded yet it loads the default model first;
// the queued file goes out on a later pass once the load completes.
func (w *Watcher) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.dispatchOne(ctx)
		}
	}
}

func (w *Watcher) dispatchOne(ctx context.Context) {
	if w.opts.Ctrl.Busy() {
		return
	}

	w.queueMu.Lock()
	if len(w.queue) == 0 {
		w.queueMu.Unlock()
		return
	}
	path := w.queue[0]
	w.queueMu.Unlock()

	if w.opts.Ctrl.LoadedModel() == "" {
		if _, err := w.opts.Ctrl.SubmitLoadModel(ctx, w.opts.DefaultModel); err != nil {
			w.log.Warn().Err(err).Str("model", w.opts.DefaultModel).Msg("auto model load failed")
		}
		return
	}

	if _, err := w.opts.Ctrl.SubmitTranscribe(ctx, path, w.opts.Diarize); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to submit watched file")
		return
	}

	w.queueMu.Lock()
	w.queue = w.queue[1:]
	delete(w.queued, path)
	w.queueMu.Unlock()

	w.filesSubmitted.Add(1)
	w.log.Info().Str("path", path).Msg("watched file submitted")
}
