package acquire

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/LdDl/budtrack/pipeline"
)

// DefaultSettle is quiet period after the last write before a frame file is read
const DefaultSettle = 500 * time.Millisecond

// Watch serves frame files of a directory as they appear.
// The stream ends once DoneMarker exists and every frame file has been served
type Watch struct {
	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// pending maps file path to time of its last write
	pending map[string]time.Time
	last    string
	next    int
	done    bool
}

// WatchOption configures Watch
type WatchOption func(*Watch)

// WithSettle overrides settle period
func WithSettle(d time.Duration) WatchOption {
	return func(w *Watch) {
		w.settle = d
	}
}

// WithWatchLogger sets logger
func WithWatchLogger(logger zerolog.Logger) WatchOption {
	return func(w *Watch) {
		w.logger = logger.With().Str("component", "acquire").Logger()
	}
}

// NewWatch starts watching directory. Frame files which already exist are served first
func NewWatch(dir string, start int, opts ...WatchOption) (*Watch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "can't create watcher")
	}
	w := &Watch{
		dir:     dir,
		settle:  DefaultSettle,
		watcher: watcher,
		logger:  zerolog.Nop(),
		pending: make(map[string]time.Time),
		next:    start,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "can't watch %s", dir)
	}
	// listing after Add so no file slips between the two
	files, err := ListFrames(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	for _, path := range files {
		w.pending[path] = time.Time{}
	}
	if _, err := os.Stat(filepath.Join(dir, DoneMarker)); err == nil {
		w.done = true
	}
	w.logger.Info().Str("dir", dir).Int("existing", len(files)).Bool("done", w.done).Msg("Watching acquisition directory")
	return w, nil
}

// Close stops watching
func (w *Watch) Close() error {
	return w.watcher.Close()
}

// Next blocks until the next frame file settles
func (w *Watch) Next(ctx context.Context) (pipeline.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return pipeline.Frame{}, err
		}
		path, wait, ok := w.ready(time.Now())
		if ok {
			delete(w.pending, path)
			w.last = path
			img, err := ReadImage(path)
			if err != nil {
				return pipeline.Frame{}, err
			}
			frame := pipeline.Frame{
				Index: w.next,
				Image: img,
				Name:  filepath.Base(path),
			}
			w.next++
			return frame, nil
		}
		if w.done && len(w.pending) == 0 {
			return pipeline.Frame{}, io.EOF
		}
		var timer <-chan time.Time
		if wait > 0 {
			timer = time.After(wait)
		}
		select {
		case <-ctx.Done():
			return pipeline.Frame{}, ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return pipeline.Frame{}, errors.New("watcher closed")
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return pipeline.Frame{}, errors.New("watcher closed")
			}
			return pipeline.Frame{}, errors.Wrap(err, "watcher failed")
		case <-timer:
		}
	}
}

func (w *Watch) handle(ev fsnotify.Event) {
	if filepath.Base(ev.Name) == DoneMarker && ev.Has(fsnotify.Create) {
		w.done = true
		w.logger.Info().Msg("Acquisition finished")
		return
	}
	if !IsFrameFile(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if ev.Name <= w.last {
			w.logger.Warn().Str("file", ev.Name).Msg("Frame file arrived out of order, skipped")
			return
		}
		w.pending[ev.Name] = time.Now()
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
	}
}

// ready picks the first pending file by name if it has settled.
// Otherwise it reports how long to wait before checking again
func (w *Watch) ready(now time.Time) (string, time.Duration, bool) {
	if len(w.pending) == 0 {
		return "", 0, false
	}
	names := make([]string, 0, len(w.pending))
	for path := range w.pending {
		names = append(names, path)
	}
	sort.Strings(names)
	first := names[0]
	elapsed := now.Sub(w.pending[first])
	if elapsed >= w.settle {
		return first, 0, true
	}
	return "", w.settle - elapsed, false
}
