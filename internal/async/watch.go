package async

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/docextract/constants"
)

type WatchConfig struct {
	Roots       []string // watched recursively
	Exts        []string // image extensions when empty
	InitialScan bool     // emit files already present before watching
	Debounce    time.Duration
	SkipHidden  bool
}

// Watch emits the paths of matching files as they are created or written
// under cfg.Roots. Bursts of events for the same file within Debounce are
// coalesced. Both channels close when ctx is done.
func Watch(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	allowed := constants.ImageExtensions
	if len(cfg.Exts) > 0 {
		allowed = map[string]struct{}{}
		for _, e := range cfg.Exts {
			allowed[constants.NormalizeExt(strings.TrimSpace(e))] = struct{}{}
		}
	}
	match := func(path string) bool {
		if cfg.SkipHidden && isHidden(path) {
			return false
		}
		_, ok := allowed[constants.NormalizeExt(filepath.Ext(path))]
		return ok
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("watch.create_failed", "error", err)
		return nil, nil, err
	}
	for _, root := range cfg.Roots {
		if err := addTree(w, root, cfg.SkipHidden); err != nil {
			logger.Error("watch.add_root_failed", "root", root, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	out := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watch.close_failed", "error", err)
			}
		}()

		emit := func(p string) bool {
			select {
			case out <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if cfg.InitialScan {
			for _, root := range cfg.Roots {
				paths, stats, err := Discover(root, cfg.Exts, cfg.SkipHidden)
				if err != nil {
					logger.Warn("watch.initial_scan_failed", "root", root, "error", err)
				}
				logger.Info("watch.initial_scan", "root", root, "matched", stats.Matched)
				for _, p := range paths {
					if !emit(p) {
						return
					}
				}
			}
		}

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time
		flush := func() bool {
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				if !emit(p) {
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if st, err := os.Stat(e.Name); err == nil && st.IsDir() {
						if err := addTree(w, e.Name, cfg.SkipHidden); err != nil {
							logger.Warn("watch.add_dir_failed", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if !match(e.Name) || !(e.Has(fsnotify.Create) || e.Has(fsnotify.Write)) {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					if !flush() {
						return
					}
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if !flush() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return out, errCh, nil
}

func addTree(w *fsnotify.Watcher, root string, skipHidden bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skipHidden && path != root && isHidden(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// Intake enqueues every path from paths as a docType job until paths closes
// or ctx is done.
func Intake(ctx context.Context, paths <-chan string, q Queue, docType string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-paths:
			if !ok {
				return nil
			}
			if err := q.Enqueue(ctx, NewJob(p, docType)); err != nil {
				if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
					return nil
				}
				logger.Error("watch.enqueue_failed", "path", p, "error", err)
			}
		}
	}
}
