// Package watcher provides file system watching with debouncing for
// stylesheet sources.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/sassbridge/internal/log"
)

// DefaultExtensions are the file types that trigger a recompile.
var DefaultExtensions = []string{".scss", ".sass", ".css"}

// Watcher monitors stylesheet directories and reports batches of changed
// files.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	roots      []string
	extensions []string
	ignore     map[string]bool
	debounce   time.Duration
	onChange   chan []string
	done       chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Roots are files or directories. Directories are watched recursively;
	// for a file, its directory is watched.
	Roots []string
	// Extensions filters events by file extension.
	Extensions []string
	// Ignore lists files whose changes are never reported, such as the
	// compiled outputs.
	Ignore      []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(roots ...string) Config {
	return Config{
		Roots:       roots,
		Extensions:  DefaultExtensions,
		DebounceDur: 200 * time.Millisecond,
	}
}

// New creates a new stylesheet watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ignore := make(map[string]bool, len(cfg.Ignore))
	for _, p := range cfg.Ignore {
		ignore[absPath(p)] = true
	}

	return &Watcher{
		fsWatcher:  fsw,
		roots:      cfg.Roots,
		extensions: exts,
		ignore:     ignore,
		debounce:   cfg.DebounceDur,
		onChange:   make(chan []string, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the configured roots.
// Returns a channel that receives the sorted, de-duplicated absolute paths
// changed during each debounce window.
func (w *Watcher) Start() (<-chan []string, error) {
	for _, root := range w.roots {
		if err := w.addRoot(root); err != nil {
			return nil, err
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) addRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	if !info.IsDir() {
		dir := filepath.Dir(root)
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
		return nil
	}
	return w.addTree(root)
}

// addTree watches dir and every directory below it, skipping hidden ones.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watching directory %s: %w", path, err)
		}
		return nil
	})
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending = make(map[string]bool)
	)

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			return
		}
		if !timer.Stop() {
			// Drain the timer channel if it already fired
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						log.Warn(log.CatWatcher, "Unable to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			if !w.isRelevantEvent(event) {
				continue
			}
			pending[absPath(event.Name)] = true
			arm()

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			slices.Sort(batch)

			// Non-blocking send; a busy consumer gets the merged batch later.
			select {
			case w.onChange <- batch:
				clear(pending)
			default:
				arm()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatcher, "Watcher error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event should trigger a recompile.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	if w.ignore[absPath(event.Name)] {
		return false
	}
	return slices.Contains(w.extensions, strings.ToLower(filepath.Ext(event.Name)))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
