package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abaveja313/httpsugar/pkg/logging"
)

const debounceInterval = 100 * time.Millisecond

// Watcher reloads settings when any of the underlying files change and
// fans the new snapshot out to subscribers. Malformed reloads are logged
// and the last good snapshot is kept.
type Watcher struct {
	opts        Options
	paths       map[string]struct{}
	mu          sync.RWMutex
	snapshot    *Settings
	subscribers []chan *Settings
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// Watch loads an initial snapshot and starts watching the settings files.
func Watch(opts Options) (*Watcher, error) {
	snapshot, err := Load(opts)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	paths := make(map[string]struct{}, len(snapshot.files))
	dirs := make(map[string]struct{})
	for _, file := range snapshot.files {
		abs, err := filepath.Abs(file)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolve settings path %s: %w", file, err)
		}
		paths[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// Watch directories rather than files: editors and config reloaders
	// replace files via rename, which drops file-level watches.
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch directory %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		opts:     opts,
		paths:    paths,
		snapshot: snapshot,
		watcher:  fsw,
		cancel:   cancel,
	}
	go w.loop(ctx)
	return w, nil
}

// Current returns the latest good snapshot.
func (w *Watcher) Current() *Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe returns a channel that receives each new snapshot. The current
// snapshot is delivered immediately. Slow consumers may miss intermediate
// snapshots but always observe the newest one eventually.
func (w *Watcher) Subscribe() <-chan *Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan *Settings, 1)
	ch <- w.snapshot
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	log := logging.WithComponent("settings")
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if _, watched := w.paths[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				if err := w.reload(); err != nil {
					log.Error().Err(err).Msg("settings reload failed, keeping previous snapshot")
					return
				}
				log.Info().Msg("settings reloaded")
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("settings watcher error")
		}
	}
}

func (w *Watcher) reload() error {
	snapshot, err := Load(w.opts)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.snapshot = snapshot
	subscribers := make([]chan *Settings, len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drain the stale snapshot so the newest one lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	return nil
}
