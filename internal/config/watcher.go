package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/retrace/internal/logging"
)

// debounceDelay coalesces the burst of events an editor save or an
// atomic temp-plus-rename write produces into one reload.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the config file on change and hands the result to a
// callback. Reload failures keep the previous configuration.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	onChange func(Config)
	logger   *logging.Logger

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

// WatchFile watches path for changes. The callback runs on the watcher
// goroutine; keep it short.
func WatchFile(path string, logger *logging.Logger, onChange func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = logging.Null
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file. Atomic writers replace the
	// file with a rename, which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		fsw:      fsw,
		path:     abs,
		onChange: onChange,
		logger:   logger.WithComponent("config"),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Path returns the watched file path.
func (w *Watcher) Path() string { return w.path }

func (w *Watcher) run() {
	defer close(w.done)

	var pending <-chan time.Time
	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			pending = time.After(debounceDelay)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error: %v", err)

		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("reload %s: %v", w.path, err)
		return
	}
	w.logger.Debug("reloaded %s", w.path)
	w.onChange(cfg)
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
