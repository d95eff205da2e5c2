// Package signal watches a directory for validation signal files and
// feeds them to the engine. External systems (CI, test runners) drop a
// JSON file per phase; the latest file content wins.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long to wait for more changes before
// processing a burst of file writes.
const defaultDebounce = 500 * time.Millisecond

// Signal is the on-disk format of a validation signal file.
type Signal struct {
	// Phase is the pipeline phase the signal reports on (0-5).
	Phase int `json:"phase"`

	// Passed reports whether the phase's external validation succeeded.
	Passed bool `json:"passed"`

	// Source optionally names the reporting system.
	Source string `json:"source,omitempty"`
}

// Recorder is the slice of the engine the watcher needs.
type Recorder interface {
	RecordValidation(ctx context.Context, phase int, passed bool) error
}

// Watcher tails a signals directory. Writes are debounced so a signal
// file written in several chunks is read once, after it settles.
type Watcher struct {
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	recorder Recorder
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewWatcher creates a watcher over the given directory.
func NewWatcher(dir string, recorder Recorder, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("signals directory is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		watcher:  fsw,
		recorder: recorder,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching. Signal files already present in the directory
// are applied once at startup so a restart does not miss reports that
// arrived while the engine was down.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && isSignalFile(entry.Name()) {
			w.apply(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}

	go w.processEvents(ctx)

	w.logger.Info("signal watcher started",
		"signals_dir", w.dir,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func isSignalFile(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".json"
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isSignalFile(event.Name) {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = struct{}{}
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("signal watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := make([]string, 0, len(w.pending))
	for path := range w.pending {
		toProcess = append(toProcess, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for _, path := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.apply(ctx, path)
	}
}

// apply reads one signal file and records it. Malformed files are
// logged and skipped; they never stop the watcher.
func (w *Watcher) apply(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to read signal file", "path", path, "error", err)
		}
		return
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		w.logger.Warn("malformed signal file", "path", path, "error", err)
		return
	}
	if err := w.recorder.RecordValidation(ctx, sig.Phase, sig.Passed); err != nil {
		w.logger.Warn("failed to record validation",
			"path", path,
			"phase", sig.Phase,
			"error", err)
		return
	}
	w.logger.Info("validation signal recorded",
		"phase", sig.Phase,
		"passed", sig.Passed,
		"source", sig.Source)
}
