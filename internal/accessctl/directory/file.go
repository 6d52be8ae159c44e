// Package directory loads the entity directory from a YAML file and keeps it
// current as the file changes.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/faredeal/accessctl/internal/accessctl/store/memory"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

const defaultDebounce = 250 * time.Millisecond

// document is the on-disk layout:
//
//	entities:
//	  - id: emp001
//	    name: John Doe
//	    email: john.doe@faredeal.com
//	    department: Sales
//	    status: active
type document struct {
	Entities []types.Entity `yaml:"entities"`
}

// FileDirectory serves entities parsed from a YAML file. A failed reload
// keeps the last good contents.
type FileDirectory struct {
	*memory.Directory

	path     string
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Load reads path once. It fails if the file is missing or malformed.
func Load(path string, logger *zap.Logger) (*FileDirectory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entities, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &FileDirectory{
		Directory: memory.NewDirectory(entities),
		path:      path,
		logger:    logger,
		debounce:  defaultDebounce,
	}, nil
}

// Reload re-reads the file and returns the new entity count.
func (d *FileDirectory) Reload() (int, error) {
	entities, err := readFile(d.path)
	if err != nil {
		return 0, err
	}
	d.Set(entities)
	list, _ := d.List(context.Background())
	return len(list), nil
}

// Watch reloads the directory whenever the file is written, created, or
// renamed into place, calling onReload with the new count after each
// successful reload. Bursts of events within the debounce window collapse
// into one reload. Watch returns once the watcher is running; call Close to
// stop it.
func (d *FileDirectory) Watch(ctx context.Context, onReload func(count int)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watcher != nil {
		return errors.New("directory: already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("directory: new watcher: %w", err)
	}
	// Watch the parent so atomic replace-by-rename is seen.
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("directory: watch %s: %w", d.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.watcher = w
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx, w, onReload, d.done)

	d.logger.Info("directory watcher started", zap.String("path", d.path))
	return nil
}

// Close stops the watcher. Safe to call when not watching.
func (d *FileDirectory) Close() error {
	d.mu.Lock()
	w, cancel, done := d.watcher, d.cancel, d.done
	d.watcher, d.cancel, d.done = nil, nil, nil
	d.mu.Unlock()

	if w == nil {
		return nil
	}
	cancel()
	err := w.Close()
	<-done
	return err
}

func (d *FileDirectory) loop(ctx context.Context, w *fsnotify.Watcher, onReload func(int), done chan struct{}) {
	defer close(done)

	target := filepath.Clean(d.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			n, err := d.Reload()
			if err != nil {
				d.logger.Warn("directory reload failed, keeping previous entities",
					zap.String("path", d.path), zap.Error(err))
				continue
			}
			d.logger.Info("directory reloaded", zap.String("path", d.path), zap.Int("entities", n))
			if onReload != nil {
				onReload(n)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.logger.Warn("directory watcher error", zap.Error(err))
		}
	}
}

func readFile(path string) ([]types.Entity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("directory: parse %s: %w", path, err)
	}
	return doc.Entities, nil
}
