package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Watch loads the registry and hands the result to fn, then calls fn again
// after every burst of definition file changes. It blocks until ctx is done
// and returns nil then; it only fails when the watcher cannot be set up.
func (l *Loader) Watch(ctx context.Context, fn func(core.Registry, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := l.watchTree(watcher, l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	fn(l.Load(ctx))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !hidden(event.Name) {
					_ = l.watchTree(watcher, event.Name)
					continue
				}
			}
			if !l.relevant(event) {
				continue
			}
			l.logger.Debug("definition changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			pending = time.After(l.debounce)

		case <-pending:
			pending = nil
			fn(l.Load(ctx))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (l *Loader) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	return isDefinition(name) && !hidden(event.Name) && !l.skip[strings.ToLower(name)]
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// watchTree adds dir and every non-hidden directory below it.
func (l *Loader) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
