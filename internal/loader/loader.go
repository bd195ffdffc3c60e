package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// DefaultSkipFiles are YAML files in a models tree that are never model
// definitions. Matching is case-insensitive on the base name.
var DefaultSkipFiles = []string{
	"config.yaml", "config.yml",
	"settings.yaml", "settings.yml",
	"dbt_project.yml", "dbt_project.yaml",
	"profiles.yml", "profiles.yaml",
	"example_model_config.yaml",
	"leapplan.yaml", "leapplan.yml",
}

// FileError ties a load failure to the definition file that caused it.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// DuplicateModelError reports a model name defined by more than one file.
type DuplicateModelError struct {
	Name  string
	Paths []string
}

func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("duplicate model name %q in %s", e.Name, strings.Join(e.Paths, " and "))
}

// Options configures a Loader.
type Options struct {
	Logger *slog.Logger
	// SkipFiles replaces DefaultSkipFiles when non-nil.
	SkipFiles []string
	// Debounce is how long Watch waits for a burst of changes to settle.
	// Zero means DefaultDebounce.
	Debounce time.Duration
}

// DefaultDebounce is the quiet period Watch waits for before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Loader reads every definition under a models directory.
type Loader struct {
	dir      string
	logger   *slog.Logger
	skip     map[string]bool
	debounce time.Duration
}

// New creates a loader rooted at dir.
func New(dir string, opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	names := opts.SkipFiles
	if names == nil {
		names = DefaultSkipFiles
	}
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[strings.ToLower(n)] = true
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Loader{dir: dir, logger: logger, skip: skip, debounce: debounce}
}

// Dir returns the models directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Files lists the definition files in path order. Hidden files and
// directories and the configured skip files are left out.
func (l *Loader) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != l.dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isDefinition(name) {
			return nil
		}
		if l.skip[strings.ToLower(name)] {
			l.logger.Debug("skipping config file", slog.String("path", path))
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan models directory %s: %w", l.dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func isDefinition(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads every definition file. Problems in individual files are
// collected and returned together; the registry is only returned when
// every file loaded and every model name is unique.
func (l *Loader) Load(ctx context.Context) (core.Registry, error) {
	files, err := l.Files()
	if err != nil {
		return nil, err
	}

	reg := make(core.Registry, len(files))
	var errs []error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := ParseFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := reg[m.Name]; ok {
			errs = append(errs, &DuplicateModelError{Name: m.Name, Paths: []string{prev.FilePath, path}})
			continue
		}
		reg[m.Name] = m
		l.logger.Debug("loaded model", slog.String("model", m.Name), slog.String("path", path))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	l.logger.Info("models loaded", slog.Int("count", len(reg)), slog.String("dir", l.dir))
	return reg, nil
}

// ParseFile reads and decodes one definition file.
func ParseFile(path string) (*core.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return Parse(data, path)
}
