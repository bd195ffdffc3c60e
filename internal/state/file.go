package state

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

	"github.com/leapstack-labs/leapplan/pkg/core"
)

const fileExt = ".yaml"

// FileStore keeps one YAML document per environment in a directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

var _ core.FingerprintStore = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr("open", "", "file", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the document path for env.
func (s *FileStore) Path(env string) string {
	return filepath.Join(s.dir, env+fileExt)
}

// Load reads the snapshot for env. A missing document yields an empty snapshot.
func (s *FileStore) Load(ctx context.Context, env string) (*core.Snapshot, error) {
	if err := ValidateEnvironment(env); err != nil {
		return nil, persistErr("load", env, "file", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, persistErr("load", env, "file", err)
	}

	data, err := os.ReadFile(s.Path(env))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no stored state", slog.String("environment", env), slog.String("path", s.Path(env)))
		return core.NewSnapshot(env), nil
	}
	if err != nil {
		return nil, persistErr("load", env, "file", err)
	}

	snap, err := decodeSnapshot(env, data)
	if err != nil {
		return nil, persistErr("load", env, "file", err)
	}
	return snap, nil
}

// Save writes the snapshot to a temporary file in the same directory, syncs
// it and renames it over the previous document. A failure at any step
// leaves the previous document untouched.
func (s *FileStore) Save(ctx context.Context, snap *core.Snapshot) error {
	env := snap.Environment
	if err := ValidateEnvironment(env); err != nil {
		return persistErr("save", env, "file", err)
	}
	if err := ctx.Err(); err != nil {
		return persistErr("save", env, "file", err)
	}

	stamped := stamp(snap)
	data, err := encodeSnapshot(stamped)
	if err != nil {
		return persistErr("save", env, "file", err)
	}
	if err := writeFileAtomic(s.dir, s.Path(env), data); err != nil {
		return persistErr("save", env, "file", err)
	}

	snap.Revision, snap.SavedAt = stamped.Revision, stamped.SavedAt
	s.logger.Info("state saved",
		slog.String("environment", env),
		slog.String("path", s.Path(env)),
		slog.Int("models", len(snap.Models)),
		slog.String("revision", snap.Revision))
	return nil
}

func writeFileAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Environments lists environments with a stored document.
func (s *FileStore) Environments(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("list", "", "file", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, persistErr("list", "", "file", err)
	}

	envs := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		envs = append(envs, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(envs)
	return envs, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
