package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapplan/internal/testutil"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

func sampleSnapshot(env string) *core.Snapshot {
	return Snapshot(env, core.NewRegistry(
		sampleModel(),
		&core.Model{
			Name: "raw_orders", Layer: core.LayerBronze, Kind: core.KindTable,
			Columns: []core.ColumnTransformation{{Name: "id", DataType: "INT"}},
		},
	))
}

// runStoreContract checks the behaviour every FingerprintStore must have.
func runStoreContract(t *testing.T, newStore func(t *testing.T) core.FingerprintStore) {
	t.Run("unknown environment loads empty", func(t *testing.T) {
		s := newStore(t)
		snap, err := s.Load(context.Background(), "never-saved")
		require.NoError(t, err)
		assert.Equal(t, "never-saved", snap.Environment)
		assert.True(t, snap.IsEmpty())
		assert.Empty(t, snap.Revision)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := sampleSnapshot("prod")
		require.NoError(t, s.Save(ctx, want))
		assert.NotEmpty(t, want.Revision)
		assert.False(t, want.SavedAt.IsZero())

		got, err := s.Load(ctx, "prod")
		require.NoError(t, err)
		assert.Equal(t, want.Models, got.Models)
		assert.Equal(t, want.Revision, got.Revision)
		assert.True(t, want.SavedAt.Equal(got.SavedAt))
	})

	t.Run("save replaces previous snapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, sampleSnapshot("prod")))

		smaller := core.NewSnapshot("prod")
		smaller.Models["only"] = Compute(&core.Model{Name: "only", Layer: core.LayerGold, Kind: core.KindView})
		require.NoError(t, s.Save(ctx, smaller))

		got, err := s.Load(ctx, "prod")
		require.NoError(t, err)
		assert.Equal(t, []string{"only"}, got.Names())
	})

	t.Run("environments are independent and listed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, sampleSnapshot("prod")))
		require.NoError(t, s.Save(ctx, core.NewSnapshot("dev")))

		envs, err := s.Environments(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"dev", "prod"}, envs)

		dev, err := s.Load(ctx, "dev")
		require.NoError(t, err)
		assert.True(t, dev.IsEmpty())
		assert.NotEmpty(t, dev.Revision)
	})

	t.Run("invalid environment name", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "../etc")
		var pe *core.PersistenceError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "load", pe.Op)

		err = s.Save(context.Background(), core.NewSnapshot(""))
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "save", pe.Op)
	})
}

func TestFileStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) core.FingerprintStore {
		s, err := NewFileStore(t.TempDir(), testutil.NewTestLogger(t))
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_DocumentIsStableYAML(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleSnapshot("prod")))

	data, err := os.ReadFile(filepath.Join(dir, "prod.yaml"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "environment: prod\n")
	assert.Contains(t, text, "schema_hash: ")
	assert.Contains(t, text, "- name: amount\n")
	assert.Less(t, strings.Index(text, "- name: orders"), strings.Index(text, "- name: raw_orders"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_FailedSaveKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	first := sampleSnapshot("prod")
	require.NoError(t, s.Save(context.Background(), first))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Save(ctx, core.NewSnapshot("prod"))
	var pe *core.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.Load(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, first.Models, got.Models)
}

func TestFileStore_RenameFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	// a non-empty directory where the document should go makes rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prod.yaml", "blocker"), 0o755))

	err = s.Save(context.Background(), sampleSnapshot("prod"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prod.yaml"), []byte("models: [: bad"), 0o644))

	_, err = s.Load(context.Background(), "prod")
	var pe *core.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "file", pe.Backend)
}

func TestFileStore_EnvironmentMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleSnapshot("prod")))
	require.NoError(t, os.Rename(filepath.Join(dir, "prod.yaml"), filepath.Join(dir, "dev.yaml")))

	_, err = s.Load(context.Background(), "dev")
	assert.Error(t, err)
}

// recordingStore tracks concurrent saves per environment.
type recordingStore struct {
	core.FingerprintStore
	inFlight   sync.Map
	overlapped atomic.Bool
	saves      atomic.Int32
}

func (r *recordingStore) Save(ctx context.Context, snap *core.Snapshot) error {
	counter, _ := r.inFlight.LoadOrStore(snap.Environment, new(atomic.Int32))
	c := counter.(*atomic.Int32)
	if c.Add(1) > 1 {
		r.overlapped.Store(true)
	}
	time.Sleep(2 * time.Millisecond)
	c.Add(-1)
	r.saves.Add(1)
	return r.FingerprintStore.Save(ctx, snap)
}

func TestLocked_SerializesSameEnvironment(t *testing.T) {
	inner, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	rec := &recordingStore{FingerprintStore: inner}
	l := NewLocked(rec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Save(context.Background(), sampleSnapshot("prod")))
		}()
	}
	wg.Wait()

	assert.False(t, rec.overlapped.Load())
	assert.Equal(t, int32(8), rec.saves.Load())
	assert.Same(t, l, NewLocked(l))
	assert.Same(t, rec, l.Unwrap())
}

func TestLocked_Update(t *testing.T) {
	inner, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	l := NewLocked(inner)
	ctx := context.Background()
	require.NoError(t, l.Save(ctx, sampleSnapshot("prod")))

	boom := errors.New("boom")
	err = l.Update(ctx, "prod", func(current *core.Snapshot) (*core.Snapshot, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := l.Load(ctx, "prod")
	require.NoError(t, err)
	assert.Len(t, got.Models, 2)

	require.NoError(t, l.Update(ctx, "prod", func(current *core.Snapshot) (*core.Snapshot, error) {
		assert.Len(t, current.Models, 2)
		return core.NewSnapshot("prod"), nil
	}))
	got, err = l.Load(ctx, "prod")
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestValidateEnvironment(t *testing.T) {
	for _, ok := range []string{"prod", "dev-1", "feature_x", "v1.2"} {
		assert.NoError(t, ValidateEnvironment(ok), ok)
	}
	for _, bad := range []string{"", ".hidden", "a/b", `a\b`, "../x", "with space"} {
		assert.Error(t, ValidateEnvironment(bad), bad)
	}
}
