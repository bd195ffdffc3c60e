package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name     string
		location string
		want     any
	}{
		{"plain path", filepath.Join(dir, "plain"), &FileStore{}},
		{"file url", "file://" + filepath.Join(dir, "url"), &FileStore{}},
		{"sqlite memory", "sqlite://:memory:", &SQLStore{}},
		{"sqlite file", "sqlite://" + filepath.Join(dir, "state.db"), &SQLStore{}},
		{"s3", "s3://bucket/prefix", &ObjectStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := Open(ctx, tt.location, Options{S3Client: newFakeS3()})
			require.NoError(t, err)
			defer l.Close()
			assert.IsType(t, tt.want, l.Unwrap())

			require.NoError(t, l.Save(ctx, sampleSnapshot("ci")))
			got, err := l.Load(ctx, "ci")
			require.NoError(t, err)
			assert.Len(t, got.Models, 2)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	for _, loc := range []string{"ftp://host/x", "s3:///no-bucket"} {
		_, err := Open(ctx, loc, Options{})
		var pe *core.PersistenceError
		require.True(t, errors.As(err, &pe), loc)
		assert.Equal(t, "open", pe.Op)
	}
}

func TestOpen_DefaultLocation(t *testing.T) {
	t.Chdir(t.TempDir())
	l, err := Open(context.Background(), "", Options{})
	require.NoError(t, err)
	fs, ok := l.Unwrap().(*FileStore)
	require.True(t, ok)
	assert.Equal(t, DefaultLocation, fs.Dir())
}
