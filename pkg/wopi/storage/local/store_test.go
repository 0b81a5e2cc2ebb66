package local

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Root: t.TempDir(), Name: "root"})
	require.NoError(t, err)
	return s
}

func TestStore_CreateOpenSizeVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateOrOverwrite(ctx, "doc.docx", strings.NewReader("hello")))

	size, err := s.Size(ctx, "doc.docx")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	v1, err := s.Version(ctx, "doc.docx")
	require.NoError(t, err)

	rc, err := s.Open(ctx, "doc.docx")
	require.NoError(t, err)
	rc.Close()

	v2, err := s.Upload(ctx, "doc.docx", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	size, err = s.Size(ctx, "doc.docx")
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Size(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "missing"), storage.ErrNotFound)
}

func TestStore_PathTraversalRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Size(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_RenameConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateOrOverwrite(ctx, "a.docx", strings.NewReader("a")))
	require.NoError(t, s.CreateOrOverwrite(ctx, "b.docx", strings.NewReader("b")))

	_, ok, err := s.Rename(ctx, "a.docx", "b.docx")
	require.NoError(t, err)
	assert.False(t, ok)

	name, ok, err := s.Rename(ctx, "a.docx", "c.docx")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c.docx", name)
	assert.True(t, s.Exists(ctx, "c.docx"))
	assert.False(t, s.Exists(ctx, "a.docx"))
}

func TestStore_ReadOnlyFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateOrOverwrite(ctx, "a.docx", strings.NewReader("a")))

	assert.False(t, s.ReadOnly(ctx, "a.docx"))
	s.SetReadOnly("a.docx", true)
	assert.True(t, s.ReadOnly(ctx, "a.docx"))
}

func TestStore_RootDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateOrOverwrite(ctx, "b.docx", strings.NewReader("b")))
	require.NoError(t, s.CreateOrOverwrite(ctx, "a.docx", strings.NewReader("a")))

	dir, err := s.RootDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root", dir.Name)
	require.Len(t, dir.Children, 2)
	assert.Equal(t, "a.docx", dir.Children[0].Name)
	assert.Equal(t, "b.docx", dir.Children[1].Name)
}
