package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
)

func TestStore_CreateOpenSizeVersion(t *testing.T) {
	ctx := context.Background()
	s := New("root", false)

	require.NoError(t, s.CreateOrOverwrite(ctx, "doc.docx", strings.NewReader("hello")))

	size, err := s.Size(ctx, "doc.docx")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	v1, err := s.Version(ctx, "doc.docx")
	require.NoError(t, err)

	rc, err := s.Open(ctx, "doc.docx")
	require.NoError(t, err)
	defer rc.Close()

	v2, err := s.Upload(ctx, "doc.docx", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New("root", false)

	_, err := s.Size(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Version(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "missing"), storage.ErrNotFound)
}

func TestStore_RenameConflict(t *testing.T) {
	ctx := context.Background()
	s := New("root", false)
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

func TestStore_ReadOnly(t *testing.T) {
	ctx := context.Background()
	s := New("root", true)
	require.NoError(t, s.CreateOrOverwrite(ctx, "a.docx", strings.NewReader("a")))
	assert.True(t, s.ReadOnly(ctx, "a.docx"))
}

func TestStore_RootDirectory(t *testing.T) {
	ctx := context.Background()
	s := New("root", false)
	require.NoError(t, s.CreateOrOverwrite(ctx, "b.docx", strings.NewReader("b")))
	require.NoError(t, s.CreateOrOverwrite(ctx, "a.docx", strings.NewReader("a")))

	dir, err := s.RootDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root", dir.Name)
	require.Len(t, dir.Children, 2)
	assert.Equal(t, "a.docx", dir.Children[0].Name)
	assert.Equal(t, "b.docx", dir.Children[1].Name)
}
