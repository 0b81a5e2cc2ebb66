package s3_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
	"github.com/YananZhang666/wopihost/pkg/wopi/storage/s3"
)

// fakeClient is an in-memory double for s3.Client, enough to exercise the
// Store's object lifecycle without talking to AWS.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	etag    map[string]string
	seq     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte), etag: make(map[string]string)}
}

func (c *fakeClient) nextEtag() string {
	c.seq++
	return string(rune('a' + c.seq))
}

func (c *fakeClient) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (c *fakeClient) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[*in.Key] = data
	tag := c.nextEtag()
	c.etag[*in.Key] = tag
	return &awss3.PutObjectOutput{ETag: &tag}, nil
}

func (c *fakeClient) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[*in.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	size := int64(len(data))
	tag := c.etag[*in.Key]
	return &awss3.HeadObjectOutput{ContentLength: &size, ETag: &tag}, nil
}

func (c *fakeClient) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, *in.Key)
	delete(c.etag, *in.Key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) CopyObject(ctx context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	src := (*in.CopySource)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, data := range c.objects {
		if *in.Bucket+"/"+key == src {
			c.objects[*in.Key] = data
			c.etag[*in.Key] = c.nextEtag()
			return &awss3.CopyObjectOutput{}, nil
		}
	}
	return nil, &types.NoSuchKey{}
}

func (c *fakeClient) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var objs []types.Object
	for key := range c.objects {
		k := key
		tag := c.etag[key]
		objs = append(objs, types.Object{Key: &k, ETag: &tag})
	}
	return &awss3.ListObjectsV2Output{Contents: objs}, nil
}

func newStore(client *fakeClient) *s3.Store {
	return s3.New(client, s3.Config{Bucket: "test-bucket", Name: "root"})
}

func TestStore_UploadOpenSizeVersion(t *testing.T) {
	client := newFakeClient()
	store := newStore(client)
	ctx := context.Background()

	require.NoError(t, store.CreateOrOverwrite(ctx, "doc.txt", bytes.NewBufferString("")))
	version, err := store.Upload(ctx, "doc.txt", bytes.NewBufferString("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	size, err := store.Size(ctx, "doc.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	rc, err := store.Open(ctx, "doc.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStore_NotFound(t *testing.T) {
	store := newStore(newFakeClient())
	ctx := context.Background()

	_, err := store.Size(ctx, "missing.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Open(ctx, "missing.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.False(t, store.Exists(ctx, "missing.txt"))
}

func TestStore_Delete(t *testing.T) {
	client := newFakeClient()
	store := newStore(client)
	ctx := context.Background()

	err := store.CreateOrOverwrite(ctx, "doc.txt", bytes.NewBufferString("hi"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "doc.txt"))
	assert.False(t, store.Exists(ctx, "doc.txt"))

	err = store.Delete(ctx, "doc.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Rename(t *testing.T) {
	client := newFakeClient()
	store := newStore(client)
	ctx := context.Background()

	err := store.CreateOrOverwrite(ctx, "doc.txt", bytes.NewBufferString("hi"))
	require.NoError(t, err)

	finalName, ok, err := store.Rename(ctx, "doc.txt", "renamed.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "renamed.txt", finalName)
	assert.True(t, store.Exists(ctx, "renamed.txt"))
	assert.False(t, store.Exists(ctx, "doc.txt"))
}

func TestStore_RenameConflict(t *testing.T) {
	client := newFakeClient()
	store := newStore(client)
	ctx := context.Background()

	err := store.CreateOrOverwrite(ctx, "a.txt", bytes.NewBufferString("a"))
	require.NoError(t, err)
	err = store.CreateOrOverwrite(ctx, "b.txt", bytes.NewBufferString("b"))
	require.NoError(t, err)

	_, ok, err := store.Rename(ctx, "a.txt", "b.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RootDirectory(t *testing.T) {
	client := newFakeClient()
	store := newStore(client)
	ctx := context.Background()

	err := store.CreateOrOverwrite(ctx, "a.txt", bytes.NewBufferString("a"))
	require.NoError(t, err)
	err = store.CreateOrOverwrite(ctx, "b.txt", bytes.NewBufferString("b"))
	require.NoError(t, err)

	root, err := store.RootDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root", root.Name)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "a.txt", root.Children[0].Name)
	assert.Equal(t, "b.txt", root.Children[1].Name)
}
