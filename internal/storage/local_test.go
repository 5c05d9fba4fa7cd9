package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/ballast/pkg/config"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := []byte("hello ballast")
	info, err := store.Put(ctx, "app/blobs/test", bytes.NewReader(content), PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, sha256Hex(content), info.SHA256)

	obj, err := store.Get(ctx, "app/blobs/test")
	require.NoError(t, err)
	defer obj.Body.Close()

	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, sha256Hex(content), obj.SHA256)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no/such/key")
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = store.Head(context.Background(), "no/such/key")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestPutVerifiesChecksum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := []byte("some content")
	_, err := store.Put(ctx, "app/blobs/bad", bytes.NewReader(content), PutOptions{SHA256: strings.Repeat("0", 64)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHashMismatch)

	// The failed write must not publish the object.
	_, err = store.Head(ctx, "app/blobs/bad")
	assert.ErrorIs(t, err, ErrNotExist)

	// A matching checksum succeeds.
	_, err = store.Put(ctx, "app/blobs/good", bytes.NewReader(content), PutOptions{SHA256: sha256Hex(content)})
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "app/blobs/x", strings.NewReader("x"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "app/blobs/x"))
	_, err = store.Head(ctx, "app/blobs/x")
	assert.ErrorIs(t, err, ErrNotExist)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "app/blobs/x"))
}

func TestListPrefixAndPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"app/manifests/a",
		"app/manifests/b",
		"app/manifests/c",
		"app/blobs/d",
		"other/manifests/e",
	} {
		_, err := store.Put(ctx, key, strings.NewReader(key), PutOptions{})
		require.NoError(t, err)
	}

	infos, err := store.List(ctx, ListOptions{Prefix: "app/manifests/"})
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "app/manifests/a", infos[0].Key)
	assert.Equal(t, "app/manifests/c", infos[2].Key)

	// Exclusive-start cursor plus limit.
	infos, err = store.List(ctx, ListOptions{Prefix: "app/manifests/", Limit: 1, StartAfter: "app/manifests/a"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "app/manifests/b", infos[0].Key)
}

func TestMultipartUpload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upload, err := store.CreateMultipartUpload(ctx, "uploads/session-1")
	require.NoError(t, err)
	require.NotEmpty(t, upload.ID())

	part1, err := upload.UploadPart(ctx, 1, strings.NewReader("hello "))
	require.NoError(t, err)
	assert.Equal(t, 1, part1.Number)
	assert.NotEmpty(t, part1.ETag)

	// Resume from the upload id, as a later request would.
	resumed, err := store.ResumeMultipartUpload(ctx, "uploads/session-1", upload.ID())
	require.NoError(t, err)

	part2, err := resumed.UploadPart(ctx, 2, strings.NewReader("world"))
	require.NoError(t, err)

	require.NoError(t, resumed.Complete(ctx, []Part{part1, part2}))

	obj, err := store.Get(ctx, "uploads/session-1")
	require.NoError(t, err)
	defer obj.Body.Close()
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestMultipartPartCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upload, err := store.CreateMultipartUpload(ctx, "uploads/session-2")
	require.NoError(t, err)

	_, err = upload.UploadPart(ctx, 1, strings.NewReader("first"))
	require.NoError(t, err)

	// A second writer claiming the same part number must fail.
	_, err = upload.UploadPart(ctx, 1, strings.NewReader("second"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already uploaded")
}

func TestMultipartResumeUnknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.ResumeMultipartUpload(ctx, "uploads/session-3", "bogus-id")
	assert.ErrorIs(t, err, ErrNotExist)

	// A valid id bound to a different key is also unknown.
	upload, err := store.CreateMultipartUpload(ctx, "uploads/session-4")
	require.NoError(t, err)
	_, err = store.ResumeMultipartUpload(ctx, "uploads/other", upload.ID())
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestMultipartAbort(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upload, err := store.CreateMultipartUpload(ctx, "uploads/session-5")
	require.NoError(t, err)
	_, err = upload.UploadPart(ctx, 1, strings.NewReader("scrap"))
	require.NoError(t, err)

	require.NoError(t, upload.Abort(ctx))
	_, err = store.ResumeMultipartUpload(ctx, "uploads/session-5", upload.ID())
	assert.True(t, errors.Is(err, ErrNotExist))
}

func TestKeyTraversalRejected(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStore(filepath.Join(base, "store"))
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{
		"../escaped/blobs/x",
		"a/../../escaped/blobs/x",
		"a//b",
		"./a",
		"..",
	} {
		_, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, key)

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)

		_, err = store.Head(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)

		assert.ErrorIs(t, store.Delete(ctx, key), ErrInvalidKey, key)

		_, err = store.CreateMultipartUpload(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}

	// Nothing may appear outside the store root.
	_, err = os.Stat(filepath.Join(base, "escaped"))
	assert.True(t, os.IsNotExist(err))
}

func TestMultipartResumeUploadIDTraversalRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"..", "../other", "a/b", ""} {
		_, err := store.ResumeMultipartUpload(ctx, "uploads/session-6", id)
		assert.ErrorIs(t, err, ErrNotExist, id)
	}
}

func TestCompleteRejectsWrongETag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upload, err := store.CreateMultipartUpload(ctx, "uploads/session-7")
	require.NoError(t, err)

	part, err := upload.UploadPart(ctx, 1, strings.NewReader("content"))
	require.NoError(t, err)

	err = upload.Complete(ctx, []Part{{Number: part.Number, ETag: "bogus"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etag mismatch")

	// The object was never assembled.
	_, err = store.Get(ctx, "uploads/session-7")
	assert.ErrorIs(t, err, ErrNotExist)

	// The echoed etag still completes.
	require.NoError(t, upload.Complete(ctx, []Part{part}))
}

func TestFactory(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		factory := NewFactory(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		store, err := factory.CreateStore()
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("unsupported", func(t *testing.T) {
		factory := NewFactory(&config.StorageConfig{Type: "s3"})
		_, err := factory.CreateStore()
		assert.Error(t, err)
	})
}
