package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_PutThenExists(t *testing.T) {
	dir := t.TempDir()
	store, err := newDiskStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, store.Exists(ctx, "guid-1"))
	require.NoError(t, store.Put(ctx, "guid-1", []byte("pdf bytes")))
	assert.True(t, store.Exists(ctx, "guid-1"))

	data, err := os.ReadFile(filepath.Join(dir, "guid-1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)
}

func TestContentFetcher_SkipsStoredDocuments(t *testing.T) {
	store, err := newDiskStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "guid-1", []byte("already here")))

	fa := &fakeAdapter{}
	cf := &contentFetcher{adapter: fa, store: store}

	res, err := cf.Fetch(context.Background(), "https://reg.invalid/doc/guid-1", "guid-1")
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Nil(t, res.Data)
	assert.Zero(t, fa.docCalls, "stored documents must not be re-fetched")
}

func TestContentFetcher_DownloadsAndStores(t *testing.T) {
	store, err := newDiskStore(t.TempDir())
	require.NoError(t, err)
	fa := &fakeAdapter{}
	cf := &contentFetcher{adapter: fa, store: store}
	ctx := context.Background()

	res, err := cf.Fetch(ctx, "https://reg.invalid/doc/guid-2", "guid-2")
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.Data)
	assert.Equal(t, 1, fa.docCalls)
	assert.True(t, store.Exists(ctx, "guid-2"))
}

func TestContentFetcher_WrapsDownloadFailure(t *testing.T) {
	store, err := newDiskStore(t.TempDir())
	require.NoError(t, err)
	fa := &fakeAdapter{docErr: map[string]error{
		"https://reg.invalid/doc/guid-3": fmt.Errorf("403 forbidden"),
	}}
	cf := &contentFetcher{adapter: fa, store: store}
	ctx := context.Background()

	_, err = cf.Fetch(ctx, "https://reg.invalid/doc/guid-3", "guid-3")

	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "guid-3", de.GUID)
	assert.False(t, store.Exists(ctx, "guid-3"), "failed downloads must not persist")
}
