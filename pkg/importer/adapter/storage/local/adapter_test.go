package local_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage/local"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
)

func TestAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewAdapter(storage.StorageConfig{BaseDir: t.TempDir(), BucketName: "archive"}, "files")
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "", "t1/job-1/errors.parquet", strings.NewReader("one"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "t1/job-2/errors.parquet", strings.NewReader("two"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "t2/job-3/errors.parquet", strings.NewReader("three"), "application/octet-stream"))

	r, err := conn.Download(ctx, "archive", "t1/job-2/errors.parquet")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "two", string(body))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "t1/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	sort.Strings(names)
	assert.Equal(t, []string{"t1/job-1/errors.parquet", "t1/job-2/errors.parquet"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "", "t1/job-1/errors.parquet"))
	require.NoError(t, conn.DeleteObject(ctx, "", "t1/job-1/errors.parquet"))
	_, err = conn.Download(ctx, "", "t1/job-1/errors.parquet")
	assert.Error(t, err)
}

func TestAdapter_RejectsPathsOutsideBaseDir(t *testing.T) {
	conn, err := local.NewAdapter(storage.StorageConfig{BaseDir: t.TempDir()}, "files")
	require.NoError(t, err)

	err = conn.Upload(context.Background(), "", "../../escape.txt", strings.NewReader("x"), "text/plain")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestAdapter_ListMissingBucketIsEmpty(t *testing.T) {
	conn, err := local.NewAdapter(storage.StorageConfig{BaseDir: t.TempDir()}, "files")
	require.NoError(t, err)

	called := false
	require.NoError(t, conn.ListObjects(context.Background(), "nothing-here", "", func(string) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestResolver_CachesConnections(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Importer.Storage["archive"] = map[string]interface{}{"type": "local", "base_dir": t.TempDir()}
	cfg.Importer.Storage["remote"] = map[string]interface{}{"type": "azure"}
	r := storage.NewConnectionResolver(storage.ResolverParams{
		Providers: []storage.StorageProvider{local.NewProvider()},
		Cfg:       cfg,
	})
	defer r.CloseAll()

	first, err := r.ResolveStorageConnection(context.Background(), "archive")
	require.NoError(t, err)
	second, err := r.ResolveStorageConnection(context.Background(), "archive")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "archive", first.Name())

	_, err = r.ResolveStorageConnection(context.Background(), "remote")
	assert.ErrorContains(t, err, "no storage provider")
	_, err = r.ResolveStorageConnection(context.Background(), "missing")
	assert.Error(t, err)
}
