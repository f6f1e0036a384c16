package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/blob/core"
)

func TestPutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, core.DriverFilesystem, store.Driver())

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time { return first }
	info, err := store.Put(ctx, "legacy/ds1.json", strings.NewReader(`{"id":1}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"v": "2"}})
	require.NoError(t, err)
	require.EqualValues(t, 8, info.Size)
	require.Len(t, info.ETag, 64)
	require.Equal(t, "http://local.blob/legacy/ds1.json", info.URL)

	_, err = store.Put(ctx, "legacy/ds1.json", strings.NewReader("x"), core.PutOptions{})
	require.True(t, errors.Is(err, core.ErrExists))

	later := first.Add(time.Hour)
	store.nowFn = func() time.Time { return later }
	_, err = store.Put(ctx, "legacy/ds1.json", strings.NewReader(`{"id":2}`), core.PutOptions{Overwrite: true})
	require.NoError(t, err)

	got, rc, err := store.Get(ctx, "legacy/ds1.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, `{"id":2}`, string(body))
	require.Equal(t, later, got.LastModified)

	head, err := store.Head(ctx, "legacy/ds1.json")
	require.NoError(t, err)
	require.Equal(t, got.ETag, head.ETag)
	require.Nil(t, head.Metadata)
}

func TestKeyValidation(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, key := range []string{"", "  ", "/abs", "a/../../b", "x.meta"} {
		_, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
		require.Error(t, err, key)
	}
	_, err = store.PresignURL(ctx, "../x", core.SignedURLOptions{})
	require.Error(t, err)
}

func TestMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Get(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Head(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)

	ok, err := store.Delete(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Put(ctx, "a/b", strings.NewReader("x"), core.PutOptions{})
	require.NoError(t, err)
	ok, err = store.Delete(ctx, "a/b")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = os.Stat(filepath.Join(store.Root(), "a", "b.meta"))
	require.True(t, os.IsNotExist(err))
}

func TestListPrefixOrdered(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"datacite/b.xml", "legacy/1.json", "datacite/a.xml"} {
		_, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{})
		require.NoError(t, err)
	}
	infos, err := store.List(ctx, "datacite/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "datacite/a.xml", infos[0].Key)
	require.Equal(t, "datacite/b.xml", infos[1].Key)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	url, err := store.PresignURL(ctx, "datacite/a.xml", core.SignedURLOptions{Method: "get"})
	require.NoError(t, err)
	require.Equal(t, "http://local.blob/datacite/a.xml", url)
	_, err = store.PresignURL(ctx, "datacite/a.xml", core.SignedURLOptions{Method: "PUT"})
	require.ErrorIs(t, err, core.ErrUnsupported)
}
