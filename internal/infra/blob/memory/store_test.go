package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"metax/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Equal(t, core.DriverMemory, s.Driver())

	meta := map[string]string{"k": "v"}
	info, err := s.Put(ctx, "legacy/a.json", strings.NewReader("abc"), core.PutOptions{Metadata: meta})
	require.NoError(t, err)
	require.EqualValues(t, 3, info.Size)
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", info.ETag)
	meta["k"] = "changed"

	_, err = s.Put(ctx, "legacy/a.json", strings.NewReader("x"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)
	_, err = s.Put(ctx, "", strings.NewReader("x"), core.PutOptions{})
	require.Error(t, err)

	got, rc, err := s.Get(ctx, "legacy/a.json")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	require.Equal(t, "abc", string(data))
	require.Equal(t, "v", got.Metadata["k"])

	_, err = s.Put(ctx, "legacy/a.json", strings.NewReader("abcd"), core.PutOptions{Overwrite: true})
	require.NoError(t, err)
	head, err := s.Head(ctx, "legacy/a.json")
	require.NoError(t, err)
	require.EqualValues(t, 4, head.Size)

	_, err = s.Put(ctx, "other/b", strings.NewReader("b"), core.PutOptions{})
	require.NoError(t, err)
	list, err := s.List(ctx, "legacy/")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.PresignURL(ctx, "legacy/a.json", core.SignedURLOptions{})
	require.ErrorIs(t, err, core.ErrUnsupported)

	ok, err := s.Delete(ctx, "legacy/a.json")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.Head(ctx, "legacy/a.json")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "legacy/a.json")
	require.ErrorIs(t, err, core.ErrNotFound)
}
