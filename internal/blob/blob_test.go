package blob

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b := memblob.OpenBucket(nil)
	s := New(b, "https://storage.googleapis.com/novacode/", zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_WriteReadExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "p1/repo.zip", []byte("zipdata"), "application/zip"))

	ok, err := s.Exists(ctx, "p1/repo.zip")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := s.Read(ctx, "p1/repo.zip")
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))
}

func TestStore_WriteOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "p1/repo.zip", []byte("v1"), ""))
	require.NoError(t, s.Write(ctx, "p1/repo.zip", []byte("v2"), ""))

	data, err := s.Read(ctx, "p1/repo.zip")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestStore_ReadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read(context.Background(), "nope/file.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrNotFound))

	ok, err := s.Exists(context.Background(), "nope/file.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Write(ctx, "p1/repo.zip", []byte("a"), ""))
	require.NoError(t, s.Write(ctx, "p1/codebase_analysis.json", []byte("{}"), ""))
	require.NoError(t, s.Write(ctx, "p10/repo.zip", []byte("b"), ""))

	n, err := s.DeletePrefix(ctx, "p1/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, _ := s.Exists(ctx, "p1/repo.zip")
	assert.False(t, ok)
	ok, _ = s.Exists(ctx, "p10/repo.zip")
	assert.True(t, ok, "sibling prefix must survive")

	// Idempotent.
	n, err = s.DeletePrefix(ctx, "p1/")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_DeletePrefixRejectsRoot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DeletePrefix(context.Background(), "")
	assert.True(t, errors.Is(err, perrors.ErrValidation))
}

func TestStore_InvalidPath(t *testing.T) {
	s := newTestStore(t)
	for _, p := range []string{"", "/abs", "a/../b", "a//b"} {
		err := s.Write(context.Background(), p, []byte("x"), "")
		assert.True(t, errors.Is(err, perrors.ErrValidation), "path %q", p)
	}
	assert.NoError(t, s.Write(context.Background(), "p1/release..zip", []byte("x"), ""))
}

func TestStore_PublicURLRoundTrip(t *testing.T) {
	s := newTestStore(t)

	u := s.PublicURL("p1/repo.zip")
	assert.Equal(t, "https://storage.googleapis.com/novacode/p1/repo.zip", u)

	path, ok := s.PathFromURL(u)
	require.True(t, ok)
	assert.Equal(t, "p1/repo.zip", path)

	path, ok = s.PathFromURL("https://storage.googleapis.com/novacode/p1/my%20file.txt?alt=media")
	require.True(t, ok)
	assert.Equal(t, "p1/my file.txt", path)

	_, ok = s.PathFromURL("https://example.com/p1/repo.zip")
	assert.False(t, ok)
}

func TestStore_PublicURLEscapesSegments(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"100%.zip", "my file.txt", "a#b?.pdf"} {
		u := s.PublicURL("p1/" + name)
		parsed, err := url.Parse(u)
		require.NoError(t, err, name)
		assert.Empty(t, parsed.RawQuery, name)
		assert.Empty(t, parsed.Fragment, name)
		assert.Equal(t, "/novacode/p1/"+name, parsed.Path, name)

		path, ok := s.PathFromURL(u)
		require.True(t, ok, name)
		assert.Equal(t, "p1/"+name, path)
	}
	assert.Equal(t, "https://storage.googleapis.com/novacode/p1/100%25.zip", s.PublicURL("p1/100%.zip"))
}

func TestStore_Ping(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
