package project

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/novuscode/novuscode-api/internal/blob"
	"github.com/novuscode/novuscode-api/internal/docstore"
	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/fetch"
	"github.com/novuscode/novuscode-api/internal/github"
)

const publicBase = "https://storage.googleapis.com/novacode"

var fixedNow = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

// flakyBlobs fails selected operations of a real blob store.
type flakyBlobs struct {
	*blob.Store
	failWrite  bool
	failDelete bool
}

func (f *flakyBlobs) Write(ctx context.Context, p string, data []byte, ct string) error {
	if f.failWrite {
		return perrors.E(perrors.KindStorage, "blob.Write", "Error uploading file.", errors.New("bucket unavailable"))
	}
	return f.Store.Write(ctx, p, data, ct)
}

func (f *flakyBlobs) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if f.failDelete {
		return 0, perrors.E(perrors.KindStorage, "blob.DeletePrefix", "Error deleting files.", errors.New("bucket unavailable"))
	}
	return f.Store.DeletePrefix(ctx, prefix)
}

type fakeSource struct {
	data  []byte
	err   error
	calls int
}

func (s *fakeSource) Download(context.Context, string) (*fetch.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &fetch.Result{Data: s.data, StatusCode: http.StatusOK}, nil
}

type recordingInvalidator struct{ prefixes []string }

func (r *recordingInvalidator) InvalidatePrefix(prefix string) int {
	r.prefixes = append(r.prefixes, prefix)
	return 0
}

type fixture struct {
	mgr    *Manager
	store  *Store
	blobs  *flakyBlobs
	source *fakeSource
	inv    *recordingInvalidator
}

func setupTestManager(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	ds, err := docstore.OpenSQLite(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	bs := blob.New(memblob.OpenBucket(nil), publicBase, logger)
	t.Cleanup(func() { bs.Close() })

	f := &fixture{
		store:  NewStore(ds, logger),
		blobs:  &flakyBlobs{Store: bs},
		source: &fakeSource{data: []byte("PK-archive")},
		inv:    &recordingInvalidator{},
	}
	f.mgr = NewManager(f.store, f.blobs, f.source, logger,
		WithClock(func() time.Time { return fixedNow }),
		WithInvalidator(f.inv),
	)
	return f
}

func (f *fixture) countProjects(t *testing.T) int {
	t.Helper()
	all, err := f.store.List(context.Background())
	require.NoError(t, err)
	return len(all)
}

func TestCreateFromUpload_DefaultsCompany(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	p, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "demo", Description: "desc"},
		Artifact{FileName: "repo.zip", Data: []byte("zip-bytes")})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, DefaultCompany, p.Company)
	assert.Equal(t, publicBase+"/"+p.ID+"/repo.zip", p.FileURL)

	stored, err := f.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.FileURL, stored.FileURL)
	assert.Equal(t, "Unknown", stored.Company)
	assert.True(t, stored.CreatedAt.Equal(fixedNow))

	// The published URL resolves to an existing blob.
	path, ok := f.blobs.PathFromURL(stored.FileURL)
	require.True(t, ok)
	data, err := f.blobs.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))
}

func TestCreateFromUpload_NoFile(t *testing.T) {
	f := setupTestManager(t)

	_, err := f.mgr.CreateFromUpload(context.Background(), CreateInput{Name: "demo"}, Artifact{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrValidation))
	assert.Equal(t, "No file uploaded.", perrors.MessageOf(err))
	assert.Zero(t, f.countProjects(t))
}

func TestCreateFromUpload_StripsDirectories(t *testing.T) {
	f := setupTestManager(t)

	p, err := f.mgr.CreateFromUpload(context.Background(), CreateInput{Name: "demo"},
		Artifact{FileName: "../../etc/repo.zip", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, publicBase+"/"+p.ID+"/repo.zip", p.FileURL)
}

func TestCreateFromUpload_BlobFailureLeavesNoFileURL(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)
	f.blobs.failWrite = true

	_, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "demo"}, Artifact{FileName: "repo.zip", Data: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrStorage))

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Empty(t, all[0].FileURL)
}

func TestCreateFromGithubURL(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	p, err := f.mgr.CreateFromGithubURL(ctx, "https://github.com/acme/widgets",
		CreateInput{Name: "widgets", Description: "d", Company: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.source.calls)
	assert.Equal(t, "Acme", p.Company)
	assert.Equal(t, publicBase+"/"+p.ID+"/repository.zip", p.FileURL)

	data, err := f.mgr.ReadFile(ctx, p.ID, "repository.zip")
	require.NoError(t, err)
	assert.Equal(t, "PK-archive", string(data))
}

func TestCreateFromGithubURL_Required(t *testing.T) {
	f := setupTestManager(t)
	_, err := f.mgr.CreateFromGithubURL(context.Background(), "  ", CreateInput{Name: "x"})
	assert.True(t, errors.Is(err, perrors.ErrValidation))
	assert.Zero(t, f.source.calls)
}

func TestCreateFromGithubURL_NotFoundCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	resolver, err := github.NewResolver(fetch.New(zerolog.Nop()), "", srv.URL, zerolog.Nop())
	require.NoError(t, err)
	mgr := NewManager(f.store, f.blobs, resolver, zerolog.Nop())

	_, err = mgr.CreateFromGithubURL(ctx, srv.URL+"/acme/widgets/archive/main.zip", CreateInput{Name: "w"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrUpstreamFetch))
	assert.Equal(t, http.StatusNotFound, perrors.StatusCode(err))
	assert.Zero(t, f.countProjects(t))
}

func TestRecreate_PreservesIDWithFile(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	orig, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "v1", Company: "Acme"},
		Artifact{FileName: "repo.zip", Data: []byte("old")})
	require.NoError(t, err)

	later := fixedNow.Add(time.Hour)
	f.mgr.now = func() time.Time { return later }

	p, mode, err := f.mgr.Recreate(ctx, orig.ID, RecreateInput{
		Name: "v2", Description: "new", Company: "Acme",
		File: &Artifact{FileName: "repo.zip", Data: []byte("new")},
	})
	require.NoError(t, err)
	assert.Equal(t, RecreateWithFile, mode)
	assert.Equal(t, orig.ID, p.ID)

	stored, err := f.store.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", stored.Name)
	assert.True(t, stored.CreatedAt.Equal(later))
	require.NotNil(t, stored.UpdatedAt)
	assert.True(t, stored.UpdatedAt.Equal(later))
	assert.Equal(t, publicBase+"/"+orig.ID+"/repo.zip", stored.FileURL)
	assert.Equal(t, 1, f.countProjects(t))

	data, err := f.mgr.ReadFile(ctx, orig.ID, "repo.zip")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data), "blob is overwritten in place")

	assert.Contains(t, f.inv.prefixes, publicBase+"/"+orig.ID+"/")
}

func TestRecreate_WithGithubURLStoresVerbatim(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	orig, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "v1"}, Artifact{FileName: "a.zip", Data: []byte("a")})
	require.NoError(t, err)
	calls := f.source.calls

	p, mode, err := f.mgr.Recreate(ctx, orig.ID, RecreateInput{
		Name: "v2", GithubURL: "https://github.com/acme/widgets",
	})
	require.NoError(t, err)
	assert.Equal(t, RecreateWithGithub, mode)
	assert.Equal(t, calls, f.source.calls, "recreate does not download")

	stored, err := f.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", stored.GithubURL)
	assert.Empty(t, stored.FileURL, "old metadata is replaced")
}

func TestRecreate_MetadataOnly(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	orig, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "v1"}, Artifact{FileName: "a.zip", Data: []byte("a")})
	require.NoError(t, err)

	_, mode, err := f.mgr.Recreate(ctx, orig.ID, RecreateInput{Name: "v2", Description: "d2"})
	require.NoError(t, err)
	assert.Equal(t, RecreateMetadataOnly, mode)

	stored, err := f.store.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", stored.Name)
	assert.Equal(t, DefaultCompany, stored.Company)
}

func TestRecreate_UnknownID(t *testing.T) {
	f := setupTestManager(t)
	_, _, err := f.mgr.Recreate(context.Background(), "missing", RecreateInput{Name: "x"})
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	assert.Zero(t, f.countProjects(t))
}

func TestRecreate_ValidatesBeforeDeleting(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	orig, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "v1"}, Artifact{FileName: "a.zip", Data: []byte("a")})
	require.NoError(t, err)

	_, _, err = f.mgr.Recreate(ctx, orig.ID, RecreateInput{Name: ""})
	assert.True(t, errors.Is(err, perrors.ErrValidation))

	_, _, err = f.mgr.Recreate(ctx, orig.ID, RecreateInput{Name: "v2", File: &Artifact{FileName: ".."}})
	assert.True(t, errors.Is(err, perrors.ErrValidation))

	stored, err := f.store.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", stored.Name)
	assert.NotEmpty(t, stored.FileURL)
}

func TestUpdateMetadata_MergesFields(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	orig, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "demo", Description: "old", Company: "Acme"},
		Artifact{FileName: "a.zip", Data: []byte("a")})
	require.NoError(t, err)

	desc := "new description"
	empty := ""
	require.NoError(t, f.mgr.UpdateMetadata(ctx, orig.ID, MetadataPatch{Description: &desc, Name: &empty}))

	stored, err := f.store.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", stored.Name)
	assert.Equal(t, "Acme", stored.Company)
	assert.Equal(t, "new description", stored.Description)
	assert.Equal(t, orig.FileURL, stored.FileURL)
	require.NotNil(t, stored.UpdatedAt)
}

func TestUpdateMetadata_UnknownID(t *testing.T) {
	f := setupTestManager(t)
	name := "x"
	err := f.mgr.UpdateMetadata(context.Background(), "missing", MetadataPatch{Name: &name})
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	assert.Zero(t, f.countProjects(t))
}

func TestDelete_RemovesBlobsThenMetadata(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	p, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "demo"}, Artifact{FileName: "repo.zip", Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, f.blobs.Write(ctx, p.ID+"/codebase_analysis.json", []byte("{}"), "application/json"))

	require.NoError(t, f.mgr.Delete(ctx, p.ID))

	_, err = f.mgr.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	_, err = f.mgr.ReadFile(ctx, p.ID, "repo.zip")
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	ok, err := f.blobs.Exists(ctx, p.ID+"/codebase_analysis.json")
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent.
	require.NoError(t, f.mgr.Delete(ctx, p.ID))
	assert.Contains(t, f.inv.prefixes, publicBase+"/"+p.ID+"/")
}

func TestDelete_BlobFailureKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	p, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: "demo"}, Artifact{FileName: "repo.zip", Data: []byte("x")})
	require.NoError(t, err)

	f.blobs.failDelete = true
	err = f.mgr.Delete(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrStorage))

	_, err = f.mgr.Get(ctx, p.ID)
	require.NoError(t, err, "metadata survives a failed blob delete")

	f.blobs.failDelete = false
	require.NoError(t, f.mgr.Delete(ctx, p.ID))
}

func TestDelete_RejectsUnsafeIDs(t *testing.T) {
	f := setupTestManager(t)
	for _, id := range []string{"", "..", "a/b"} {
		err := f.mgr.Delete(context.Background(), id)
		assert.True(t, errors.Is(err, perrors.ErrValidation), "id %q", id)
	}
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	f := setupTestManager(t)

	for i, name := range []string{"first", "second", "third"} {
		at := fixedNow.Add(time.Duration(i) * time.Minute)
		f.mgr.now = func() time.Time { return at }
		_, err := f.mgr.CreateFromUpload(ctx, CreateInput{Name: name}, Artifact{FileName: "a.zip", Data: []byte("a")})
		require.NoError(t, err)
	}

	all, err := f.mgr.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, p := range all {
		names = append(names, p.Name)
	}
	assert.Equal(t, "third,second,first", strings.Join(names, ","))
}
