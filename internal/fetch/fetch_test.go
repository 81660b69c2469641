package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/retry"
)

func TestGet_Plain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK\x03\x04archive"))
	}))
	defer srv.Close()

	res, err := New(zerolog.Nop()).Get(context.Background(), srv.URL+"/repo.zip")
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04archive", string(res.Data))
	assert.Equal(t, "application/zip", res.ContentType)
}

func TestGet_GzipEncoding(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("decompressed body"))
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	res, err := New(zerolog.Nop()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "decompressed body", string(res.Data))
}

func TestGet_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(zerolog.Nop()).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrUpstreamFetch))
	assert.Equal(t, http.StatusNotFound, perrors.StatusCode(err))
}

func TestGet_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := New(zerolog.Nop(), WithTimeout(50*time.Millisecond)).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrUpstreamFetch))
}

func TestGet_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	_, err := New(zerolog.Nop(), WithMaxBytes(16)).Get(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, perrors.ErrUpstreamFetch))
}

func TestGet_RejectsNonHTTP(t *testing.T) {
	dl := New(zerolog.Nop())
	for _, u := range []string{"", "file:///etc/passwd", "ftp://example.com/x", "not a url"} {
		_, err := dl.Get(context.Background(), u)
		assert.True(t, errors.Is(err, perrors.ErrValidation), "url %q", u)
	}
}

func TestGet_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dl := New(zerolog.Nop(), WithRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))
	res, err := dl.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Data))
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_NoRetryByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(zerolog.Nop()).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, perrors.StatusCode(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dl := New(zerolog.Nop(), WithRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))
	_, err := dl.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, perrors.StatusCode(err))
	assert.Equal(t, int32(1), hits.Load())
}
