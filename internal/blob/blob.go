// Package blob wraps an object-storage bucket behind the small set of
// operations the project and document lifecycles need.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	gcblob "gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

// Store is a path-addressed blob store.
type Store struct {
	bucket  *gcblob.Bucket
	baseURL string
	logger  zerolog.Logger
}

// Open opens the bucket at bucketURL (gs://, s3://, file://, mem://).
// publicBaseURL is the address prefix blobs are published under, e.g.
// https://storage.googleapis.com/novacode.
func Open(ctx context.Context, bucketURL, publicBaseURL string, logger zerolog.Logger) (*Store, error) {
	b, err := gcblob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %s: %w", bucketURL, err)
	}
	return New(b, publicBaseURL, logger), nil
}

// New wraps an already opened bucket.
func New(b *gcblob.Bucket, publicBaseURL string, logger zerolog.Logger) *Store {
	return &Store{
		bucket:  b,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger.With().Str("component", "blob").Logger(),
	}
}

// Write stores data at path, replacing any existing blob.
func (s *Store) Write(ctx context.Context, path string, data []byte, contentType string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	opts := &gcblob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, path, data, opts); err != nil {
		return perrors.E(perrors.KindStorage, "blob.Write", "Error uploading file.", err)
	}
	s.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("blob written")
	return nil
}

// Read returns the content at path.
func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	data, err := s.bucket.ReadAll(ctx, path)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, perrors.E(perrors.KindNotFound, "blob.Read", "File not found", err)
		}
		return nil, perrors.E(perrors.KindStorage, "blob.Read", "Error fetching file", err)
	}
	return data, nil
}

// Exists reports whether a blob is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	ok, err := s.bucket.Exists(ctx, path)
	if err != nil {
		return false, perrors.E(perrors.KindStorage, "blob.Exists", "Error checking file", err)
	}
	return ok, nil
}

// DeletePrefix removes every blob whose key starts with prefix and returns the
// number of blobs removed. Deleting an empty prefix range succeeds.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" || prefix == "/" {
		return 0, perrors.Validation("blob.DeletePrefix", "refusing to delete the whole bucket")
	}

	iter := s.bucket.List(&gcblob.ListOptions{Prefix: prefix})
	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, perrors.E(perrors.KindStorage, "blob.DeletePrefix", "Error listing files.", err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	deleted := 0
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil {
			// Concurrent delete of the same prefix already removed it.
			if gcerrors.Code(err) == gcerrors.NotFound {
				continue
			}
			return deleted, perrors.E(perrors.KindStorage, "blob.DeletePrefix", "Error deleting files.", err)
		}
		deleted++
	}

	s.logger.Debug().Str("prefix", prefix).Int("deleted", deleted).Msg("blob prefix deleted")
	return deleted, nil
}

// PublicURL returns the published address of path. Each segment is
// percent-escaped.
func (s *Store) PublicURL(path string) string {
	segs := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segs, "/")
}

// PathFromURL returns the blob path of a URL published by PublicURL.
func (s *Store) PathFromURL(raw string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	path := strings.TrimPrefix(raw, prefix)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	unescaped, err := url.PathUnescape(path)
	if err != nil || unescaped == "" {
		return "", false
	}
	return unescaped, true
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("bucket not accessible: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket not accessible")
	}
	return nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func validatePath(path string) error {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return perrors.Validation("blob", fmt.Sprintf("invalid blob path %q", path))
		}
	}
	return nil
}
