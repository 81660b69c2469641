// Package document stores free-form reference material (PDF, HTML and text
// files, or captured web pages) that users chat about next to a project.
package document

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/novuscode/novuscode-api/internal/docstore"
	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/fetch"
	"github.com/novuscode/novuscode-api/internal/metrics"
	"github.com/novuscode/novuscode-api/internal/requestid"
)

const (
	Collection = "documents"

	// blobRoot prefixes every document blob: documents/{id}/{file}.
	blobRoot = "documents"

	SourceUpload = "upload"
	SourceWeb    = "web"
)

var allowedExt = map[string]string{
	".pdf":  "application/pdf",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

type Document struct {
	ID          string    `json:"id,omitempty" bson:"-"`
	ProjectID   string    `json:"projectId,omitempty" bson:"projectId,omitempty"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Source      string    `json:"source" bson:"source"`
	SourceURL   string    `json:"sourceUrl,omitempty" bson:"sourceUrl,omitempty"`
	FileName    string    `json:"fileName,omitempty" bson:"fileName,omitempty"`
	FileURL     string    `json:"fileUrl,omitempty" bson:"fileUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

type File struct {
	FileName    string
	ContentType string
	Data        []byte
}

// CreateInput describes a new document. Exactly one of File and URL is used;
// File wins when both are set.
type CreateInput struct {
	ProjectID   string
	Title       string
	Description string
	File        *File
	URL         string
}

type Blobs interface {
	Write(ctx context.Context, path string, data []byte, contentType string) error
	Read(ctx context.Context, path string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	PublicURL(path string) string
}

type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Result, error)
}

type Manager struct {
	ds      docstore.Store
	blobs   Blobs
	fetcher Fetcher
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func NewManager(ds docstore.Store, blobs Blobs, fetcher Fetcher, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		ds:      ds,
		blobs:   blobs,
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "document.manager").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create stores a document. Web pages are downloaded before anything is
// persisted. The metadata document is created first for its id, the blob is
// written under that id, and only then is fileUrl attached.
func (m *Manager) Create(ctx context.Context, in CreateInput) (_ *Document, err error) {
	const op = "document.Create"
	defer m.observe(ctx, op, &err)

	if strings.TrimSpace(in.Title) == "" {
		return nil, perrors.Validation(op, "Document title is required.")
	}

	doc := &Document{
		ProjectID:   in.ProjectID,
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   m.now(),
	}

	var (
		data        []byte
		contentType string
	)
	switch {
	case in.File != nil:
		name, ct, err := checkFileName(op, in.File.FileName)
		if err != nil {
			return nil, err
		}
		if in.File.ContentType != "" {
			ct = in.File.ContentType
		}
		doc.Source, doc.FileName = SourceUpload, name
		data, contentType = in.File.Data, ct

	case strings.TrimSpace(in.URL) != "":
		raw := strings.TrimSpace(in.URL)
		res, err := m.fetcher.Get(ctx, raw)
		if err != nil {
			return nil, perrors.Wrap(perrors.KindUpstreamFetch, op, "Error downloading document.", err)
		}
		doc.Source, doc.SourceURL = SourceWeb, raw
		doc.FileName = webFileName(raw, res.ContentType)
		data, contentType = res.Data, res.ContentType

	default:
		return nil, perrors.Validation(op, "A file or a URL is required.")
	}

	wctx := context.WithoutCancel(ctx)
	id, err := m.ds.Create(wctx, Collection, doc)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error adding document to database.", err)
	}
	doc.ID = id

	blobPath := prefix(id) + doc.FileName
	if err := m.blobs.Write(wctx, blobPath, data, contentType); err != nil {
		return nil, err
	}
	m.metrics.AddBlobBytes("document", len(data))

	fileURL := m.blobs.PublicURL(blobPath)
	if err := m.ds.Update(wctx, Collection, id, map[string]any{"fileUrl": fileURL}); err != nil {
		m.logger.Warn().Err(err).Str("document_id", id).Str("path", blobPath).Msg("blob stored but fileUrl not recorded")
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error updating document in database.", err)
	}
	doc.FileURL = fileURL

	m.logger.Info().Str("document_id", id).Str("source", doc.Source).Int("bytes", len(data)).Msg("document created")
	return doc, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Document, error) {
	const op = "document.Get"
	if err := validateID(op, id); err != nil {
		return nil, err
	}
	snap, err := m.ds.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return nil, perrors.NotFound(op, fmt.Sprintf("Document with ID %s not found.", id))
		}
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error reading document from database.", err)
	}
	return decode(op, snap)
}

// List returns documents newest first, optionally limited to one project.
func (m *Manager) List(ctx context.Context, projectID string) ([]*Document, error) {
	const op = "document.List"
	q := docstore.Query{OrderBy: "createdAt", Desc: true}
	if projectID != "" {
		q.Filters = []docstore.Filter{docstore.Where("projectId", projectID)}
	}
	snaps, err := m.ds.Query(ctx, Collection, q)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindMetadata, op, "Error listing documents.", err)
	}
	out := make([]*Document, 0, len(snaps))
	for _, snap := range snaps {
		d, err := decode(op, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Delete removes the document's blobs, then its metadata. Metadata is kept
// when the blob step fails. Unknown ids succeed.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	const op = "document.Delete"
	defer m.observe(ctx, op, &err)

	if err := validateID(op, id); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	n, err := m.blobs.DeletePrefix(wctx, prefix(id))
	if err != nil {
		return perrors.Wrap(perrors.KindStorage, op, "Failed to delete document.", err)
	}
	if err := m.ds.Delete(wctx, Collection, id); err != nil {
		return perrors.Wrap(perrors.KindMetadata, op, "Error deleting document from database.", err)
	}
	m.logger.Info().Str("document_id", id).Int("blobs", n).Msg("document deleted")
	return nil
}

// ReadFile returns the stored content of a document.
func (m *Manager) ReadFile(ctx context.Context, id string) ([]byte, *Document, error) {
	doc, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.FileName == "" {
		return nil, nil, perrors.NotFound("document.ReadFile", "File not found")
	}
	data, err := m.blobs.Read(ctx, prefix(id)+doc.FileName)
	if err != nil {
		return nil, nil, err
	}
	return data, doc, nil
}

func (m *Manager) observe(ctx context.Context, op string, err *error) {
	if *err == nil {
		return
	}
	kind := perrors.KindOf(*err)
	m.metrics.RecordError("document", string(kind))
	if kind != perrors.KindValidation && kind != perrors.KindNotFound {
		requestid.Logger(ctx, m.logger).Error().Err(*err).Str("op", op).Msg("document operation failed")
	}
}

func prefix(id string) string {
	return blobRoot + "/" + id + "/"
}

func decode(op string, snap *docstore.Snapshot) (*Document, error) {
	var d Document
	if err := snap.DataTo(&d); err != nil {
		return nil, perrors.E(perrors.KindMetadata, op, "Error reading document from database.", err)
	}
	d.ID = snap.ID
	return &d, nil
}

func validateID(op, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return perrors.Validation(op, "A valid document id is required.")
	}
	return nil
}

// checkFileName returns the base name of an upload and its content type.
// Only PDF, HTML and text files are accepted.
func checkFileName(op, name string) (string, string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", "", perrors.Validation(op, "No file uploaded.")
	}
	ct, ok := allowedExt[strings.ToLower(path.Ext(base))]
	if !ok {
		return "", "", perrors.Validation(op, "Only PDF, HTML and text documents are supported.")
	}
	return base, ct, nil
}

// webFileName names the blob of a captured page after the last URL path
// segment, falling back to index.html.
func webFileName(raw, contentType string) string {
	u, err := url.Parse(raw)
	if err == nil {
		base := path.Base(u.Path)
		if _, ok := allowedExt[strings.ToLower(path.Ext(base))]; ok {
			return base
		}
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "application/pdf":
			return "document.pdf"
		case "text/plain":
			return "document.txt"
		}
	}
	return "index.html"
}
