package project

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/fetch"
	"github.com/novuscode/novuscode-api/internal/metrics"
	"github.com/novuscode/novuscode-api/internal/requestid"
)

// Blobs is the subset of the blob store the lifecycle needs.
type Blobs interface {
	Write(ctx context.Context, path string, data []byte, contentType string) error
	Read(ctx context.Context, path string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	PublicURL(path string) string
}

// Source downloads remote project archives.
type Source interface {
	Download(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Invalidator drops cached data derived from blobs under a URL prefix.
type Invalidator interface {
	InvalidatePrefix(prefix string) int
}

// Manager coordinates project metadata and blobs. Blob writes always
// complete before the metadata that references them, and deletes remove
// blobs before metadata.
type Manager struct {
	store       *Store
	blobs       Blobs
	source      Source
	invalidator Invalidator
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) { m.invalidator = inv }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a new project manager.
func NewManager(store *Store, blobs Blobs, source Source, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		blobs:  blobs,
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "project.manager").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateFromUpload stores an uploaded artifact as a new project. The metadata
// document is created first so its id can prefix the blob path.
func (m *Manager) CreateFromUpload(ctx context.Context, in CreateInput, file Artifact) (_ *Project, err error) {
	const op = "project.CreateFromUpload"
	defer m.observe(ctx, op, &err)

	if file.FileName == "" {
		return nil, perrors.Validation(op, "No file uploaded.")
	}
	fileName, err := cleanFileName(op, file.FileName)
	if err != nil {
		return nil, err
	}

	wctx := context.WithoutCancel(ctx)
	p := m.newProject(in)
	id, err := m.store.Create(wctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	m.logger.Info().Str("project_id", id).Str("file", fileName).Msg("project created from upload")

	if err := m.attach(wctx, p, fileName, file.Data, file.ContentType); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateFromGithubURL downloads the archive behind githubURL and stores it
// as a new project. Nothing is persisted when the download fails.
func (m *Manager) CreateFromGithubURL(ctx context.Context, githubURL string, in CreateInput) (_ *Project, err error) {
	const op = "project.CreateFromGithubURL"
	defer m.observe(ctx, op, &err)

	githubURL = strings.TrimSpace(githubURL)
	if githubURL == "" {
		return nil, perrors.Validation(op, "GitHub URL is required.")
	}

	res, err := m.source.Download(ctx, githubURL)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindUpstreamFetch, op, "Error downloading repository.", err)
	}

	wctx := context.WithoutCancel(ctx)
	p := m.newProject(in)
	id, err := m.store.Create(wctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	m.logger.Info().
		Str("project_id", id).
		Int("bytes", len(res.Data)).
		Msg("project created from remote archive")

	if err := m.attach(wctx, p, RepositoryFileName, res.Data, "application/zip"); err != nil {
		return nil, err
	}
	return p, nil
}

// Recreate replaces the metadata of an existing project under the same id
// and attaches the new source. A GitHub URL is stored as given; it is not
// downloaded.
func (m *Manager) Recreate(ctx context.Context, id string, in RecreateInput) (_ *Project, _ RecreateMode, err error) {
	const op = "project.Recreate"
	defer m.observe(ctx, op, &err)

	if err := validateID(op, id); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, "", perrors.Validation(op, "Project name is required.")
	}
	var fileName string
	if in.File != nil {
		if fileName, err = cleanFileName(op, in.File.FileName); err != nil {
			return nil, "", err
		}
	}

	wctx := context.WithoutCancel(ctx)
	if _, err := m.store.Get(wctx, id); err != nil {
		return nil, "", err
	}
	if err := m.store.Delete(wctx, id); err != nil {
		return nil, "", err
	}

	now := m.now()
	p := &Project{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Company:     companyOrDefault(in.Company),
		CreatedAt:   now,
		UpdatedAt:   timePtr(now),
	}
	if err := m.store.Put(wctx, p); err != nil {
		return nil, "", err
	}
	m.invalidate(id)

	switch {
	case in.File != nil:
		if err := m.attach(wctx, p, fileName, in.File.Data, in.File.ContentType); err != nil {
			return nil, "", err
		}
		m.logger.Info().Str("project_id", id).Str("file", fileName).Msg("project recreated with file")
		return p, RecreateWithFile, nil

	case strings.TrimSpace(in.GithubURL) != "":
		url := strings.TrimSpace(in.GithubURL)
		if err := m.store.SetFields(wctx, id, map[string]any{"githubUrl": url}); err != nil {
			return nil, "", err
		}
		p.GithubURL = url
		m.logger.Info().Str("project_id", id).Msg("project recreated with GitHub URL")
		return p, RecreateWithGithub, nil

	default:
		m.logger.Info().Str("project_id", id).Msg("project recreated")
		return p, RecreateMetadataOnly, nil
	}
}

// UpdateMetadata merges the supplied descriptive fields into the project.
// Fields not supplied keep their stored value.
func (m *Manager) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) (err error) {
	const op = "project.UpdateMetadata"
	defer m.observe(ctx, op, &err)

	if err := validateID(op, id); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	if _, err := m.store.Get(wctx, id); err != nil {
		return err
	}

	fields := map[string]any{"updatedAt": m.now()}
	for name, v := range map[string]*string{
		"name":        patch.Name,
		"description": patch.Description,
		"company":     patch.Company,
	} {
		if v != nil && *v != "" {
			fields[name] = *v
		}
	}
	return m.store.SetFields(wctx, id, fields)
}

// Delete removes every blob under the project's prefix, then its metadata.
// When the blob step fails the metadata is kept. Deleting an unknown
// project succeeds.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	const op = "project.Delete"
	defer m.observe(ctx, op, &err)

	if err := validateID(op, id); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)

	n, err := m.blobs.DeletePrefix(wctx, id+"/")
	if err != nil {
		return perrors.Wrap(perrors.KindStorage, op, "Failed to delete project.", err)
	}
	if err := m.store.Delete(wctx, id); err != nil {
		return err
	}
	m.invalidate(id)

	m.logger.Info().Str("project_id", id).Int("blobs", n).Msg("project deleted")
	return nil
}

// Get returns a project by id.
func (m *Manager) Get(ctx context.Context, id string) (*Project, error) {
	if err := validateID("project.Get", id); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, id)
}

// List returns every project, newest first.
func (m *Manager) List(ctx context.Context) ([]*Project, error) {
	return m.store.List(ctx)
}

// ReadFile returns the content of a blob stored under the project prefix.
func (m *Manager) ReadFile(ctx context.Context, id, fileName string) (_ []byte, err error) {
	const op = "project.ReadFile"
	defer m.observe(ctx, op, &err)

	if err := validateID(op, id); err != nil {
		return nil, err
	}
	name, err := cleanFileName(op, fileName)
	if err != nil {
		return nil, err
	}
	return m.blobs.Read(ctx, id+"/"+name)
}

// attach writes the artifact under the project prefix, then records its
// public URL. A failed metadata update leaves the blob in place.
func (m *Manager) attach(ctx context.Context, p *Project, fileName string, data []byte, contentType string) error {
	blobPath := p.ID + "/" + fileName
	if err := m.blobs.Write(ctx, blobPath, data, contentType); err != nil {
		return err
	}
	m.metrics.AddBlobBytes("project", len(data))

	fileURL := m.blobs.PublicURL(blobPath)
	if err := m.store.SetFileURL(ctx, p.ID, fileURL); err != nil {
		m.logger.Warn().Err(err).
			Str("project_id", p.ID).
			Str("path", blobPath).
			Msg("blob stored but fileUrl not recorded")
		return err
	}
	p.FileURL = fileURL
	return nil
}

func (m *Manager) newProject(in CreateInput) *Project {
	return &Project{
		Name:        in.Name,
		Description: in.Description,
		Company:     companyOrDefault(in.Company),
		CreatedAt:   m.now(),
	}
}

func (m *Manager) invalidate(id string) {
	if m.invalidator == nil {
		return
	}
	if n := m.invalidator.InvalidatePrefix(m.blobs.PublicURL(id + "/")); n > 0 {
		m.logger.Debug().Str("project_id", id).Int("entries", n).Msg("context cache invalidated")
	}
}

func (m *Manager) observe(ctx context.Context, op string, err *error) {
	if *err == nil {
		return
	}
	kind := perrors.KindOf(*err)
	m.metrics.RecordError("project", string(kind))
	if kind != perrors.KindValidation && kind != perrors.KindNotFound {
		requestid.Logger(ctx, m.logger).Error().Err(*err).Str("op", op).Msg("project operation failed")
	}
}

func companyOrDefault(c string) string {
	if strings.TrimSpace(c) == "" {
		return DefaultCompany
	}
	return c
}

func validateID(op, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return perrors.Validation(op, "A valid project id is required.")
	}
	return nil
}

// cleanFileName reduces an uploaded name to its base so it cannot escape the
// project prefix.
func cleanFileName(op, name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", perrors.Validation(op, "A valid file name is required.")
	}
	return base, nil
}
