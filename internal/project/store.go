package project

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/novuscode/novuscode-api/internal/docstore"
	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

// Store persists project metadata in the document store.
type Store struct {
	ds     docstore.Store
	logger zerolog.Logger
}

// NewStore creates a new project store.
func NewStore(ds docstore.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "project.store").Logger(),
	}
}

// Create inserts p and returns its store-assigned id.
func (s *Store) Create(ctx context.Context, p *Project) (string, error) {
	id, err := s.ds.Create(ctx, Collection, p)
	if err != nil {
		return "", metaErr("project.Create", "Error adding project to database.", err)
	}
	return id, nil
}

// Put writes p under its id, replacing any document there.
func (s *Store) Put(ctx context.Context, p *Project) error {
	if err := s.ds.Set(ctx, Collection, p.ID, p); err != nil {
		return metaErr("project.Put", "Error writing project to database.", err)
	}
	return nil
}

// Get returns the project with id, or NotFound.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	snap, err := s.ds.Get(ctx, Collection, id)
	if err != nil {
		if perrors.KindOf(err) == perrors.KindNotFound {
			return nil, perrors.NotFound("project.Get", fmt.Sprintf("Project with ID %s not found.", id))
		}
		return nil, metaErr("project.Get", "Error reading project from database.", err)
	}
	return decode(snap)
}

// List returns all projects, newest first.
func (s *Store) List(ctx context.Context) ([]*Project, error) {
	snaps, err := s.ds.Query(ctx, Collection, docstore.Query{OrderBy: "createdAt", Desc: true})
	if err != nil {
		return nil, metaErr("project.List", "Error listing projects.", err)
	}
	out := make([]*Project, 0, len(snaps))
	for _, snap := range snaps {
		p, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SetFields merges fields into the stored project.
func (s *Store) SetFields(ctx context.Context, id string, fields map[string]any) error {
	if err := s.ds.Update(ctx, Collection, id, fields); err != nil {
		return metaErr("project.SetFields", "Error updating project in database.", err)
	}
	return nil
}

// SetFileURL attaches the published artifact address.
func (s *Store) SetFileURL(ctx context.Context, id, fileURL string) error {
	return s.SetFields(ctx, id, map[string]any{"fileUrl": fileURL})
}

// Delete removes the project document. Deleting a missing project succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ds.Delete(ctx, Collection, id); err != nil {
		return metaErr("project.Delete", "Error deleting project from database.", err)
	}
	return nil
}

func decode(snap *docstore.Snapshot) (*Project, error) {
	var p Project
	if err := snap.DataTo(&p); err != nil {
		return nil, perrors.E(perrors.KindMetadata, "project.decode", "Error reading project from database.", err)
	}
	p.ID = snap.ID
	return &p, nil
}

// metaErr keeps NotFound and Validation classifications and reports every
// other failure as a metadata error with msg.
func metaErr(op, msg string, err error) error {
	switch perrors.KindOf(err) {
	case perrors.KindNotFound, perrors.KindValidation:
		return err
	}
	return perrors.E(perrors.KindMetadata, op, msg, err)
}

func timePtr(t time.Time) *time.Time { return &t }
