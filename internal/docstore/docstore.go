// Package docstore defines the document database used for project metadata
// and chat transcripts, with SQLite and MongoDB backends.
//
// Documents are addressed by (collection, id). Field-level merges and array
// appends are single atomic store operations; callers never read-modify-write
// a whole document.
package docstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

// Store is a document database.
type Store interface {
	// Create inserts data under a store-assigned id and returns the id.
	Create(ctx context.Context, collection string, data any) (string, error)

	// Insert creates the document at id. It fails if id already exists.
	Insert(ctx context.Context, collection, id string, data any) error

	// Set creates or replaces the document at id.
	Set(ctx context.Context, collection, id string, data any) error

	// Get returns the document at id, or a NotFound error.
	Get(ctx context.Context, collection, id string) (*Snapshot, error)

	// Update merges fields into an existing document. Fields not named are
	// left untouched. Returns NotFound if the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Append adds elems to the end of the array field of an existing document.
	// Returns NotFound if the document does not exist.
	Append(ctx context.Context, collection, id, field string, elems ...any) error

	// Delete removes the document at id. Deleting a missing document succeeds.
	Delete(ctx context.Context, collection, id string) error

	// Query returns documents matching every filter, in the requested order.
	Query(ctx context.Context, collection string, q Query) ([]*Snapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Query describes a filtered, ordered read.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Snapshot is a document read from the store.
type Snapshot struct {
	ID     string
	decode func(out any) error
}

// NewSnapshot builds a snapshot whose payload is decoded by decode.
func NewSnapshot(id string, decode func(out any) error) *Snapshot {
	return &Snapshot{ID: id, decode: decode}
}

// DataTo decodes the document into out.
func (s *Snapshot) DataTo(out any) error {
	if s.decode == nil {
		return fmt.Errorf("snapshot %s has no data", s.ID)
	}
	return s.decode(out)
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.New().String()
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateField(op, field string) error {
	if !fieldRe.MatchString(field) {
		return perrors.Validation(op, fmt.Sprintf("invalid field name %q", field))
	}
	return nil
}

func validateKey(op, collection, id string) error {
	if !fieldRe.MatchString(collection) {
		return perrors.Validation(op, fmt.Sprintf("invalid collection name %q", collection))
	}
	if id == "" {
		return perrors.Validation(op, "document id is required")
	}
	return nil
}

func notFound(op, collection, id string) error {
	return perrors.NotFound(op, fmt.Sprintf("%s document %s not found", collection, id))
}

func metadataErr(op string, err error) error {
	return perrors.Wrap(perrors.KindMetadata, op, "Error accessing the document store.", err)
}
