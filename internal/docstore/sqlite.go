package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single SQLite database holding JSON documents.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// OpenSQLite opens (or creates) the SQLite database and runs migrations.
func OpenSQLite(dbPath string, logger zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers, so appends never race on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{
		db:     db,
		logger: logger.With().Str("component", "docstore.sqlite").Logger(),
		now:    time.Now,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s.logger.Info().Str("path", dbPath).Msg("document store initialized")
	return s, nil
}

// DB returns the underlying database connection (for testing).
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create implements Store.
func (s *SQLite) Create(ctx context.Context, collection string, data any) (string, error) {
	id := NewID()
	if err := s.insert(ctx, "docstore.Create", collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Insert implements Store.
func (s *SQLite) Insert(ctx context.Context, collection, id string, data any) error {
	return s.insert(ctx, "docstore.Insert", collection, id, data)
}

func (s *SQLite) insert(ctx context.Context, op, collection, id string, data any) error {
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return metadataErr(op, fmt.Errorf("marshal document: %w", err))
	}

	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO documents (collection, id, data, created_at, updated_at)
	VALUES (?, ?, json_remove(json(?), '$.id'), ?, ?)
	`, collection, id, string(raw), now, now)
	if err != nil {
		return metadataErr(op, fmt.Errorf("insert %s/%s: %w", collection, id, err))
	}
	return nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, collection, id string, data any) error {
	const op = "docstore.Set"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return metadataErr(op, fmt.Errorf("marshal document: %w", err))
	}

	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO documents (collection, id, data, created_at, updated_at)
	VALUES (?, ?, json_remove(json(?), '$.id'), ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`, collection, id, string(raw), now, now)
	if err != nil {
		return metadataErr(op, fmt.Errorf("upsert %s/%s: %w", collection, id, err))
	}
	return nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, collection, id string) (*Snapshot, error) {
	const op = "docstore.Get"
	if err := validateKey(op, collection, id); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, notFound(op, collection, id)
	}
	if err != nil {
		return nil, metadataErr(op, fmt.Errorf("select %s/%s: %w", collection, id, err))
	}
	return jsonSnapshot(id, data), nil
}

// Update implements Store.
func (s *SQLite) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	const op = "docstore.Update"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	if len(fields) == 0 {
		_, err := s.Get(ctx, collection, id)
		return err
	}

	var (
		setArgs []string
		args    []any
	)
	for field, value := range fields {
		if err := validateField(op, field); err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return metadataErr(op, fmt.Errorf("marshal field %s: %w", field, err))
		}
		setArgs = append(setArgs, "?, json(?)")
		args = append(args, "$."+field, string(raw))
	}
	args = append(args, s.now().UnixMilli(), collection, id)

	query := `UPDATE documents SET data = json_set(data, ` + strings.Join(setArgs, ", ") + `),
		updated_at = ? WHERE collection = ? AND id = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return metadataErr(op, fmt.Errorf("update %s/%s: %w", collection, id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, collection, id)
	}
	return nil
}

// Append implements Store.
func (s *SQLite) Append(ctx context.Context, collection, id, field string, elems ...any) error {
	const op = "docstore.Append"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	if err := validateField(op, field); err != nil {
		return err
	}

	encoded := make([]string, 0, len(elems))
	for _, e := range elems {
		raw, err := json.Marshal(e)
		if err != nil {
			return metadataErr(op, fmt.Errorf("marshal element: %w", err))
		}
		encoded = append(encoded, string(raw))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return metadataErr(op, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	path := "$." + field
	now := s.now().UnixMilli()

	// Normalizes a missing or non-array field to [] and proves the row exists.
	res, err := tx.ExecContext(ctx, `
	UPDATE documents
	SET data = CASE WHEN json_type(data, ?) = 'array' THEN data ELSE json_set(data, ?, json('[]')) END,
		updated_at = ?
	WHERE collection = ? AND id = ?
	`, path, path, now, collection, id)
	if err != nil {
		return metadataErr(op, fmt.Errorf("prepare array %s/%s: %w", collection, id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, collection, id)
	}

	for _, raw := range encoded {
		if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data = json_insert(data, ?, json(?))
		WHERE collection = ? AND id = ?
		`, path+"[#]", raw, collection, id); err != nil {
			return metadataErr(op, fmt.Errorf("append %s/%s: %w", collection, id, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return metadataErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	const op = "docstore.Delete"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id,
	); err != nil {
		return metadataErr(op, fmt.Errorf("delete %s/%s: %w", collection, id, err))
	}
	return nil
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, collection string, q Query) ([]*Snapshot, error) {
	const op = "docstore.Query"
	if err := validateKey(op, collection, "-"); err != nil {
		return nil, err
	}

	query := `SELECT id, data FROM documents WHERE collection = ?`
	args := []any{collection}
	for _, f := range q.Filters {
		if err := validateField(op, f.Field); err != nil {
			return nil, err
		}
		query += ` AND json_extract(data, ?) = ?`
		args = append(args, "$."+f.Field, f.Value)
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.OrderBy != "" {
		if err := validateField(op, q.OrderBy); err != nil {
			return nil, err
		}
		// Timestamps are stored as RFC 3339 text; julianday orders them
		// chronologically regardless of fractional-second width.
		query += fmt.Sprintf(` ORDER BY julianday(json_extract(data, ?)) %s, json_extract(data, ?) %s, created_at %s`, dir, dir, dir)
		args = append(args, "$."+q.OrderBy, "$."+q.OrderBy)
	} else {
		query += ` ORDER BY created_at ` + dir
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, metadataErr(op, fmt.Errorf("query %s: %w", collection, err))
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, metadataErr(op, fmt.Errorf("scan %s: %w", collection, err))
		}
		out = append(out, jsonSnapshot(id, data))
	}
	if err := rows.Err(); err != nil {
		return nil, metadataErr(op, err)
	}
	return out, nil
}

func jsonSnapshot(id, data string) *Snapshot {
	return NewSnapshot(id, func(out any) error {
		return json.Unmarshal([]byte(data), out)
	})
}
