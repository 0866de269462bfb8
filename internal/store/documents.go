package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// DocumentStore keeps chunk text and document metadata in SQLite.
type DocumentStore struct {
	db   *sql.DB
	path string
}

const documentSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id       TEXT PRIMARY KEY,
	path     TEXT NOT NULL DEFAULT '',
	title    TEXT NOT NULL DEFAULT '',
	url      TEXT NOT NULL DEFAULT '',
	authors  TEXT NOT NULL DEFAULT '',
	year     INTEGER NOT NULL DEFAULT 0,
	added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id     TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	seq    INTEGER NOT NULL,
	text   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
`

// authorSep joins author lists in a single column; names never contain it.
const authorSep = "\x1f"

// OpenDocumentStore opens or creates the database at path.
// An empty path opens an in-memory database for tests.
func OpenDocumentStore(path string) (*DocumentStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: the in-memory database only exists on one,
	// and a single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(documentSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DocumentStore{db: db, path: path}, nil
}

// Put writes a document and replaces all of its chunks in one transaction.
func (d *DocumentStore) Put(ctx context.Context, doc Document, chunks []Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	added := doc.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	m := doc.Metadata
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, path, title, url, authors, year, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path, title = excluded.title, url = excluded.url,
			authors = excluded.authors, year = excluded.year`,
		doc.ID, m.Path, m.Title, m.URL, strings.Join(m.Authors, authorSep), m.Year, added.Unix())
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks of %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, doc_id, seq, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, doc.ID, c.Seq, c.Text); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// ChunkIDs returns the chunk IDs stored for a document, in sequence order.
func (d *DocumentStore) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM chunks WHERE doc_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasDocument reports whether a document with this ID is stored.
func (d *DocumentStore) HasDocument(ctx context.Context, docID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, docID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query document: %w", err)
	}
	return n > 0, nil
}

// DocumentIDs returns the IDs of documents ingested from path.
func (d *DocumentStore) DocumentIDs(ctx context.Context, path string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM documents WHERE path = ? ORDER BY id`, path)
	if err != nil {
		return nil, fmt.Errorf("query documents by path: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Paths returns every distinct source path with at least one document.
func (d *DocumentStore) Paths(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT path FROM documents WHERE path != '' ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Delete removes a document and its chunks.
func (d *DocumentStore) Delete(ctx context.Context, docID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return tx.Commit()
}

// chunkRow is a chunk joined with its document metadata.
type chunkRow struct {
	Text     string
	Metadata Metadata
}

// Chunks loads the given chunk IDs. IDs that are not stored are absent from the map.
func (d *DocumentStore) Chunks(ctx context.Context, ids []string) (map[string]chunkRow, error) {
	out := make(map[string]chunkRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT c.id, c.text, d.path, d.title, d.url, d.authors, d.year
		FROM chunks c JOIN documents d ON d.id = c.doc_id
		WHERE c.id IN (` + placeholders + `)`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id, authors string
			row         chunkRow
		)
		m := &row.Metadata
		if err := rows.Scan(&id, &row.Text, &m.Path, &m.Title, &m.URL, &authors, &m.Year); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if authors != "" {
			m.Authors = strings.Split(authors, authorSep)
		}
		out[id] = row
	}
	return out, rows.Err()
}

// Counts returns the number of documents and chunks.
func (d *DocumentStore) Counts(ctx context.Context) (docs, chunks int, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`).Scan(&docs, &chunks)
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}
	return docs, chunks, nil
}

// Reset deletes every document and chunk.
func (d *DocumentStore) Reset(ctx context.Context) error {
	for _, table := range []string{"chunks", "documents"} {
		if _, err := d.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database.
func (d *DocumentStore) Close() error {
	return d.db.Close()
}
