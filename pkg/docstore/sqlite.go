package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLiteStore holds documents from any number of collections in a single
// sqlite database file, one row per document with the body stored as JSON.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}

	// Document writes are serialized per collection anyway and the driver
	// does not support concurrent writers on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Backend returns a Backend view over one named collection.
func (s *SQLiteStore) Backend(collection string) Backend {
	return &sqliteBackend{db: s.db, collection: collection}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteBackend struct {
	db         *sql.DB
	collection string
}

func (b *sqliteBackend) Get(ctx context.Context, id string) (Document, error) {
	var raw string

	err := b.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND id = ?`,
		b.collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidID, id)
	}

	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}

	return doc, nil
}

func (b *sqliteBackend) Set(ctx context.Context, id string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES (?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = excluded.doc`,
		b.collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("writing document %s: %w", id, err)
	}

	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		b.collection, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidID, id)
	}

	return nil
}

func (b *sqliteBackend) Contains(ctx context.Context, id string) (bool, error) {
	var one int

	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = ? AND id = ?`,
		b.collection, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (b *sqliteBackend) Values(ctx context.Context) ([]Document, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE collection = ?`, b.collection)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}

		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}

		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Close is a no-op; the underlying database is shared across collections
// and closed by the SQLiteStore.
func (*sqliteBackend) Close() error {
	return nil
}
