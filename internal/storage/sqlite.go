package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database that holds the document registry and,
// for the sqlite evidence backend, the chunk table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) opsassist.db in dataDir and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "opsassist.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: modernc sqlite reports "database is locked" otherwise,
	// and an in-memory database is per-connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the handle for the sqlite evidence backend.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations in filename order, recording each
// version in schema_version inside the same transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		body, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, body string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	if _, err := tx.Exec(body); err != nil {
		tx.Rollback()
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

// SaveDocument inserts or replaces the registry row for doc.DocID.
func (s *Store) SaveDocument(ctx context.Context, doc Document) error {
	ingested := doc.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, filename, doc_type, blob_name, authority_level, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			filename = excluded.filename,
			doc_type = excluded.doc_type,
			blob_name = excluded.blob_name,
			authority_level = excluded.authority_level,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at`,
		doc.DocID, doc.Filename, doc.DocType, doc.BlobName, doc.AuthorityLevel, doc.ChunkCount,
		ingested.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.DocID, err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, docID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, filename, doc_type, blob_name, authority_level, chunk_count, ingested_at
		FROM documents WHERE doc_id = ?`, docID)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns documents newest first.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, filename, doc_type, blob_name, authority_level, chunk_count, ingested_at
		FROM documents ORDER BY ingested_at DESC, doc_id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocumentChunks removes chunks of docID whose ordinal is at or above
// keepBelow, left behind when a re-ingested document got shorter.
func (s *Store) DeleteDocumentChunks(ctx context.Context, docID string, keepBelow int) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ? AND chunk_id >= ?", docID, keepBelow)
	if err != nil {
		return 0, fmt.Errorf("deleting stale chunks of %s: %w", docID, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var d Document
	var ingested string
	if err := r.Scan(&d.DocID, &d.Filename, &d.DocType, &d.BlobName, &d.AuthorityLevel, &d.ChunkCount, &ingested); err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, ingested)
	if err != nil {
		return Document{}, fmt.Errorf("parsing ingested_at: %w", err)
	}
	d.IngestedAt = t
	return d, nil
}
