// Package docstore is the SQLite-backed persistence layer for the
// IndexCoordinator's journal and the chunk metadata the
// SearchOrchestrator needs to render results (title, snippet, section
// path, tags). It uses the same pure-Go SQLite driver and WAL
// configuration as the BM25 FTS5 index.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hybridsearch/docengine/internal/coordinate"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/orchestrate"
)

// Store persists journal entries and chunk metadata in one SQLite
// database. It implements coordinate.Journal, orchestrate.ChunkMetadataStore
// and reconcile.ChunkCounter.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

var (
	_ coordinate.Journal = (*Store)(nil)
)

// Open creates or opens a docstore database at path. An empty path
// opens an in-memory database, used in tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		if err := validateIntegrity(path); err != nil {
			slog.Warn("docstore_corrupted", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("docstore corrupted at %s and cannot remove: %w (original error: %v)", path, rmErr, err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("docstore_cleared", slog.String("path", path), slog.String("reason", "corruption detected, please reindex"))
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// validateIntegrity runs a quick PRAGMA integrity_check before opening
// an existing database file, mirroring the corruption-detection
// pattern used by the BM25 SQLite index.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal_entries (
		collection   TEXT NOT NULL,
		external_id  TEXT NOT NULL,
		version      INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		stage        TEXT NOT NULL,
		chunk_count  INTEGER NOT NULL,
		committed_at INTEGER NOT NULL,
		PRIMARY KEY (collection, external_id, version, stage)
	);
	CREATE INDEX IF NOT EXISTS idx_journal_recent ON journal_entries(committed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_journal_idempotency ON journal_entries(collection, external_id, content_hash, stage);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id     TEXT PRIMARY KEY,
		collection   TEXT NOT NULL,
		external_id  TEXT NOT NULL,
		version      INTEGER NOT NULL,
		chunk_index  INTEGER NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		uri          TEXT NOT NULL DEFAULT '',
		snippet      TEXT NOT NULL DEFAULT '',
		section_path TEXT NOT NULL DEFAULT '[]',
		tags         TEXT NOT NULL DEFAULT '[]',
		metadata     TEXT NOT NULL DEFAULT '{}',
		indexed_at   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(collection, external_id, version);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for callers that need to share
// it with another SQLite-backed store (the query telemetry counters).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stats reports the distinct document count, total chunk count and the
// most recent journal commit time, for CLI status reporting.
func (s *Store) Stats(ctx context.Context) (docs, chunks int, lastIndexed time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT collection || '/' || external_id) FROM chunks`).Scan(&docs); err != nil {
		return 0, 0, time.Time{}, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, time.Time{}, err
	}

	var maxCommitted sql.NullInt64
	if err = s.db.QueryRowContext(ctx, `SELECT MAX(committed_at) FROM journal_entries`).Scan(&maxCommitted); err != nil {
		return 0, 0, time.Time{}, err
	}
	if maxCommitted.Valid {
		lastIndexed = time.Unix(0, maxCommitted.Int64)
	}
	return docs, chunks, lastIndexed, nil
}

// Find implements coordinate.Journal.
func (s *Store) Find(ctx context.Context, collection, externalID, contentHash, stage string) (coordinate.JournalEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT version, chunk_count, committed_at FROM journal_entries
		WHERE collection = ? AND external_id = ? AND content_hash = ? AND stage = ?
		ORDER BY version DESC LIMIT 1`, collection, externalID, contentHash, stage)

	var version, chunkCount int
	var committedAt int64
	if err := row.Scan(&version, &chunkCount, &committedAt); err != nil {
		if err == sql.ErrNoRows {
			return coordinate.JournalEntry{}, false, nil
		}
		return coordinate.JournalEntry{}, false, err
	}

	entry := coordinate.JournalEntry{
		DocID:       model.DocId{Collection: collection, ExternalID: externalID, Version: version},
		ChunkCount:  chunkCount,
		ContentHash: contentHash,
		Stage:       stage,
		Timestamp:   time.Unix(0, committedAt),
	}
	return entry, true, nil
}

// Append implements coordinate.Journal.
func (s *Store) Append(ctx context.Context, entry coordinate.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (collection, external_id, version, content_hash, stage, chunk_count, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, external_id, version, stage) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			committed_at = excluded.committed_at`,
		entry.DocID.Collection, entry.DocID.ExternalID, entry.DocID.Version,
		entry.ContentHash, entry.Stage, entry.ChunkCount, entry.Timestamp.UnixNano())
	return err
}

// Recent implements coordinate.Journal.
func (s *Store) Recent(ctx context.Context, n int) ([]coordinate.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, external_id, version, content_hash, stage, chunk_count, committed_at
		FROM journal_entries ORDER BY committed_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coordinate.JournalEntry
	for rows.Next() {
		var e coordinate.JournalEntry
		var collection, externalID string
		var version int
		var committedAt int64
		if err := rows.Scan(&collection, &externalID, &version, &e.ContentHash, &e.Stage, &e.ChunkCount, &committedAt); err != nil {
			return nil, err
		}
		e.DocID = model.DocId{Collection: collection, ExternalID: externalID, Version: version}
		e.Timestamp = time.Unix(0, committedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestVersion implements coordinate.Journal.
func (s *Store) LatestVersion(ctx context.Context, collection, externalID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM journal_entries WHERE collection = ? AND external_id = ?`,
		collection, externalID)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// SaveChunks persists chunk display metadata for a document version,
// keyed by chunk_id, for later batch retrieval by the orchestrator and
// chunk counting by the reconciliation task. Tags are read from
// doc.Metadata["tags"] as a comma-separated list, the same convention
// SearchFilters.Tags is matched against.
func (s *Store) SaveChunks(ctx context.Context, doc model.Document, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tagsJSON, err := json.Marshal(splitTags(doc.Metadata["tags"]))
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, collection, external_id, version, chunk_index, title, uri, snippet, section_path, tags, metadata, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			title = excluded.title, uri = excluded.uri, snippet = excluded.snippet,
			section_path = excluded.section_path, tags = excluded.tags, metadata = excluded.metadata,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		sectionJSON, err := json.Marshal(ch.SectionPath)
		if err != nil {
			return err
		}
		snippet := ch.Text
		if len(snippet) > maxSnippetLength {
			snippet = snippet[:maxSnippetLength]
		}
		if _, err := stmt.ExecContext(ctx, ch.ChunkID, doc.DocID.Collection, doc.DocID.ExternalID, doc.DocID.Version, ch.ChunkIndex,
			doc.Title, doc.URI, snippet, string(sectionJSON), string(tagsJSON), string(metaJSON), doc.IndexedAt.UnixNano()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const maxSnippetLength = 500

// ChunkRef is a chunk's DocId and index timestamp, the minimum the
// lexical/vector index adapters need to build a fuse.EngineHit from a
// backend's bare chunk-id result.
type ChunkRef struct {
	DocID     model.DocId
	IndexedAt int64 // unix nanos
}

// ResolveChunks batch-translates chunk IDs back into the DocId and
// index time they belong to, since the BM25/HNSW backends only deal
// in opaque chunk-id strings.
func (s *Store) ResolveChunks(ctx context.Context, chunkIDs []string) (map[string]ChunkRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ChunkRef, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT chunk_id, collection, external_id, version, indexed_at FROM chunks WHERE chunk_id IN (%s)`, joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var chunkID, collection, externalID string
		var version int
		var indexedAt int64
		if err := rows.Scan(&chunkID, &collection, &externalID, &version, &indexedAt); err != nil {
			return nil, err
		}
		out[chunkID] = ChunkRef{
			DocID:     model.DocId{Collection: collection, ExternalID: externalID, Version: version},
			IndexedAt: indexedAt,
		}
	}
	return out, rows.Err()
}

// ChunkIDsForDoc returns every chunk id persisted for a DocId, the
// lookup the lexical/vector index adapters need to translate a
// DocId-scoped delete into the chunk-id-scoped delete their
// underlying indexes expect.
func (s *Store) ChunkIDsForDoc(ctx context.Context, docID model.DocId) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id FROM chunks WHERE collection = ? AND external_id = ? AND version = ?`,
		docID.Collection, docID.ExternalID, docID.Version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ChunkListEntry is one row of a chunk listing, used by the MCP
// resource front door to enumerate indexed chunks as resources.
type ChunkListEntry struct {
	ChunkID string
	URI     string
	Title   string
}

// ListChunks returns up to limit chunks, optionally restricted to one
// collection, newest-indexed first.
func (s *Store) ListChunks(ctx context.Context, collection string, limit int) ([]ChunkListEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT chunk_id, uri, title FROM chunks`
	args := []any{}
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY indexed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkListEntry
	for rows.Next() {
		var e ChunkListEntry
		if err := rows.Scan(&e.ChunkID, &e.URI, &e.Title); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetChunks implements orchestrate.ChunkMetadataStore.
func (s *Store) GetChunks(ctx context.Context, chunkIDs []string) (map[string]orchestrate.ChunkMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]orchestrate.ChunkMeta, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT chunk_id, title, uri, snippet, section_path, tags, metadata FROM chunks WHERE chunk_id IN (%s)`, joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var chunkID, title, uri, snippet, sectionJSON, tagsJSON, metaJSON string
		if err := rows.Scan(&chunkID, &title, &uri, &snippet, &sectionJSON, &tagsJSON, &metaJSON); err != nil {
			return nil, err
		}
		var sectionPath, tags []string
		_ = json.Unmarshal([]byte(sectionJSON), &sectionPath)
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		var metadata map[string]string
		_ = json.Unmarshal([]byte(metaJSON), &metadata)

		out[chunkID] = orchestrate.ChunkMeta{
			URI: uri, Title: title, Snippet: snippet, SectionPath: sectionPath, Tags: tags, Metadata: metadata,
		}
	}
	return out, rows.Err()
}

// ChunkCount implements reconcile.ChunkCounter against the chunks
// table (the document-store's own record, independent of the lexical/
// vector index backends).
func (s *Store) ChunkCount(ctx context.Context, docID model.DocId) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE collection = ? AND external_id = ? AND version = ?`,
		docID.Collection, docID.ExternalID, docID.Version)
	var count int
	err := row.Scan(&count)
	return count, err
}

// DeleteChunks removes a document's chunk metadata, used by the
// Coordinator's delete protocol alongside the lexical/vector deletes.
func (s *Store) DeleteChunks(ctx context.Context, docID model.DocId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ? AND external_id = ? AND version = ?`,
		docID.Collection, docID.ExternalID, docID.Version)
	return err
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}
