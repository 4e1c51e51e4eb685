package rag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// FTSQuery is one full-text lookup over issue chunks.
type FTSQuery struct {
	Match    string
	Service  string
	Severity string
	Limit    int
}

// FTSRow is a raw full-text match. BM25 is lower-is-better.
type FTSRow struct {
	ChunkID string
	DocID   string
	Text    string
	Source  string
	BM25    float64
	Snippet string
}

// FullTextIndex answers full-text queries over issue chunks.
type FullTextIndex interface {
	Search(ctx context.Context, q FTSQuery) ([]FTSRow, error)
}

var (
	// ErrFullTextIndexMissing is returned when the index file does not exist.
	ErrFullTextIndexMissing = errors.New("full-text index not found")
	// ErrFTS5Unavailable is returned when the linked SQLite has no FTS5
	// module. Build with -tags sqlite_fts5 (see the Makefile).
	ErrFTS5Unavailable = errors.New("sqlite built without fts5 (build with -tags sqlite_fts5)")
)

// FTS5Compiled reports whether this binary was built with the sqlite_fts5 tag.
func FTS5Compiled() bool { return fts5Compiled }

// FTSStore implements FullTextIndex over an SQLite FTS5 table. The binary
// must be built with the sqlite_fts5 tag; OpenFTSStore returns
// ErrFTS5Unavailable otherwise.
type FTSStore struct {
	db *sql.DB
}

type ftsOptions struct {
	readOnly bool
}

// FTSOption configures OpenFTSStore.
type FTSOption func(*ftsOptions)

// WithReadOnly opens an existing index without creating it.
func WithReadOnly() FTSOption {
	return func(o *ftsOptions) { o.readOnly = true }
}

// OpenFTSStore opens the index at path. In read-only mode a missing file is
// reported as ErrFullTextIndexMissing.
func OpenFTSStore(path string, opts ...FTSOption) (*FTSStore, error) {
	var options ftsOptions
	for _, opt := range opts {
		opt(&options)
	}

	dsn := "file:" + path
	if options.readOnly {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrFullTextIndexMissing
			}
			return nil, fmt.Errorf("stat index: %w", err)
		}
		dsn += "?" + url.Values{"mode": {"ro"}}.Encode()
	}
	if !fts5Compiled {
		return nil, ErrFTS5Unavailable
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(4)
	return &FTSStore{db: db}, nil
}

// Close releases the database handle.
func (s *FTSStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const ftsSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	source TEXT NOT NULL,
	text TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	project TEXT,
	priority TEXT
);
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(chunk_id UNINDEXED, text);
`

// EnsureSchema creates the chunk and FTS tables.
func (s *FTSStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ftsSchema); err != nil {
		if IsMissingFTSModule(err) {
			return fmt.Errorf("ensure fts schema: %w", ErrFTS5Unavailable)
		}
		return fmt.Errorf("ensure fts schema: %w", err)
	}
	return nil
}

// CheckFTS5 asks the linked SQLite library whether FTS5 was compiled in. It
// catches builds linked against a system library that lacks the module.
func (s *FTSStore) CheckFTS5(ctx context.Context) error {
	var used int
	if err := s.db.QueryRowContext(ctx, `SELECT sqlite_compileoption_used('ENABLE_FTS5')`).Scan(&used); err != nil {
		return fmt.Errorf("probe fts5: %w", err)
	}
	if used == 0 {
		return ErrFTS5Unavailable
	}
	return nil
}

// IndexedChunk is a row written by the ingestion side.
type IndexedChunk struct {
	ChunkID      string
	DocID        string
	Source       string
	Text         string
	MetadataJSON string
	Project      string
	Priority     string
}

// InsertChunk writes a chunk and its FTS row.
func (s *FTSStore) InsertChunk(ctx context.Context, chunk IndexedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := chunk.MetadataJSON
	if meta == "" {
		meta = "{}"
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunks (chunk_id, doc_id, source, text, metadata_json, project, priority) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ChunkID, chunk.DocID, chunk.Source, chunk.Text, meta, chunk.Project, chunk.Priority,
	); err != nil {
		return fmt.Errorf("insert chunk %s: %w", chunk.ChunkID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunks_fts (chunk_id, text) VALUES (?, ?)`,
		chunk.ChunkID, chunk.Text,
	); err != nil {
		return fmt.Errorf("insert fts row %s: %w", chunk.ChunkID, err)
	}
	return tx.Commit()
}

// Search runs a bm25-ordered MATCH restricted to ticket and incident-log
// sources.
func (s *FTSStore) Search(ctx context.Context, q FTSQuery) ([]FTSRow, error) {
	if strings.TrimSpace(q.Match) == "" {
		return nil, nil
	}

	where := []string{"chunks_fts MATCH ?", "c.source IN ('jira', 'incident_event_log')"}
	args := []any{q.Match}
	if service := strings.TrimSpace(q.Service); service != "" {
		where = append(where, "(LOWER(c.project) = LOWER(?) OR LOWER(c.text) LIKE ?)")
		args = append(args, service, "%"+strings.ToLower(service)+"%")
	}
	if severity := strings.TrimSpace(q.Severity); severity != "" {
		where = append(where, "(LOWER(c.priority) = LOWER(?) OR LOWER(c.text) LIKE ?)")
		args = append(args, severity, "%"+strings.ToLower(severity)+"%")
	}
	args = append(args, max(q.Limit, 1))

	query := fmt.Sprintf(`
SELECT c.chunk_id, c.doc_id, c.text, c.source,
       bm25(chunks_fts) AS bm25_score,
       snippet(chunks_fts, 1, '[', ']', ' ... ', 18) AS snippet
FROM chunks_fts
JOIN chunks c ON c.chunk_id = chunks_fts.chunk_id
WHERE %s
ORDER BY bm25_score ASC
LIMIT ?`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []FTSRow
	for rows.Next() {
		var (
			row     FTSRow
			snippet sql.NullString
		)
		if err := rows.Scan(&row.ChunkID, &row.DocID, &row.Text, &row.Source, &row.BM25, &snippet); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		row.Snippet = snippet.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fts rows: %w", err)
	}
	return out, nil
}

// IsMissingFTSModule reports whether err comes from an SQLite build without
// FTS5.
func IsMissingFTSModule(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such module: fts5")
}
