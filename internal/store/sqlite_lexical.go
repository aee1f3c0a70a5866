package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5. WAL mode
// allows the MCP server and CLI to share one index across processes.
type SQLiteLexicalIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// validateLexicalIntegrity checks that an existing lexical database is
// usable. Returns nil if valid, an error describing the corruption if not.
func validateLexicalIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
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

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_passages'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_passages' missing")
	}

	return nil
}

// NewSQLiteLexicalIndex creates an FTS5-backed lexical index at path. If
// path is empty, the index lives in memory for testing. The index is
// derived state rebuildable from the lore database, so a corrupt file is
// cleared and recreated rather than surfaced as an error.
func NewSQLiteLexicalIndex(path string) (*SQLiteLexicalIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateLexicalIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params alone
	// are not applied.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteLexicalIndex{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

func (s *SQLiteLexicalIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- passage_id, season, and episode are UNINDEXED: stored for filtering
	-- and identification, not searched.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_passages USING fts5(
		passage_id UNINDEXED,
		season UNINDEXED,
		episode UNINDEXED,
		content,
		tokenize='unicode61'
	);

	-- FTS5 doesn't expose document counts reliably, so indexed IDs are
	-- tracked in a shadow table.
	CREATE TABLE IF NOT EXISTS indexed_ids (
		passage_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Index adds documents to the index. Content is normalized with the prose
// tokenizer so queries and documents agree on term boundaries. An existing
// document ID is updated (delete + insert: FTS5 has no REPLACE).
func (s *SQLiteLexicalIndex) Index(ctx context.Context, docs []*LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fts_passages WHERE passage_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_passages(passage_id, season, episode, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO indexed_ids(passage_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ID statement: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		content := strings.Join(Tokenize(doc.Text), " ")

		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, doc.Season, doc.Episode, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns candidate passages matching any of the keywords, ranked
// by BM25. Callers oversample and rescore, so the BM25 order only has to
// surface plausible candidates. Scope filters are bound as parameters.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, keywords []string, filter *ScopeFilter, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := normalizeKeywords(keywords)
	if len(terms) == 0 {
		return []*LexicalResult{}, nil
	}

	// Quote each term so it cannot be parsed as FTS5 syntax; OR-join so a
	// passage matching any keyword is a candidate.
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	matchExpr := strings.Join(quoted, " OR ")

	query := `
		SELECT passage_id, content, bm25(fts_passages) as score
		FROM fts_passages
		WHERE content MATCH ?`
	args := []any{matchExpr}

	if filter != nil {
		if filter.Season > 0 {
			query += ` AND season = ?`
			args = append(args, filter.Season)
		}
		if filter.Episode > 0 {
			query += ` AND episode = ?`
			args = append(args, filter.Episode)
		}
	}

	query += `
		ORDER BY score
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		// FTS5 returns an error for unparseable match queries; treat as
		// no results.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var passageID, content string
		var score float64
		if err := rows.Scan(&passageID, &content, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &LexicalResult{
			PassageID: passageID,
			// FTS5 bm25() returns negative values where lower is better;
			// negate so higher is better (consistent with Bleve).
			Score:        -score,
			MatchedTerms: matchedTerms(content, terms),
		})
	}

	return results, rows.Err()
}

// Delete removes documents from the index.
func (s *SQLiteLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := sqlPlaceholders(ids)
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM fts_passages WHERE passage_id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM indexed_ids WHERE passage_id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("failed to delete document IDs: %w", err)
	}

	return tx.Commit()
}

// Stats returns index statistics.
func (s *SQLiteLexicalIndex) Stats(ctx context.Context) (*LexicalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexed_ids`).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	return &LexicalStats{DocumentCount: count}, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// normalizeKeywords lowercases and de-duplicates query keywords, dropping
// anything the tokenizer would not produce.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	var terms []string
	for _, kw := range keywords {
		for _, tok := range Tokenize(kw) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			terms = append(terms, tok)
		}
	}
	return terms
}

// matchedTerms reports which query terms occur in the stored content.
func matchedTerms(content string, terms []string) []string {
	padded := " " + content + " "
	var matched []string
	for _, t := range terms {
		if strings.Contains(padded, " "+t+" ") {
			matched = append(matched, t)
		}
	}
	return matched
}
