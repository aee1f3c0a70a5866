package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements LoreStore on a single SQLite database. WAL mode
// allows queries to proceed while an ingest transaction is open; the
// connection pool is capped at one writer to avoid lock contention.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ LoreStore = (*SQLiteStore)(nil)

// loreSchemaVersion is the current lore.db schema version.
const loreSchemaVersion = 1

// NewSQLiteStore opens (or creates) the lore database at path. If path is
// empty an in-memory database is created for testing. Unlike the derived
// lexical index, a corrupt lore database is not auto-cleared: it is the
// source of truth, so corruption surfaces as an error.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		// The lore database is the source of truth. Corruption is an
		// error, never an auto-clear.
		if err := checkSQLiteIntegrity(path); err != nil {
			return nil, fmt.Errorf("lore database corrupt at %s: %w", path, err)
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

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// checkSQLiteIntegrity runs a quick integrity check against an existing
// database file. A missing file passes (it will be created).
func checkSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}

	return nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS passages (
		id         TEXT PRIMARY KEY,
		text       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS passage_metadata (
		passage_id TEXT PRIMARY KEY REFERENCES passages(id),
		season     INTEGER NOT NULL,
		episode    INTEGER NOT NULL,
		scene      INTEGER NOT NULL,
		slug       TEXT NOT NULL DEFAULT '',
		location   TEXT NOT NULL DEFAULT '',
		characters TEXT NOT NULL DEFAULT '[]',
		tags       TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_metadata_scope
		ON passage_metadata(season, episode);

	CREATE TABLE IF NOT EXISTS embeddings (
		passage_id TEXT NOT NULL REFERENCES passages(id),
		model      TEXT NOT NULL,
		dims       INTEGER NOT NULL,
		vector     BLOB NOT NULL,
		PRIMARY KEY (passage_id, model)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);

	CREATE TABLE IF NOT EXISTS entities (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		name            TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind_name
		ON entities(kind, normalized_name);

	CREATE TABLE IF NOT EXISTS entity_aliases (
		entity_id        TEXT NOT NULL REFERENCES entities(id),
		alias            TEXT NOT NULL,
		normalized_alias TEXT NOT NULL,
		PRIMARY KEY (entity_id, normalized_alias)
	);

	CREATE INDEX IF NOT EXISTS idx_aliases_norm
		ON entity_aliases(normalized_alias);

	CREATE TABLE IF NOT EXISTS engine_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`,
		loreSchemaVersion)
	return err
}

// SavePassage stores a passage, its metadata, and its embeddings in one
// transaction. Re-saving an existing ID replaces text, metadata, and the
// full embedding set while preserving the original creation time.
func (s *SQLiteStore) SavePassage(ctx context.Context, p *Passage, embeddings []*Embedding) error {
	if p == nil {
		return fmt.Errorf("passage is nil")
	}
	if p.ID == "" {
		return fmt.Errorf("passage ID is empty")
	}
	if p.Meta == nil {
		return fmt.Errorf("passage %s has no metadata", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	characters, err := marshalStringList(p.Meta.Characters)
	if err != nil {
		return fmt.Errorf("failed to encode characters for %s: %w", p.ID, err)
	}
	tags, err := marshalStringList(p.Meta.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for %s: %w", p.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Replace text but keep the original created_at on conflict.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO passages (id, text, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			updated_at = excluded.updated_at`,
		p.ID, p.Text, createdAt.Unix(), updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save passage %s: %w", p.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO passage_metadata
			(passage_id, season, episode, scene, slug, location, characters, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(passage_id) DO UPDATE SET
			season = excluded.season,
			episode = excluded.episode,
			scene = excluded.scene,
			slug = excluded.slug,
			location = excluded.location,
			characters = excluded.characters,
			tags = excluded.tags`,
		p.ID, p.Meta.Season, p.Meta.Episode, p.Meta.Scene,
		p.Meta.Slug, p.Meta.Location, characters, tags)
	if err != nil {
		return fmt.Errorf("failed to save metadata for %s: %w", p.ID, err)
	}

	// The embedding set is replaced wholesale so (passage, model)
	// uniqueness holds across model reconfigurations.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE passage_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear embeddings for %s: %w", p.ID, err)
	}

	if len(embeddings) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO embeddings (passage_id, model, dims, vector)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare embedding statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range embeddings {
			if e.PassageID != "" && e.PassageID != p.ID {
				return fmt.Errorf("embedding passage ID %s does not match passage %s", e.PassageID, p.ID)
			}
			dims := e.Dims
			if dims == 0 {
				dims = len(e.Vector)
			}
			if _, err := stmt.ExecContext(ctx, p.ID, e.Model, dims, encodeVector(e.Vector)); err != nil {
				return fmt.Errorf("failed to save embedding (%s, %s): %w", p.ID, e.Model, err)
			}
		}
	}

	return tx.Commit()
}

const passageColumns = `p.id, p.text, p.created_at, p.updated_at,
	m.season, m.episode, m.scene, m.slug, m.location, m.characters, m.tags`

// GetPassage returns a passage with its metadata, or nil if not found.
func (s *SQLiteStore) GetPassage(ctx context.Context, id string) (*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+passageColumns+`
		FROM passages p
		JOIN passage_metadata m ON m.passage_id = p.id
		WHERE p.id = ?`, id)

	p, err := scanPassage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passage %s: %w", id, err)
	}
	return p, nil
}

// GetPassages returns the passages for the given IDs in one query. Missing
// IDs are silently skipped; the result order follows the input order.
func (s *SQLiteStore) GetPassages(ctx context.Context, ids []string) ([]*Passage, error) {
	if len(ids) == 0 {
		return []*Passage{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders, args := sqlPlaceholders(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+passageColumns+`
		FROM passages p
		JOIN passage_metadata m ON m.passage_id = p.id
		WHERE p.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get passages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*Passage, len(ids))
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*Passage, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
			delete(byID, id)
		}
	}
	return result, nil
}

// ListPassages pages through all passages ordered by ID. Pass the returned
// cursor to fetch the next page; an empty cursor means the end.
func (s *SQLiteStore) ListPassages(ctx context.Context, cursor string, limit int) ([]*Passage, string, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, "", fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+passageColumns+`
		FROM passages p
		JOIN passage_metadata m ON m.passage_id = p.id
		WHERE p.id > ?
		ORDER BY p.id
		LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list passages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var passages []*Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan passage: %w", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(passages) == limit {
		nextCursor = passages[len(passages)-1].ID
	}
	return passages, nextCursor, nil
}

// DeletePassages removes passages with their metadata and embeddings.
func (s *SQLiteStore) DeletePassages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := sqlPlaceholders(ids)
	for _, q := range []string{
		"DELETE FROM embeddings WHERE passage_id IN (" + placeholders + ")",
		"DELETE FROM passage_metadata WHERE passage_id IN (" + placeholders + ")",
		"DELETE FROM passages WHERE id IN (" + placeholders + ")",
	} {
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to delete passages: %w", err)
		}
	}

	return tx.Commit()
}

// CountPassages returns the number of stored passages.
func (s *SQLiteStore) CountPassages(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return count, nil
}

// GetEmbeddingsByModel returns every stored embedding for one model, used to
// rebuild that model's vector partition.
func (s *SQLiteStore) GetEmbeddingsByModel(ctx context.Context, model string) ([]*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT passage_id, model, dims, vector
		FROM embeddings
		WHERE model = ?
		ORDER BY passage_id`, model)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var embeddings []*Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		if err := rows.Scan(&e.PassageID, &e.Model, &e.Dims, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		e.Vector = decodeVector(blob)
		embeddings = append(embeddings, &e)
	}
	return embeddings, rows.Err()
}

// EmbeddingStats returns the embedding count per model.
func (s *SQLiteStore) EmbeddingStats(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*) FROM embeddings GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[string]int)
	for rows.Next() {
		var model string
		var count int
		if err := rows.Scan(&model, &count); err != nil {
			return nil, fmt.Errorf("failed to scan embedding stats: %w", err)
		}
		stats[model] = count
	}
	return stats, rows.Err()
}

// SaveEntities upserts entity records. An existing ID has its fields and
// alias set replaced.
func (s *SQLiteStore) SaveEntities(ctx context.Context, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entityStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities
			(id, kind, name, normalized_name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			normalized_name = excluded.normalized_name,
			description = excluded.description,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare entity statement: %w", err)
	}
	defer func() { _ = entityStmt.Close() }()

	aliasStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO entity_aliases (entity_id, alias, normalized_alias)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare alias statement: %w", err)
	}
	defer func() { _ = aliasStmt.Close() }()

	now := time.Now()
	for _, e := range entities {
		if e.ID == "" {
			return fmt.Errorf("entity %q has no ID", e.Name)
		}
		if e.Name == "" {
			return fmt.Errorf("entity %s has no name", e.ID)
		}

		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		updatedAt := e.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}

		_, err = entityStmt.ExecContext(ctx,
			e.ID, string(e.Kind), e.Name, NormalizeName(e.Name),
			e.Description, createdAt.Unix(), updatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to save entity %s: %w", e.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entity_aliases WHERE entity_id = ?`, e.ID); err != nil {
			return fmt.Errorf("failed to clear aliases for %s: %w", e.ID, err)
		}
		for _, alias := range e.Aliases {
			norm := NormalizeName(alias)
			if norm == "" {
				continue
			}
			if _, err := aliasStmt.ExecContext(ctx, e.ID, alias, norm); err != nil {
				return fmt.Errorf("failed to save alias %q for %s: %w", alias, e.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetEntity returns an entity with its aliases, or nil if not found.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, description, created_at, updated_at
		FROM entities WHERE id = ?`, id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}

	aliases, err := s.fetchAliases(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	e.Aliases = aliases[id]
	return e, nil
}

// ListEntities returns all entities of a kind, ordered by name. An empty
// kind returns every entity.
func (s *SQLiteStore) ListEntities(ctx context.Context, kind EntityKind) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `SELECT id, kind, name, description, created_at, updated_at FROM entities`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []*Entity
	var ids []string
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aliases, err := s.fetchAliases(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		e.Aliases = aliases[e.ID]
	}
	return entities, nil
}

// LookupEntities finds entities matching any of the candidate names.
// Matches are ranked by confidence: exact normalized-name match (1.0), then
// alias match (0.9), then fuzzy substring match on name or alias (0.6).
// Each entity appears once at its highest confidence. A kind of "" matches
// all kinds. Every condition is bound as a parameter.
func (s *SQLiteStore) LookupEntities(ctx context.Context, kind EntityKind, candidates []string, limit int) ([]*EntityMatch, error) {
	norm := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if n := NormalizeName(c); n != "" {
			norm = append(norm, n)
		}
	}
	if len(norm) == 0 {
		return []*EntityMatch{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	confidence := make(map[string]float64)

	record := func(ids []string, conf float64) {
		for _, id := range ids {
			if existing, ok := confidence[id]; !ok || conf > existing {
				confidence[id] = conf
			}
		}
	}

	// Exact normalized-name matches.
	placeholders, args := sqlPlaceholders(norm)
	exactQuery := `SELECT id FROM entities WHERE normalized_name IN (` + placeholders + `)`
	if kind != "" {
		exactQuery += ` AND kind = ?`
		args = append(args, string(kind))
	}
	ids, err := s.queryIDs(ctx, exactQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("exact lookup failed: %w", err)
	}
	record(ids, ConfidenceExact)

	// Alias matches.
	placeholders, args = sqlPlaceholders(norm)
	aliasQuery := `
		SELECT DISTINCT e.id
		FROM entities e
		JOIN entity_aliases a ON a.entity_id = e.id
		WHERE a.normalized_alias IN (` + placeholders + `)`
	if kind != "" {
		aliasQuery += ` AND e.kind = ?`
		args = append(args, string(kind))
	}
	ids, err = s.queryIDs(ctx, aliasQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("alias lookup failed: %w", err)
	}
	record(ids, ConfidenceAlias)

	// Fuzzy substring matches on name or alias, one query per candidate.
	for _, n := range norm {
		fuzzyQuery := `
			SELECT DISTINCT e.id
			FROM entities e
			LEFT JOIN entity_aliases a ON a.entity_id = e.id
			WHERE (e.normalized_name LIKE '%' || ? || '%'
				OR a.normalized_alias LIKE '%' || ? || '%')`
		fuzzyArgs := []any{n, n}
		if kind != "" {
			fuzzyQuery += ` AND e.kind = ?`
			fuzzyArgs = append(fuzzyArgs, string(kind))
		}
		ids, err = s.queryIDs(ctx, fuzzyQuery, fuzzyArgs...)
		if err != nil {
			return nil, fmt.Errorf("fuzzy lookup failed: %w", err)
		}
		record(ids, ConfidenceFuzzy)
	}

	if len(confidence) == 0 {
		return []*EntityMatch{}, nil
	}

	// Order by confidence, then ID for a stable result.
	orderedIDs := make([]string, 0, len(confidence))
	for id := range confidence {
		orderedIDs = append(orderedIDs, id)
	}
	sortByConfidence(orderedIDs, confidence)
	if len(orderedIDs) > limit {
		orderedIDs = orderedIDs[:limit]
	}

	entities, err := s.getEntitiesLocked(ctx, orderedIDs)
	if err != nil {
		return nil, err
	}

	matches := make([]*EntityMatch, 0, len(entities))
	for _, e := range entities {
		matches = append(matches, &EntityMatch{Entity: e, Confidence: confidence[e.ID]})
	}
	return matches, nil
}

// DeleteEntities removes entities and their aliases.
func (s *SQLiteStore) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := sqlPlaceholders(ids)
	for _, q := range []string{
		"DELETE FROM entity_aliases WHERE entity_id IN (" + placeholders + ")",
		"DELETE FROM entities WHERE id IN (" + placeholders + ")",
	} {
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to delete entities: %w", err)
		}
	}

	return tx.Commit()
}

// CountEntities returns the number of stored entities.
func (s *SQLiteStore) CountEntities(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return count, nil
}

// GetState returns the value for a state key, or "" if not set.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a state key-value pair.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
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

// ===== helpers =====

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPassage(row rowScanner) (*Passage, error) {
	var p Passage
	var m PassageMetadata
	var createdAt, updatedAt int64
	var characters, tags string

	err := row.Scan(&p.ID, &p.Text, &createdAt, &updatedAt,
		&m.Season, &m.Episode, &m.Scene, &m.Slug, &m.Location,
		&characters, &tags)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	m.PassageID = p.ID
	if m.Characters, err = unmarshalStringList(characters); err != nil {
		return nil, fmt.Errorf("corrupt characters list for %s: %w", p.ID, err)
	}
	if m.Tags, err = unmarshalStringList(tags); err != nil {
		return nil, fmt.Errorf("corrupt tags list for %s: %w", p.ID, err)
	}
	p.Meta = &m
	return &p, nil
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var kind string
	var createdAt, updatedAt int64

	err := row.Scan(&e.ID, &kind, &e.Name, &e.Description, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Kind = EntityKind(kind)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

// fetchAliases loads the alias lists for a set of entity IDs.
// Callers must hold at least a read lock.
func (s *SQLiteStore) fetchAliases(ctx context.Context, ids []string) (map[string][]string, error) {
	result := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders, args := sqlPlaceholders(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, alias
		FROM entity_aliases
		WHERE entity_id IN (`+placeholders+`)
		ORDER BY alias`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var entityID, alias string
		if err := rows.Scan(&entityID, &alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		result[entityID] = append(result[entityID], alias)
	}
	return result, rows.Err()
}

// getEntitiesLocked loads entities by ID preserving the input order.
// Callers must hold at least a read lock.
func (s *SQLiteStore) getEntitiesLocked(ctx context.Context, ids []string) ([]*Entity, error) {
	if len(ids) == 0 {
		return []*Entity{}, nil
	}

	placeholders, args := sqlPlaceholders(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, description, created_at, updated_at
		FROM entities
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*Entity, len(ids))
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aliases, err := s.fetchAliases(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			e.Aliases = aliases[id]
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

// sqlPlaceholders builds "?, ?, ?" and the matching args slice.
func sqlPlaceholders(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}

// sortByConfidence orders IDs by descending confidence, then ascending ID.
func sortByConfidence(ids []string, confidence map[string]float64) {
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := confidence[ids[i]], confidence[ids[j]]
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})
}

func marshalStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStringList(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// encodeVector serializes a vector as little-endian float32 bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 byte blob.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
