// Package store implements PAMPAX's reference storage backend (spec §6):
// a SQLite-backed implementation of the Hybrid Retriever's Backend and
// the Graph BFS Expander's EdgeLookup, with an FTS5 virtual table for
// lexical search, a sqlite-vec vec0 virtual table for ANN, and a
// repo-scoped memory-facts table. Schema setup, the sql.Open +
// directory-creation dance, and the vec0 virtual-table wiring are
// grounded on codeNERD's former local store and vector store
// (internal/store/local.go, internal/store/vector_store.go): the same
// "open, mkdir -p the parent, initialize schema, detect the vec
// extension" sequence, generalized from codeNERD's agent-memory schema to
// the chunk/edge/memory-fact schema spec §3 and §6 describe.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"pampax/internal/pampax"
	"pampax/internal/retrieval"
)

// ErrDimensionMismatch is returned by SearchVectorEmbedding when the query
// embedding's dimension doesn't match the index's configured dimension.
// The vector sub-retriever treats this as a soft failure (spec §7) rather
// than aborting the whole retrieval: a dimension mismatch almost always
// means the caller's embedding model changed out from under an existing
// index, not a transient storage fault, so failing just this one source
// and surfacing it in Explanation is more useful than retrying it.
var ErrDimensionMismatch = errors.New("store: query embedding dimension does not match index dimension")

// Store is the SQLite-backed reference implementation of the storage
// contract. It satisfies retrieval.Backend and graphexpand.EdgeLookup.
type Store struct {
	db        *sql.DB
	vectorExt bool
	dim       int
}

// Open creates (if needed) the parent directory, opens the SQLite
// database at path, and initializes the chunk/edge/memory/FTS5 schema.
// embeddingDim <= 0 skips vec0 index creation (the caller has no vector
// retrieval configured).
func Open(path string, embeddingDim int) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db, dim: embeddingDim}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if embeddingDim > 0 {
		s.initVecIndex(embeddingDim)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL,
			path TEXT NOT NULL,
			start_byte INTEGER, end_byte INTEGER,
			start_line INTEGER, end_line INTEGER,
			language TEXT, content TEXT, content_hash TEXT,
			span_kind TEXT, token_count INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			confidence REAL NOT NULL,
			PRIMARY KEY (src, dst, edge_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst)`,
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_facts(repo_id, scope, kind, key)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			id UNINDEXED, content, path UNINDEXED
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema setup: %w", err)
		}
	}
	return nil
}

// initVecIndex creates the vec0 ANN table for chunk embeddings. Creation
// failure (e.g. the sqlite-vec extension isn't loaded) degrades to
// vectorExt=false rather than failing Open — vector retrieval is a soft
// failure at query time per spec §4.6/§7, not a startup-fatal condition.
func (s *Store) initVecIndex(dim int) {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d], chunk_id TEXT)", dim)
	if _, err := s.db.Exec(stmt); err == nil {
		s.vectorExt = true
	}
}

func encodeEmbedding(v []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// InsertChunk upserts a chunk and mirrors it into the FTS index.
func (s *Store) InsertChunk(ctx context.Context, c pampax.Chunk) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, repo_id, path, start_byte, end_byte, start_line, end_line, language, content, content_hash, span_kind, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, content_hash=excluded.content_hash, token_count=excluded.token_count`,
		c.ID, c.RepoID, c.Path, c.StartByte, c.EndByte, c.StartLine, c.EndLine, c.Language, c.Content, c.ContentHash, c.SpanKind, c.TokenCount,
	)
	if err != nil {
		return fmt.Errorf("store: insert chunk: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks_fts WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("store: refresh fts index: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO chunks_fts(id, content, path) VALUES (?, ?, ?)`, c.ID, c.Content, c.Path)
	if err != nil {
		return fmt.Errorf("store: index chunk for fts: %w", err)
	}
	return nil
}

// InsertEdge upserts a directed typed edge.
func (s *Store) InsertEdge(ctx context.Context, e pampax.Edge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (src, dst, edge_type, confidence) VALUES (?, ?, ?, ?)
		ON CONFLICT(src, dst, edge_type) DO UPDATE SET confidence=excluded.confidence`,
		e.From, e.To, string(e.Type), e.Confidence,
	)
	if err != nil {
		return fmt.Errorf("store: insert edge: %w", err)
	}
	return nil
}

// InsertEmbedding stores a chunk's embedding vector in the vec0 index, if
// one was configured. No-op when no vector dimension was set at Open.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	if !s.vectorExt {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO vec_index (embedding, chunk_id) VALUES (?, ?)`, encodeEmbedding(embedding), chunkID)
	if err != nil {
		return fmt.Errorf("store: insert embedding: %w", err)
	}
	return nil
}

// GetChunk implements graphexpand.EdgeLookup / the storage contract's
// get_chunk(id).
func (s *Store) GetChunk(ctx context.Context, id string) (pampax.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, repo_id, path, start_byte, end_byte, start_line, end_line, language, content, content_hash, span_kind, token_count FROM chunks WHERE id = ?`, id)
	var c pampax.Chunk
	var spanKind string
	if err := row.Scan(&c.ID, &c.RepoID, &c.Path, &c.StartByte, &c.EndByte, &c.StartLine, &c.EndLine, &c.Language, &c.Content, &c.ContentHash, &spanKind, &c.TokenCount); err != nil {
		return pampax.Chunk{}, fmt.Errorf("store: get chunk %s: %w", id, err)
	}
	c.SpanKind = pampax.SpanKind(spanKind)
	return c, nil
}

// OutgoingEdges implements graphexpand.EdgeLookup's get_outgoing_edges.
func (s *Store) OutgoingEdges(ctx context.Context, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error) {
	return s.queryEdges(ctx, "src", nodeID, types)
}

// IncomingEdges implements graphexpand.EdgeLookup's get_incoming_edges.
func (s *Store) IncomingEdges(ctx context.Context, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error) {
	return s.queryEdges(ctx, "dst", nodeID, types)
}

func (s *Store) queryEdges(ctx context.Context, col, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error) {
	query := fmt.Sprintf("SELECT src, dst, edge_type, confidence FROM edges WHERE %s = ?", col)
	args := []interface{}{nodeID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND edge_type IN (" + joinPlaceholders(placeholders) + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query edges: %w", err)
	}
	defer rows.Close()

	var edges []pampax.Edge
	for rows.Next() {
		var e pampax.Edge
		var edgeType string
		if err := rows.Scan(&e.From, &e.To, &edgeType, &e.Confidence); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		e.Type = pampax.EdgeType(edgeType)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

// SearchBM25 implements retrieval.Backend over the FTS5 virtual table.
func (s *Store) SearchBM25(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.content, c.span_kind, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.id
		WHERE chunks_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: bm25 search: %w", err)
	}
	defer rows.Close()

	var out []pampax.SearchResult
	for rows.Next() {
		var r pampax.SearchResult
		var spanKind string
		var rank float64
		if err := rows.Scan(&r.ID, &r.Path, &r.Content, &spanKind, &rank); err != nil {
			return nil, fmt.Errorf("store: scan bm25 result: %w", err)
		}
		r.SpanKind = pampax.SpanKind(spanKind)
		r.Score = bm25RankToScore(rank)
		r.Metadata = map[string]interface{}{"spanId": r.ID}
		out = append(out, r)
	}
	return out, rows.Err()
}

// bm25RankToScore maps SQLite's bm25() rank (lower-is-better, unbounded
// negative) onto a positive similarity-style score for fusion with other
// retrievers.
func bm25RankToScore(rank float64) float64 {
	return 1.0 / (1.0 + -rank)
}

// SearchVector implements retrieval.Backend for the vector source. It has no
// query embedding to search with, so it always returns an error, which
// Retrieve records as a soft failure; the vec0 k-NN search itself is run by
// SearchVectorEmbedding.
func (s *Store) SearchVector(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	return nil, fmt.Errorf("store: vector search requires an embedding for the query; use SearchVectorEmbedding")
}

// SearchVectorEmbedding runs k-NN search given a precomputed query
// embedding. Callers that have an embedding pipeline wire this in instead
// of SearchVector.
func (s *Store) SearchVectorEmbedding(ctx context.Context, embedding []float32, opts retrieval.Options) ([]pampax.SearchResult, error) {
	if !s.vectorExt {
		return nil, fmt.Errorf("store: vector index not configured")
	}
	if len(embedding) != s.dim {
		return nil, ErrDimensionMismatch
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.content, c.span_kind, vec_distance_cosine(v.embedding, ?) AS dist
		FROM vec_index v
		JOIN chunks c ON c.id = v.chunk_id
		ORDER BY dist LIMIT ?`, encodeEmbedding(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("store: vector search: %w", err)
	}
	defer rows.Close()

	var out []pampax.SearchResult
	for rows.Next() {
		var r pampax.SearchResult
		var spanKind string
		var dist float64
		if err := rows.Scan(&r.ID, &r.Path, &r.Content, &spanKind, &dist); err != nil {
			return nil, fmt.Errorf("store: scan vector result: %w", err)
		}
		r.SpanKind = pampax.SpanKind(spanKind)
		r.Score = 1.0 - dist
		r.Metadata = map[string]interface{}{"spanId": r.ID}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchMemory implements retrieval.Backend over the memory-facts table:
// a simple substring match over key/value, since memory facts are small,
// curated, and not full-text indexed. The match runs over every repo's
// facts; it is not filtered by repo_id.
func (s *Store) SearchMemory(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, kind, key, value, weight FROM memory_facts
		WHERE key LIKE ? OR value LIKE ?
		ORDER BY weight DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: memory search: %w", err)
	}
	defer rows.Close()

	var out []pampax.SearchResult
	for rows.Next() {
		var id int64
		var scope, kind, key, value string
		var weight float64
		if err := rows.Scan(&id, &scope, &kind, &key, &value, &weight); err != nil {
			return nil, fmt.Errorf("store: scan memory result: %w", err)
		}
		out = append(out, pampax.SearchResult{
			ID:      fmt.Sprintf("memory:%d", id),
			Path:    scope + "/" + key,
			Content: value,
			Score:   weight,
			Metadata: map[string]interface{}{"spanId": fmt.Sprintf("memory:%d", id), "kind": kind},
		})
	}
	return out, rows.Err()
}

// SearchSymbol implements retrieval.Backend as a prefix match of the query
// against the content of symbol spans (function/class chunks).
func (s *Store) SearchSymbol(ctx context.Context, query string, opts retrieval.Options) ([]pampax.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, content, span_kind FROM chunks
		WHERE span_kind IN ('function','class') AND content LIKE ?
		LIMIT ?`, query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("store: symbol search: %w", err)
	}
	defer rows.Close()

	var out []pampax.SearchResult
	for rows.Next() {
		var r pampax.SearchResult
		var spanKind string
		if err := rows.Scan(&r.ID, &r.Path, &r.Content, &spanKind); err != nil {
			return nil, fmt.Errorf("store: scan symbol result: %w", err)
		}
		r.SpanKind = pampax.SpanKind(spanKind)
		r.Score = 1.0
		r.Metadata = map[string]interface{}{"spanId": r.ID}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertMemoryFact implements the storage contract's memory.insert.
func (s *Store) InsertMemoryFact(ctx context.Context, repoID, scope, kind, key, value string, weight float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO memory_facts (repo_id, scope, kind, key, value, weight) VALUES (?, ?, ?, ?, ?, ?)`,
		repoID, scope, kind, key, value, weight)
	if err != nil {
		return fmt.Errorf("store: insert memory fact: %w", err)
	}
	return nil
}

// MemoryFact is one row returned by QueryMemoryFacts.
type MemoryFact struct {
	Scope  string
	Kind   string
	Key    string
	Value  string
	Weight float64
}

// QueryMemoryFacts implements the storage contract's memory.query:
// repo-scoped lookup, optionally narrowed by scope and kind.
func (s *Store) QueryMemoryFacts(ctx context.Context, repoID, scope, kind string) ([]MemoryFact, error) {
	query := `SELECT scope, kind, key, value, weight FROM memory_facts WHERE repo_id = ?`
	args := []interface{}{repoID}
	if scope != "" {
		query += " AND scope = ?"
		args = append(args, scope)
	}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY weight DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query memory facts: %w", err)
	}
	defer rows.Close()

	var out []MemoryFact
	for rows.Next() {
		var f MemoryFact
		if err := rows.Scan(&f.Scope, &f.Kind, &f.Key, &f.Value, &f.Weight); err != nil {
			return nil, fmt.Errorf("store: scan memory fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
