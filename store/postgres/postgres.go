// Package postgres implements the persisted index on PostgreSQL with
// tsvector full-text search over turn content.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samskara-labs/chitragupta/bocpd"
	"github.com/samskara-labs/chitragupta/kartavya"
	"github.com/samskara-labs/chitragupta/marga"
	"github.com/samskara-labs/chitragupta/session"
)

// Store implements the persisted index backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ session.Index = (*Store)(nil)
var _ bocpd.Store = (*Store)(nil)
var _ kartavya.Store = (*Store)(nil)
var _ marga.Sink = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			title TEXT NOT NULL,
			created BIGINT NOT NULL,
			updated BIGINT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			tokens BIGINT NOT NULL DEFAULT 0,
			tags JSONB,
			parent TEXT,
			branch TEXT,
			turn_count INTEGER NOT NULL DEFAULT 0,
			file_path TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_project_idx ON sessions(project)`,
		`CREATE INDEX IF NOT EXISTS sessions_updated_idx ON sessions(updated)`,

		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created BIGINT NOT NULL,
			PRIMARY KEY (session_id, turn_number)
		)`,
		`CREATE INDEX IF NOT EXISTS turns_fts_idx ON turns USING gin(to_tsvector('english', content))`,

		`CREATE TABLE IF NOT EXISTS samskaras (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			content TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			embedding TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS vasanas (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			feature_key TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			stability DOUBLE PRECISION NOT NULL,
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE (project, feature_key)
		)`,

		`CREATE TABLE IF NOT EXISTS consolidation_rules (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			feature_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			resolution TEXT NOT NULL,
			complexity TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			skip_llm BOOLEAN NOT NULL DEFAULT FALSE,
			abstain BOOLEAN NOT NULL DEFAULT FALSE,
			rationale TEXT NOT NULL DEFAULT '',
			decision_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS decisions_session_idx ON decisions(session_id)`,

		`CREATE TABLE IF NOT EXISTS kartavyas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_condition TEXT NOT NULL,
			cooldown_ms BIGINT NOT NULL,
			last_fired BIGINT NOT NULL DEFAULT 0,
			action_type TEXT NOT NULL DEFAULT '',
			action_payload JSONB,
			confidence DOUBLE PRECISION NOT NULL,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_executed BIGINT NOT NULL DEFAULT 0,
			project TEXT NOT NULL DEFAULT '',
			vasana_id TEXT NOT NULL DEFAULT '',
			fired JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS kartavyas_project_idx ON kartavyas(project)`,

		`CREATE TABLE IF NOT EXISTS niyama_proposals (
			id TEXT PRIMARY KEY,
			kartavya_id TEXT NOT NULL,
			vasana_id TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			decided_at BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- Sessions ---

// SaveSession inserts or replaces a session's index row.
func (s *Store) SaveSession(ctx context.Context, meta session.Meta) error {
	var tagsJSON []byte
	if len(meta.Tags) > 0 {
		tagsJSON, _ = json.Marshal(meta.Tags)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, project, title, created, updated, agent, model, cost, tokens, tags, parent, branch, turn_count, file_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		   project = EXCLUDED.project,
		   title = EXCLUDED.title,
		   created = EXCLUDED.created,
		   updated = EXCLUDED.updated,
		   agent = EXCLUDED.agent,
		   model = EXCLUDED.model,
		   cost = EXCLUDED.cost,
		   tokens = EXCLUDED.tokens,
		   tags = EXCLUDED.tags,
		   parent = EXCLUDED.parent,
		   branch = EXCLUDED.branch,
		   turn_count = EXCLUDED.turn_count,
		   file_path = EXCLUDED.file_path`,
		meta.ID, meta.Project, meta.Title, meta.Created, meta.Updated, meta.Agent, meta.Model,
		meta.Cost, meta.Tokens, tagsJSON, nullable(meta.Parent), nullable(meta.Branch), meta.TurnCount, meta.FilePath)
	if err != nil {
		return fmt.Errorf("postgres: save session: %w", err)
	}
	return nil
}

// GetSession returns one session's index row when present.
func (s *Store) GetSession(ctx context.Context, id string) (session.Meta, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project, title, created, updated, agent, model, cost, tokens, tags, parent, branch, turn_count, file_path
		 FROM sessions WHERE id = $1`, id)
	meta, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Meta{}, false, nil
	}
	if err != nil {
		return session.Meta{}, false, fmt.Errorf("postgres: get session: %w", err)
	}
	return meta, true, nil
}

// ListSessions returns index rows most recently updated first, optionally
// filtered by project ("" for all).
func (s *Store) ListSessions(ctx context.Context, project string) ([]session.Meta, error) {
	q := `SELECT id, project, title, created, updated, agent, model, cost, tokens, tags, parent, branch, turn_count, file_path
		 FROM sessions`
	var args []any
	if project != "" {
		q += ` WHERE project = $1`
		args = append(args, project)
	}
	q += ` ORDER BY updated DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var metas []session.Meta
	for rows.Next() {
		meta, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (session.Meta, error) {
	var meta session.Meta
	var tagsJSON []byte
	var parent, branch *string
	if err := r.Scan(&meta.ID, &meta.Project, &meta.Title, &meta.Created, &meta.Updated,
		&meta.Agent, &meta.Model, &meta.Cost, &meta.Tokens, &tagsJSON, &parent, &branch,
		&meta.TurnCount, &meta.FilePath); err != nil {
		return session.Meta{}, err
	}
	if tagsJSON != nil {
		_ = json.Unmarshal(tagsJSON, &meta.Tags)
	}
	if parent != nil {
		meta.Parent = *parent
	}
	if branch != nil {
		meta.Branch = *branch
	}
	return meta, nil
}

// InsertTurn inserts or replaces one turn row. The GIN expression index
// keeps it searchable without a shadow table.
func (s *Store) InsertTurn(ctx context.Context, t session.Turn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (session_id, turn_number, role, content, created)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, turn_number) DO UPDATE SET
		   role = EXCLUDED.role,
		   content = EXCLUDED.content,
		   created = EXCLUDED.created`,
		t.SessionID, t.TurnNumber, t.Role, t.Content, t.Created)
	if err != nil {
		return fmt.Errorf("postgres: insert turn: %w", err)
	}
	return nil
}

// SearchTurns performs full-text search over turn content using
// tsvector/tsquery with the GIN index.
func (s *Store) SearchTurns(ctx context.Context, match, project string, limit int) ([]session.TurnHit, error) {
	var q string
	args := []any{match, limit}
	if project != "" {
		q = `SELECT t.session_id, t.turn_number,
			ts_headline('english', t.content, plainto_tsquery('english', $1), 'StartSel=, StopSel=, MaxWords=12'),
			ts_rank(to_tsvector('english', t.content), plainto_tsquery('english', $1)) AS score
		 FROM turns t JOIN sessions s ON s.id = t.session_id
		 WHERE to_tsvector('english', t.content) @@ plainto_tsquery('english', $1) AND s.project = $3
		 ORDER BY score DESC
		 LIMIT $2`
		args = append(args, project)
	} else {
		q = `SELECT t.session_id, t.turn_number,
			ts_headline('english', t.content, plainto_tsquery('english', $1), 'StartSel=, StopSel=, MaxWords=12'),
			ts_rank(to_tsvector('english', t.content), plainto_tsquery('english', $1)) AS score
		 FROM turns t
		 WHERE to_tsvector('english', t.content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search turns: %w", err)
	}
	defer rows.Close()

	var hits []session.TurnHit
	for rows.Next() {
		var h session.TurnHit
		var rank float32
		if err := rows.Scan(&h.SessionID, &h.TurnNumber, &h.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("postgres: scan hit: %w", err)
		}
		h.Rank = float64(rank)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteSession removes the session row and its turns.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM turns WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete turns: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	return nil
}

// SaveMemory inserts or replaces one memory impression.
func (s *Store) SaveMemory(ctx context.Context, e session.MemoryEntry) error {
	var embJSON *string
	if len(e.Embedding) > 0 {
		data, _ := json.Marshal(e.Embedding)
		v := string(data)
		embJSON = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO samskaras (id, scope, content, updated_at, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   scope = EXCLUDED.scope,
		   content = EXCLUDED.content,
		   updated_at = EXCLUDED.updated_at,
		   embedding = EXCLUDED.embedding`,
		e.ID, e.Scope, e.Content, e.UpdatedAt, embJSON)
	if err != nil {
		return fmt.Errorf("postgres: save memory: %w", err)
	}
	return nil
}

// ListMemory returns all memory impressions, newest first.
func (s *Store) ListMemory(ctx context.Context) ([]session.MemoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scope, content, updated_at, embedding FROM samskaras ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memory: %w", err)
	}
	defer rows.Close()

	var entries []session.MemoryEntry
	for rows.Next() {
		var e session.MemoryEntry
		var embJSON *string
		if err := rows.Scan(&e.ID, &e.Scope, &e.Content, &e.UpdatedAt, &embJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		if embJSON != nil {
			_ = json.Unmarshal([]byte(*embJSON), &e.Embedding)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
