package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samskara-labs/chitragupta/session"
)

// SaveSession inserts or replaces a session's index row.
func (s *Store) SaveSession(ctx context.Context, meta session.Meta) error {
	start := time.Now()
	s.logger.Debug("sqlite: save session", "id", meta.ID, "project", meta.Project, "turns", meta.TurnCount)

	var tagsJSON *string
	if len(meta.Tags) > 0 {
		data, _ := json.Marshal(meta.Tags)
		v := string(data)
		tagsJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, project, title, created, updated, agent, model, cost, tokens, tags, parent, branch, turn_count, file_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Project, meta.Title, meta.Created, meta.Updated, meta.Agent, meta.Model,
		meta.Cost, meta.Tokens, tagsJSON, nullable(meta.Parent), nullable(meta.Branch), meta.TurnCount, meta.FilePath,
	)
	if err != nil {
		s.logger.Error("sqlite: save session failed", "id", meta.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save session: %w", err)
	}
	s.logger.Debug("sqlite: save session ok", "id", meta.ID, "duration", time.Since(start))
	return nil
}

// GetSession returns one session's index row when present.
func (s *Store) GetSession(ctx context.Context, id string) (session.Meta, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project, title, created, updated, agent, model, cost, tokens, tags, parent, branch, turn_count, file_path
		 FROM sessions WHERE id = ?`, id)
	meta, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Meta{}, false, nil
	}
	if err != nil {
		return session.Meta{}, false, fmt.Errorf("get session: %w", err)
	}
	return meta, true, nil
}

// ListSessions returns index rows most recently updated first, optionally
// filtered by project ("" for all).
func (s *Store) ListSessions(ctx context.Context, project string) ([]session.Meta, error) {
	start := time.Now()
	q := `SELECT id, project, title, created, updated, agent, model, cost, tokens, tags, parent, branch, turn_count, file_path
		 FROM sessions`
	var args []any
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY updated DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var metas []session.Meta
	for rows.Next() {
		meta, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		metas = append(metas, meta)
	}
	s.logger.Debug("sqlite: list sessions ok", "project", project, "count", len(metas), "duration", time.Since(start))
	return metas, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (session.Meta, error) {
	var meta session.Meta
	var agent, model, tags, parent, branch sql.NullString
	if err := r.Scan(&meta.ID, &meta.Project, &meta.Title, &meta.Created, &meta.Updated,
		&agent, &model, &meta.Cost, &meta.Tokens, &tags, &parent, &branch, &meta.TurnCount, &meta.FilePath); err != nil {
		return session.Meta{}, err
	}
	meta.Agent = agent.String
	meta.Model = model.String
	meta.Parent = parent.String
	meta.Branch = branch.String
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &meta.Tags)
	}
	return meta, nil
}

// InsertTurn inserts or replaces one turn row and its full-text shadow.
func (s *Store) InsertTurn(ctx context.Context, t session.Turn) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO turns (session_id, turn_number, role, content, created)
		 VALUES (?, ?, ?, ?, ?)`,
		t.SessionID, t.TurnNumber, t.Role, t.Content, t.Created,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	// FTS5 has no primary key; replace any shadow row by hand.
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM turns_fts WHERE session_id = ? AND turn_number = ?`, t.SessionID, t.TurnNumber)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO turns_fts (session_id, turn_number, content) VALUES (?, ?, ?)`,
		t.SessionID, t.TurnNumber, t.Content); err != nil {
		return fmt.Errorf("index turn: %w", err)
	}
	s.logger.Debug("sqlite: insert turn ok", "session_id", t.SessionID, "turn", t.TurnNumber, "duration", time.Since(start))
	return nil
}

// SearchTurns performs full-text search over turn content using FTS5.
// Results are sorted by relevance (FTS5 rank).
func (s *Store) SearchTurns(ctx context.Context, match, project string, limit int) ([]session.TurnHit, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search turns", "match", match, "project", project, "limit", limit)

	var q string
	args := []any{match}
	if project != "" {
		q = `SELECT f.session_id, f.turn_number, snippet(turns_fts, 2, '', '', '…', 12), f.rank
			FROM turns_fts f
			JOIN sessions s ON s.id = f.session_id
			WHERE turns_fts MATCH ? AND s.project = ?
			ORDER BY f.rank LIMIT ?`
		args = append(args, project)
	} else {
		q = `SELECT f.session_id, f.turn_number, snippet(turns_fts, 2, '', '', '…', 12), f.rank
			FROM turns_fts f
			WHERE turns_fts MATCH ?
			ORDER BY f.rank LIMIT ?`
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}
	defer rows.Close()

	var hits []session.TurnHit
	for rows.Next() {
		var h session.TurnHit
		var rank float64
		if err := rows.Scan(&h.SessionID, &h.TurnNumber, &h.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		// FTS5 rank is negative (closer to 0 = better). Use -rank as score.
		h.Rank = -rank
		if h.Rank < 0 {
			h.Rank = 0
		}
		hits = append(hits, h)
	}
	s.logger.Debug("sqlite: search turns ok", "returned", len(hits), "duration", time.Since(start))
	return hits, rows.Err()
}

// DeleteSession removes the session row, its turns, and their full-text
// shadows.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns_fts WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete turn index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Debug("sqlite: delete session ok", "id", id, "duration", time.Since(start))
	return nil
}

// SaveMemory inserts or replaces one memory impression.
func (s *Store) SaveMemory(ctx context.Context, e session.MemoryEntry) error {
	var embJSON *string
	if len(e.Embedding) > 0 {
		v := serializeEmbedding(e.Embedding)
		embJSON = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO samskaras (id, scope, content, updated_at, embedding)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Scope, e.Content, e.UpdatedAt, embJSON,
	)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// ListMemory returns all memory impressions, newest first.
func (s *Store) ListMemory(ctx context.Context) ([]session.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, content, updated_at, embedding FROM samskaras ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var entries []session.MemoryEntry
	for rows.Next() {
		var e session.MemoryEntry
		var embJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Scope, &e.Content, &e.UpdatedAt, &embJSON); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if embJSON.Valid {
			e.Embedding, _ = deserializeEmbedding(embJSON.String)
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

// serializeEmbedding stores vectors as compact JSON arrays.
func serializeEmbedding(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}

func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}
