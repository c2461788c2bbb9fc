// Package sqlite implements the persisted index on pure-Go SQLite:
// session metadata, turn full-text search via FTS5, memory impressions,
// learned traits, duties, and routing decisions. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/bocpd"
	"github.com/samskara-labs/chitragupta/kartavya"
	"github.com/samskara-labs/chitragupta/marga"
	"github.com/samskara-labs/chitragupta/session"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is the single local relational index backed by a SQLite file.
// Embeddings are stored as JSON text; vector scoring happens in-process.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ session.Index = (*Store)(nil)
var _ bocpd.Store = (*Store)(nil)
var _ kartavya.Store = (*Store)(nil)
var _ marga.Sink = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: chitragupta.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates all required tables idempotently.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			title TEXT NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			agent TEXT,
			model TEXT,
			cost REAL NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			parent TEXT,
			branch TEXT,
			turn_count INTEGER NOT NULL DEFAULT 0,
			file_path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created INTEGER NOT NULL,
			PRIMARY KEY (session_id, turn_number)
		)`,
		`CREATE TABLE IF NOT EXISTS samskaras (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			content TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			embedding TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS vasanas (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			feature_key TEXT NOT NULL,
			strength REAL NOT NULL,
			stability REAL NOT NULL,
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (project, feature_key)
		)`,
		`CREATE TABLE IF NOT EXISTS consolidation_rules (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			feature_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			resolution TEXT NOT NULL,
			complexity TEXT NOT NULL,
			confidence REAL NOT NULL,
			skip_llm INTEGER NOT NULL DEFAULT 0,
			abstain INTEGER NOT NULL DEFAULT 0,
			rationale TEXT,
			decision_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kartavyas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			trigger_condition TEXT NOT NULL,
			cooldown_ms INTEGER NOT NULL,
			last_fired INTEGER NOT NULL DEFAULT 0,
			action_type TEXT,
			action_payload TEXT,
			confidence REAL NOT NULL,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_executed INTEGER NOT NULL DEFAULT 0,
			project TEXT,
			vasana_id TEXT,
			fired TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS niyama_proposals (
			id TEXT PRIMARY KEY,
			kartavya_id TEXT NOT NULL,
			vasana_id TEXT,
			project TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			created_at INTEGER NOT NULL,
			decided_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Migrations (best-effort, silent fail if already applied)
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE sessions ADD COLUMN parent TEXT")
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE sessions ADD COLUMN branch TEXT")
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE samskaras ADD COLUMN embedding TEXT")
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE kartavyas ADD COLUMN fired TEXT")

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_kartavyas_project ON kartavyas(project)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_vasanas_feature ON vasanas(feature_key)`)

	// FTS5 full-text index over turn content.
	_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(session_id UNINDEXED, turn_number UNINDEXED, content)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}
