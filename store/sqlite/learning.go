package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samskara-labs/chitragupta/bocpd"
)

const stateKey = "bocpd_state"

// SaveState stores the detector's serialized posterior as one blob.
func (s *Store) SaveState(ctx context.Context, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, stateKey, string(blob))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.logger.Debug("sqlite: detector state saved", "bytes", len(blob))
	return nil
}

// LoadState returns the stored detector blob, if any.
func (s *Store) LoadState(ctx context.Context) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, stateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load state: %w", err)
	}
	return []byte(value), true, nil
}

// SaveVasana inserts or updates a trait, keyed by (project, feature).
func (s *Store) SaveVasana(ctx context.Context, v bocpd.Vasana) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vasanas (id, project, feature_key, strength, stability, reinforcement_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project, feature_key) DO UPDATE SET
			strength = excluded.strength,
			stability = excluded.stability,
			reinforcement_count = excluded.reinforcement_count,
			updated_at = excluded.updated_at`,
		v.ID, v.Project, v.FeatureKey, v.Strength, v.Stability, v.ReinforcementCount, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save vasana: %w", err)
	}
	s.logger.Debug("sqlite: save vasana ok", "project", v.Project, "feature", v.FeatureKey, "duration", time.Since(start))
	return nil
}

// GetVasana returns the trait for one project and feature, if present.
func (s *Store) GetVasana(ctx context.Context, project, feature string) (bocpd.Vasana, bool, error) {
	var v bocpd.Vasana
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project, feature_key, strength, stability, reinforcement_count, created_at, updated_at
		 FROM vasanas WHERE project = ? AND feature_key = ?`, project, feature).
		Scan(&v.ID, &v.Project, &v.FeatureKey, &v.Strength, &v.Stability, &v.ReinforcementCount, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return bocpd.Vasana{}, false, nil
	}
	if err != nil {
		return bocpd.Vasana{}, false, fmt.Errorf("get vasana: %w", err)
	}
	return v, true, nil
}

// ListVasanas returns traits, optionally filtered by project ("" for all).
func (s *Store) ListVasanas(ctx context.Context, project string) ([]bocpd.Vasana, error) {
	q := `SELECT id, project, feature_key, strength, stability, reinforcement_count, created_at, updated_at FROM vasanas`
	var args []any
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY strength DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list vasanas: %w", err)
	}
	defer rows.Close()

	var out []bocpd.Vasana
	for rows.Next() {
		var v bocpd.Vasana
		if err := rows.Scan(&v.ID, &v.Project, &v.FeatureKey, &v.Strength, &v.Stability, &v.ReinforcementCount, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vasana: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveConsolidationRule appends one crystallization audit row.
func (s *Store) SaveConsolidationRule(ctx context.Context, r bocpd.ConsolidationRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO consolidation_rules (id, project, feature_key, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.FeatureKey, r.Kind, r.Detail, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save consolidation rule: %w", err)
	}
	return nil
}

// ListConsolidationRules returns the audit trail for one project, newest
// first.
func (s *Store) ListConsolidationRules(ctx context.Context, project string) ([]bocpd.ConsolidationRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, feature_key, kind, detail, created_at
		 FROM consolidation_rules WHERE project = ? ORDER BY created_at DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("list consolidation rules: %w", err)
	}
	defer rows.Close()

	var out []bocpd.ConsolidationRule
	for rows.Next() {
		var r bocpd.ConsolidationRule
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.Project, &r.FeatureKey, &r.Kind, &detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan consolidation rule: %w", err)
		}
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}
