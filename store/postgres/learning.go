package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/bocpd"
	"github.com/samskara-labs/chitragupta/kartavya"
	"github.com/samskara-labs/chitragupta/marga"
)

const stateKey = "bocpd_state"

// SaveState stores the detector's serialized posterior as one blob.
func (s *Store) SaveState(ctx context.Context, blob []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		stateKey, string(blob))
	if err != nil {
		return fmt.Errorf("postgres: save state: %w", err)
	}
	return nil
}

// LoadState returns the stored detector blob, if any.
func (s *Store) LoadState(ctx context.Context) ([]byte, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, stateKey).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: load state: %w", err)
	}
	return []byte(value), true, nil
}

// SaveVasana inserts or updates a trait, keyed by (project, feature).
func (s *Store) SaveVasana(ctx context.Context, v bocpd.Vasana) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vasanas (id, project, feature_key, strength, stability, reinforcement_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project, feature_key) DO UPDATE SET
		   strength = EXCLUDED.strength,
		   stability = EXCLUDED.stability,
		   reinforcement_count = EXCLUDED.reinforcement_count,
		   updated_at = EXCLUDED.updated_at`,
		v.ID, v.Project, v.FeatureKey, v.Strength, v.Stability, v.ReinforcementCount, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save vasana: %w", err)
	}
	return nil
}

// GetVasana returns the trait for one project and feature, if present.
func (s *Store) GetVasana(ctx context.Context, project, feature string) (bocpd.Vasana, bool, error) {
	var v bocpd.Vasana
	err := s.pool.QueryRow(ctx,
		`SELECT id, project, feature_key, strength, stability, reinforcement_count, created_at, updated_at
		 FROM vasanas WHERE project = $1 AND feature_key = $2`, project, feature).
		Scan(&v.ID, &v.Project, &v.FeatureKey, &v.Strength, &v.Stability, &v.ReinforcementCount, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return bocpd.Vasana{}, false, nil
	}
	if err != nil {
		return bocpd.Vasana{}, false, fmt.Errorf("postgres: get vasana: %w", err)
	}
	return v, true, nil
}

// ListVasanas returns traits, optionally filtered by project ("" for all).
func (s *Store) ListVasanas(ctx context.Context, project string) ([]bocpd.Vasana, error) {
	q := `SELECT id, project, feature_key, strength, stability, reinforcement_count, created_at, updated_at FROM vasanas`
	var args []any
	if project != "" {
		q += ` WHERE project = $1`
		args = append(args, project)
	}
	q += ` ORDER BY strength DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vasanas: %w", err)
	}
	defer rows.Close()

	var out []bocpd.Vasana
	for rows.Next() {
		var v bocpd.Vasana
		if err := rows.Scan(&v.ID, &v.Project, &v.FeatureKey, &v.Strength, &v.Stability, &v.ReinforcementCount, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vasana: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveConsolidationRule appends one crystallization audit row.
func (s *Store) SaveConsolidationRule(ctx context.Context, r bocpd.ConsolidationRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consolidation_rules (id, project, feature_key, kind, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Project, r.FeatureKey, r.Kind, r.Detail, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save consolidation rule: %w", err)
	}
	return nil
}

// SaveDuty inserts or replaces one duty row.
func (s *Store) SaveDuty(ctx context.Context, d kartavya.Kartavya) error {
	var fired, payload []byte
	if len(d.Fired) > 0 {
		fired, _ = json.Marshal(d.Fired)
	}
	if len(d.Action.Payload) > 0 {
		payload = d.Action.Payload
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kartavyas (id, name, status, trigger_type, trigger_condition, cooldown_ms, last_fired,
			action_type, action_payload, confidence, success_count, failure_count, last_executed, project, vasana_id, fired, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   status = EXCLUDED.status,
		   trigger_type = EXCLUDED.trigger_type,
		   trigger_condition = EXCLUDED.trigger_condition,
		   cooldown_ms = EXCLUDED.cooldown_ms,
		   last_fired = EXCLUDED.last_fired,
		   action_type = EXCLUDED.action_type,
		   action_payload = EXCLUDED.action_payload,
		   confidence = EXCLUDED.confidence,
		   success_count = EXCLUDED.success_count,
		   failure_count = EXCLUDED.failure_count,
		   last_executed = EXCLUDED.last_executed,
		   fired = EXCLUDED.fired,
		   updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, string(d.Status), string(d.Trigger.Type), d.Trigger.Condition, d.Trigger.CooldownMs, d.Trigger.LastFired,
		d.Action.Type, payload, d.Confidence, d.SuccessCount, d.FailureCount, d.LastExecuted,
		d.Project, d.VasanaID, fired, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save duty: %w", err)
	}
	return nil
}

// ListDuties returns duties, optionally filtered by project ("" for all).
func (s *Store) ListDuties(ctx context.Context, project string) ([]kartavya.Kartavya, error) {
	q := `SELECT id, name, status, trigger_type, trigger_condition, cooldown_ms, last_fired,
			action_type, action_payload, confidence, success_count, failure_count, last_executed, project, vasana_id, fired, created_at, updated_at
		 FROM kartavyas`
	var args []any
	if project != "" {
		q += ` WHERE project = $1`
		args = append(args, project)
	}
	q += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list duties: %w", err)
	}
	defer rows.Close()

	var out []kartavya.Kartavya
	for rows.Next() {
		var d kartavya.Kartavya
		var status, triggerType string
		var payload, fired []byte
		if err := rows.Scan(&d.ID, &d.Name, &status, &triggerType, &d.Trigger.Condition, &d.Trigger.CooldownMs, &d.Trigger.LastFired,
			&d.Action.Type, &payload, &d.Confidence, &d.SuccessCount, &d.FailureCount, &d.LastExecuted,
			&d.Project, &d.VasanaID, &fired, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan duty: %w", err)
		}
		d.Status = kartavya.Status(status)
		d.Trigger.Type = kartavya.TriggerType(triggerType)
		if payload != nil {
			d.Action.Payload = json.RawMessage(payload)
		}
		if fired != nil {
			_ = json.Unmarshal(fired, &d.Fired)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveProposal appends one proposal decision row.
func (s *Store) SaveProposal(ctx context.Context, p kartavya.NiyamaProposal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO niyama_proposals (id, kartavya_id, vasana_id, project, status, reason, created_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   reason = EXCLUDED.reason,
		   decided_at = EXCLUDED.decided_at`,
		p.ID, p.KartavyaID, p.VasanaID, p.Project, p.Status, p.Reason, p.CreatedAt, p.DecidedAt)
	if err != nil {
		return fmt.Errorf("postgres: save proposal: %w", err)
	}
	return nil
}

// SaveDecision appends one routing decision to the audit trail.
func (s *Store) SaveDecision(ctx context.Context, sessionID string, d marga.Decision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (id, session_id, provider_id, model_id, task_type, resolution, complexity, confidence, skip_llm, abstain, rationale, decision_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		chitragupta.NewID(), sessionID, d.ProviderID, d.ModelID, string(d.TaskType), string(d.Resolution), string(d.Complexity),
		d.Confidence, d.SkipLLM, d.Abstain, d.Rationale, d.DecisionTimeMs, chitragupta.NowUnixMilli())
	if err != nil {
		return fmt.Errorf("postgres: save decision: %w", err)
	}
	return nil
}
