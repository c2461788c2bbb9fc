package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/kartavya"
	"github.com/samskara-labs/chitragupta/marga"
)

// SaveDuty inserts or replaces one duty row.
func (s *Store) SaveDuty(ctx context.Context, d kartavya.Kartavya) error {
	start := time.Now()

	var payload *string
	if len(d.Action.Payload) > 0 {
		v := string(d.Action.Payload)
		payload = &v
	}
	var fired *string
	if len(d.Fired) > 0 {
		data, _ := json.Marshal(d.Fired)
		v := string(data)
		fired = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kartavyas (id, name, status, trigger_type, trigger_condition, cooldown_ms, last_fired,
			action_type, action_payload, confidence, success_count, failure_count, last_executed, project, vasana_id, fired, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Status), string(d.Trigger.Type), d.Trigger.Condition, d.Trigger.CooldownMs, d.Trigger.LastFired,
		d.Action.Type, payload, d.Confidence, d.SuccessCount, d.FailureCount, d.LastExecuted, d.Project, d.VasanaID, fired, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: save duty failed", "id", d.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save duty: %w", err)
	}
	s.logger.Debug("sqlite: save duty ok", "id", d.ID, "status", d.Status, "duration", time.Since(start))
	return nil
}

// ListDuties returns duties, optionally filtered by project ("" for all).
func (s *Store) ListDuties(ctx context.Context, project string) ([]kartavya.Kartavya, error) {
	q := `SELECT id, name, status, trigger_type, trigger_condition, cooldown_ms, last_fired,
			action_type, action_payload, confidence, success_count, failure_count, last_executed, project, vasana_id, fired, created_at, updated_at
		 FROM kartavyas`
	var args []any
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list duties: %w", err)
	}
	defer rows.Close()

	var out []kartavya.Kartavya
	for rows.Next() {
		var d kartavya.Kartavya
		var status, triggerType string
		var actionType, payload, proj, vasanaID, fired sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &status, &triggerType, &d.Trigger.Condition, &d.Trigger.CooldownMs, &d.Trigger.LastFired,
			&actionType, &payload, &d.Confidence, &d.SuccessCount, &d.FailureCount, &d.LastExecuted, &proj, &vasanaID, &fired, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan duty: %w", err)
		}
		d.Status = kartavya.Status(status)
		d.Trigger.Type = kartavya.TriggerType(triggerType)
		d.Action.Type = actionType.String
		if payload.Valid {
			d.Action.Payload = json.RawMessage(payload.String)
		}
		d.Project = proj.String
		d.VasanaID = vasanaID.String
		if fired.Valid {
			_ = json.Unmarshal([]byte(fired.String), &d.Fired)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveProposal appends one proposal decision row.
func (s *Store) SaveProposal(ctx context.Context, p kartavya.NiyamaProposal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO niyama_proposals (id, kartavya_id, vasana_id, project, status, reason, created_at, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.KartavyaID, p.VasanaID, p.Project, p.Status, p.Reason, p.CreatedAt, p.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("save proposal: %w", err)
	}
	return nil
}

// ListProposals returns the proposal audit trail for one duty, oldest
// first.
func (s *Store) ListProposals(ctx context.Context, kartavyaID string) ([]kartavya.NiyamaProposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kartavya_id, vasana_id, project, status, reason, created_at, decided_at
		 FROM niyama_proposals WHERE kartavya_id = ? ORDER BY created_at`, kartavyaID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []kartavya.NiyamaProposal
	for rows.Next() {
		var p kartavya.NiyamaProposal
		var vasanaID, project, reason sql.NullString
		if err := rows.Scan(&p.ID, &p.KartavyaID, &vasanaID, &project, &p.Status, &reason, &p.CreatedAt, &p.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		p.VasanaID = vasanaID.String
		p.Project = project.String
		p.Reason = reason.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveDecision appends one routing decision to the audit trail.
func (s *Store) SaveDecision(ctx context.Context, sessionID string, d marga.Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, session_id, provider_id, model_id, task_type, resolution, complexity, confidence, skip_llm, abstain, rationale, decision_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chitragupta.NewID(), sessionID, d.ProviderID, d.ModelID, string(d.TaskType), string(d.Resolution), string(d.Complexity),
		d.Confidence, boolInt(d.SkipLLM), boolInt(d.Abstain), d.Rationale, d.DecisionTimeMs, chitragupta.NowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// DecisionRecord is one persisted routing decision.
type DecisionRecord struct {
	ID             string
	SessionID      string
	ProviderID     string
	ModelID        string
	TaskType       string
	Resolution     string
	Complexity     string
	Confidence     float64
	SkipLLM        bool
	Abstain        bool
	Rationale      string
	DecisionTimeMs int64
	CreatedAt      int64
}

// ListDecisions returns a session's routing decisions, oldest first.
func (s *Store) ListDecisions(ctx context.Context, sessionID string, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, provider_id, model_id, task_type, resolution, complexity, confidence, skip_llm, abstain, rationale, decision_time_ms, created_at
		 FROM decisions WHERE session_id = ? ORDER BY created_at LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var skip, abstain int
		var rationale sql.NullString
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ProviderID, &r.ModelID, &r.TaskType, &r.Resolution, &r.Complexity,
			&r.Confidence, &skip, &abstain, &rationale, &r.DecisionTimeMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.SkipLLM = skip != 0
		r.Abstain = abstain != 0
		r.Rationale = rationale.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
