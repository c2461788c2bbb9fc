// Package kartavya is the duty engine: recurring behaviors proposed from
// learned traits, approved by a human or auto-promoted, then fired by
// cron, event, threshold, or pattern triggers with per-duty cooldown and
// rate caps.
package kartavya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/bocpd"
)

// Status is a duty's lifecycle state.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetired   Status = "retired"
)

// TriggerType selects how a duty's condition is evaluated.
type TriggerType string

const (
	TriggerCron      TriggerType = "cron"
	TriggerEvent     TriggerType = "event"
	TriggerThreshold TriggerType = "threshold"
	TriggerPattern   TriggerType = "pattern"
)

// Trigger is the firing rule for a duty. LastFired is unix millis, zero
// when the duty has never fired.
type Trigger struct {
	Type       TriggerType `json:"type"`
	Condition  string      `json:"condition"`
	CooldownMs int64       `json:"cooldownMs"`
	LastFired  int64       `json:"lastFired,omitempty"`
}

// Action is what a fired duty asks the runtime to do.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Kartavya is one recurring duty.
type Kartavya struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       Status  `json:"status"`
	Trigger      Trigger `json:"trigger"`
	Action       Action  `json:"action"`
	Confidence   float64 `json:"confidence"`
	SuccessCount int     `json:"successCount"`
	FailureCount int     `json:"failureCount"`
	LastExecuted int64   `json:"lastExecuted,omitempty"`
	Project      string  `json:"project"`
	VasanaID     string  `json:"vasanaId,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	UpdatedAt    int64   `json:"updatedAt"`

	// Fired holds recent firing stamps (unix millis) for the hourly cap.
	Fired []int64 `json:"fired,omitempty"`
}

// NiyamaProposal is the audit record of one proposal decision.
type NiyamaProposal struct {
	ID         string `json:"id"`
	KartavyaID string `json:"kartavyaId"`
	VasanaID   string `json:"vasanaId,omitempty"`
	Project    string `json:"project"`
	Status     string `json:"status"` // pending, approved, rejected, auto
	Reason     string `json:"reason,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	DecidedAt  int64  `json:"decidedAt,omitempty"`
}

// Store persists duties and proposal decisions. store/sqlite and
// store/postgres both implement it.
type Store interface {
	SaveDuty(ctx context.Context, d Kartavya) error
	ListDuties(ctx context.Context, project string) ([]Kartavya, error)
	SaveProposal(ctx context.Context, p NiyamaProposal) error
}

var (
	ErrLowConfidence  = errors.New("kartavya: confidence below proposal threshold")
	ErrDutyNotFound   = errors.New("kartavya: duty not found")
	ErrMaxActive      = errors.New("kartavya: active duty limit reached")
	ErrBadTransition  = errors.New("kartavya: invalid status transition")
	ErrDutyExists     = errors.New("kartavya: duty already proposed")
	ErrEmptyName      = errors.New("kartavya: duty name required")
	ErrBadTriggerType = errors.New("kartavya: unknown trigger type")
	ErrEmptyCondition = errors.New("kartavya: trigger condition required")
)

const (
	defaultMinConfidence = 0.7
	cooldownFloorMs      = 10_000
	maxActiveCeiling     = 100
	rateCapCeiling       = 60
	autoPauseMinRuns     = 5
	autoPauseFailRate    = 0.5
)

// Config tunes the engine. Zero values take defaults; MaxActive and
// MaxExecutionsPerHour are clamped to hard ceilings.
type Config struct {
	MinConfidence        float64
	MaxActive            int
	MaxExecutionsPerHour int
	// AutoApproveThreshold is the strength×accuracy composite above
	// which AutoPromote approves a proposal without a human.
	AutoApproveThreshold float64
	Logger               *slog.Logger
	Now                  func() time.Time
}

func (c *Config) defaults() {
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	if c.MaxActive <= 0 || c.MaxActive > maxActiveCeiling {
		c.MaxActive = maxActiveCeiling
	}
	if c.MaxExecutionsPerHour <= 0 || c.MaxExecutionsPerHour > rateCapCeiling {
		c.MaxExecutionsPerHour = rateCapCeiling
	}
	if c.AutoApproveThreshold <= 0 {
		c.AutoApproveThreshold = 0.6
	}
	if c.Logger == nil {
		c.Logger = chitragupta.NopLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine holds the live duty set. The store, when present, is written
// through on every mutation; the in-memory map stays authoritative.
type Engine struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	duties map[string]*Kartavya
	crons  *cronCache
}

// NewEngine creates a duty engine. The store may be nil for an
// in-memory-only engine.
func NewEngine(cfg Config, store Store) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: cfg.Logger,
		duties: make(map[string]*Kartavya),
		crons:  newCronCache(),
	}
}

// DutyID derives the stable duty id from its name and backing vasana.
func DutyID(name, vasanaID string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte("|"))
	h.Write([]byte(vasanaID))
	return fmt.Sprintf("duty-%08x", h.Sum32())
}

// ProposeRequest is the input to Propose.
type ProposeRequest struct {
	Name       string
	Project    string
	VasanaID   string
	Trigger    Trigger
	Action     Action
	Confidence float64
}

// Propose validates and registers a new duty in proposed status,
// recording a pending niyama proposal. Cooldown is clamped to the floor.
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (Kartavya, error) {
	if req.Name == "" {
		return Kartavya{}, ErrEmptyName
	}
	if req.Confidence < e.cfg.MinConfidence {
		return Kartavya{}, fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, req.Confidence, e.cfg.MinConfidence)
	}
	switch req.Trigger.Type {
	case TriggerCron, TriggerEvent, TriggerThreshold, TriggerPattern:
	default:
		return Kartavya{}, fmt.Errorf("%w: %q", ErrBadTriggerType, req.Trigger.Type)
	}
	if req.Trigger.Condition == "" {
		return Kartavya{}, ErrEmptyCondition
	}
	if req.Trigger.CooldownMs < cooldownFloorMs {
		req.Trigger.CooldownMs = cooldownFloorMs
	}

	id := DutyID(req.Name, req.VasanaID)
	now := e.cfg.Now().UnixMilli()

	e.mu.Lock()
	if _, ok := e.duties[id]; ok {
		e.mu.Unlock()
		return Kartavya{}, fmt.Errorf("%w: %s", ErrDutyExists, id)
	}
	d := &Kartavya{
		ID:         id,
		Name:       req.Name,
		Status:     StatusProposed,
		Trigger:    req.Trigger,
		Action:     req.Action,
		Confidence: req.Confidence,
		Project:    req.Project,
		VasanaID:   req.VasanaID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	e.duties[id] = d
	snapshot := *d
	e.mu.Unlock()

	if err := e.saveDuty(ctx, snapshot); err != nil {
		return Kartavya{}, err
	}
	if err := e.saveProposal(ctx, NiyamaProposal{
		ID:         chitragupta.NewID(),
		KartavyaID: id,
		VasanaID:   req.VasanaID,
		Project:    req.Project,
		Status:     "pending",
		CreatedAt:  now,
	}); err != nil {
		return Kartavya{}, err
	}
	e.logger.Info("duty proposed", "id", id, "name", req.Name, "trigger", req.Trigger.Type)
	return snapshot, nil
}

// Approve activates a proposed duty with counters zeroed. Fails when the
// active set is at capacity.
func (e *Engine) Approve(ctx context.Context, id string) (Kartavya, error) {
	return e.decide(ctx, id, "approved", "")
}

// Reject marks the proposal rejected and retires the duty.
func (e *Engine) Reject(ctx context.Context, id, reason string) error {
	_, err := e.decide(ctx, id, "rejected", reason)
	return err
}

func (e *Engine) decide(ctx context.Context, id, decision, reason string) (Kartavya, error) {
	now := e.cfg.Now().UnixMilli()

	e.mu.Lock()
	d, ok := e.duties[id]
	if !ok {
		e.mu.Unlock()
		return Kartavya{}, fmt.Errorf("%w: %s", ErrDutyNotFound, id)
	}
	if d.Status != StatusProposed {
		e.mu.Unlock()
		return Kartavya{}, fmt.Errorf("%w: %s is %s", ErrBadTransition, id, d.Status)
	}
	if decision == "approved" {
		if e.activeCountLocked() >= e.cfg.MaxActive {
			e.mu.Unlock()
			return Kartavya{}, ErrMaxActive
		}
		d.Status = StatusActive
		d.SuccessCount = 0
		d.FailureCount = 0
	} else {
		d.Status = StatusRetired
	}
	d.UpdatedAt = now
	snapshot := *d
	e.mu.Unlock()

	if err := e.saveDuty(ctx, snapshot); err != nil {
		return Kartavya{}, err
	}
	if err := e.saveProposal(ctx, NiyamaProposal{
		ID:         chitragupta.NewID(),
		KartavyaID: id,
		VasanaID:   snapshot.VasanaID,
		Project:    snapshot.Project,
		Status:     decision,
		Reason:     reason,
		CreatedAt:  now,
		DecidedAt:  now,
	}); err != nil {
		return Kartavya{}, err
	}
	e.logger.Info("duty "+decision, "id", id)
	return snapshot, nil
}

// AutoPromote approves proposed duties whose backing vasana scores
// strength×stability at or above the auto-approve threshold, best first,
// until the active set is full. Returns the duties it activated.
func (e *Engine) AutoPromote(ctx context.Context, vasanas []bocpd.Vasana) ([]Kartavya, error) {
	byVasana := make(map[string]float64, len(vasanas))
	for _, v := range vasanas {
		byVasana[v.ID] = v.Strength * v.Stability
	}

	e.mu.Lock()
	type candidate struct {
		id    string
		score float64
	}
	var ranked []candidate
	for id, d := range e.duties {
		if d.Status != StatusProposed || d.VasanaID == "" {
			continue
		}
		score, ok := byVasana[d.VasanaID]
		if !ok || score < e.cfg.AutoApproveThreshold {
			continue
		}
		ranked = append(ranked, candidate{id: id, score: score})
	}
	e.mu.Unlock()

	sort.Slice(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	var promoted []Kartavya
	for _, c := range ranked {
		d, err := e.decide(ctx, c.id, "approved", fmt.Sprintf("auto-promoted at %.3f", c.score))
		if errors.Is(err, ErrMaxActive) {
			break
		}
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, d)
	}
	return promoted, nil
}

// Pause suspends an active duty.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusActive, StatusPaused)
}

// Resume reactivates a paused duty.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusPaused, StatusActive)
}

// Complete marks an active duty done.
func (e *Engine) Complete(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusActive, StatusCompleted)
}

// Retire removes a duty from rotation regardless of pause state.
func (e *Engine) Retire(ctx context.Context, id string) error {
	if err := e.transition(ctx, id, StatusActive, StatusRetired); err == nil {
		return nil
	}
	return e.transition(ctx, id, StatusPaused, StatusRetired)
}

func (e *Engine) transition(ctx context.Context, id string, from, to Status) error {
	e.mu.Lock()
	d, ok := e.duties[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDutyNotFound, id)
	}
	if d.Status != from {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s, not %s", ErrBadTransition, id, d.Status, from)
	}
	d.Status = to
	d.UpdatedAt = e.cfg.Now().UnixMilli()
	snapshot := *d
	e.mu.Unlock()
	return e.saveDuty(ctx, snapshot)
}

// RecordExecution updates counters and confidence after a fired duty's
// action ran. Confidence rises with diminishing returns on success and
// decays on failure. Repeated failure auto-pauses the duty as failed.
func (e *Engine) RecordExecution(ctx context.Context, id string, success bool) (Kartavya, error) {
	now := e.cfg.Now().UnixMilli()

	e.mu.Lock()
	d, ok := e.duties[id]
	if !ok {
		e.mu.Unlock()
		return Kartavya{}, fmt.Errorf("%w: %s", ErrDutyNotFound, id)
	}
	if success {
		d.Confidence += 0.05 / (1 + math.Log(1+float64(d.SuccessCount)))
		if d.Confidence > 1 {
			d.Confidence = 1
		}
		d.SuccessCount++
	} else {
		d.Confidence *= 0.9
		d.FailureCount++
	}
	d.LastExecuted = now
	d.UpdatedAt = now

	total := d.SuccessCount + d.FailureCount
	if total >= autoPauseMinRuns && float64(d.FailureCount)/float64(total) > autoPauseFailRate {
		d.Status = StatusFailed
		e.logger.Warn("duty auto-paused after repeated failures", "id", id, "failures", d.FailureCount, "total", total)
	}
	snapshot := *d
	e.mu.Unlock()

	if err := e.saveDuty(ctx, snapshot); err != nil {
		return Kartavya{}, err
	}
	return snapshot, nil
}

// Get returns a duty by id.
func (e *Engine) Get(id string) (Kartavya, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.duties[id]
	if !ok {
		return Kartavya{}, false
	}
	return *d, true
}

// List returns duties, optionally filtered by project ("" for all).
func (e *Engine) List(project string) []Kartavya {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Kartavya
	for _, d := range e.duties {
		if project == "" || d.Project == project {
			out = append(out, *d)
		}
	}
	return out
}

// Restore loads the duty set from the store, replacing in-memory state.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	duties, err := e.store.ListDuties(ctx, "")
	if err != nil {
		return fmt.Errorf("restore duties: %w", err)
	}
	e.mu.Lock()
	e.duties = make(map[string]*Kartavya, len(duties))
	for i := range duties {
		d := duties[i]
		e.duties[d.ID] = &d
	}
	e.mu.Unlock()
	e.logger.Debug("duties restored", "count", len(duties))
	return nil
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, d := range e.duties {
		if d.Status == StatusActive {
			n++
		}
	}
	return n
}

func (e *Engine) saveDuty(ctx context.Context, d Kartavya) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveDuty(ctx, d); err != nil {
		return fmt.Errorf("save duty: %w", err)
	}
	return nil
}

func (e *Engine) saveProposal(ctx context.Context, p NiyamaProposal) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveProposal(ctx, p); err != nil {
		return fmt.Errorf("save proposal: %w", err)
	}
	return nil
}
