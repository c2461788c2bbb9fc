package bocpd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/samskara-labs/chitragupta"
)

// GlobalProject is the pseudo-project that holds promoted vasanas.
const GlobalProject = "__global__"

// Vasana is a crystallized behavioral trait for one feature within a
// project.
type Vasana struct {
	ID                 string  `json:"id"`
	Project            string  `json:"project"`
	FeatureKey         string  `json:"featureKey"`
	Strength           float64 `json:"strength"`
	Stability          float64 `json:"stability"`
	ReinforcementCount int     `json:"reinforcementCount"`
	CreatedAt          int64   `json:"createdAt"`
	UpdatedAt          int64   `json:"updatedAt"`
}

// ConsolidationRule records one crystallization or promotion event.
type ConsolidationRule struct {
	ID         string `json:"id"`
	Project    string `json:"project"`
	FeatureKey string `json:"featureKey"`
	Kind       string `json:"kind"` // crystallize, reinforce, promote
	Detail     string `json:"detail"`
	CreatedAt  int64  `json:"createdAt"`
}

// Store is the persistence backend for detector state and vasanas.
// store/sqlite and store/postgres both implement it.
type Store interface {
	SaveState(ctx context.Context, blob []byte) error
	LoadState(ctx context.Context) ([]byte, bool, error)
	SaveVasana(ctx context.Context, v Vasana) error
	GetVasana(ctx context.Context, project, feature string) (Vasana, bool, error)
	ListVasanas(ctx context.Context, project string) ([]Vasana, error)
	SaveConsolidationRule(ctx context.Context, r ConsolidationRule) error
}

const (
	initialStrength = 0.5
	holdoutSplit    = 0.7
	holdoutBand     = 1.5 // σ multiples around the train mean
	minHoldoutObs   = 10
)

// EndSession closes one session for the project: features that saw no
// change-point extend their stability streak, and features stable for the
// configured window crystallize into vasanas. Returns the vasanas created
// or reinforced.
func (e *Engine) EndSession(ctx context.Context, project string) ([]Vasana, error) {
	e.mu.Lock()
	type candidate struct {
		feature  string
		obs      []float64
		accuracy float64
	}
	var candidates []candidate
	for feature, st := range e.features {
		if st.Changed {
			st.Stable = 0
			st.Changed = false
			continue
		}
		st.Stable++
		if st.Stable < e.cfg.StabilityWindow {
			continue
		}
		obs := append([]float64(nil), e.observations[feature]...)
		candidates = append(candidates, candidate{feature: feature, obs: obs})
	}
	e.mu.Unlock()

	if e.store == nil {
		return nil, nil
	}

	var out []Vasana
	for _, c := range candidates {
		accuracy, ok := holdoutAccuracy(c.obs)
		if !ok || accuracy < e.cfg.AccuracyThreshold {
			continue
		}
		v, err := e.crystallize(ctx, project, c.feature, accuracy)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// holdoutAccuracy splits observations 70/30, fits mean and σ on the train
// part, and returns the fraction of test points within 1.5σ of the train
// mean.
func holdoutAccuracy(obs []float64) (float64, bool) {
	if len(obs) < minHoldoutObs {
		return 0, false
	}
	split := int(float64(len(obs)) * holdoutSplit)
	train, test := obs[:split], obs[split:]

	mean := 0.0
	for _, x := range train {
		mean += x
	}
	mean /= float64(len(train))
	variance := 0.0
	for _, x := range train {
		variance += (x - mean) * (x - mean)
	}
	sigma := math.Sqrt(variance / float64(len(train)))
	if sigma < sigmaFloor {
		sigma = sigmaFloor
	}

	within := 0
	for _, x := range test {
		if math.Abs(x-mean) <= holdoutBand*sigma {
			within++
		}
	}
	return float64(within) / float64(len(test)), true
}

// crystallize creates the vasana or reinforces an existing one with
// diminishing returns.
func (e *Engine) crystallize(ctx context.Context, project, feature string, accuracy float64) (Vasana, error) {
	now := chitragupta.NowUnixMilli()
	v, ok, err := e.store.GetVasana(ctx, project, feature)
	if err != nil {
		return Vasana{}, fmt.Errorf("get vasana: %w", err)
	}
	kind := "crystallize"
	if !ok {
		v = Vasana{
			ID:         chitragupta.NewID(),
			Project:    project,
			FeatureKey: feature,
			Strength:   initialStrength,
			Stability:  accuracy,
			CreatedAt:  now,
		}
	} else {
		kind = "reinforce"
		n := float64(v.ReinforcementCount)
		v.Strength += 0.1 / (1 + math.Log(1+n))
		if v.Strength > 1 {
			v.Strength = 1
		}
		v.ReinforcementCount++
		if accuracy > v.Stability {
			v.Stability = accuracy
		}
	}
	v.UpdatedAt = now
	if err := e.store.SaveVasana(ctx, v); err != nil {
		return Vasana{}, fmt.Errorf("save vasana: %w", err)
	}
	rule := ConsolidationRule{
		ID:         chitragupta.NewID(),
		Project:    project,
		FeatureKey: feature,
		Kind:       kind,
		Detail:     fmt.Sprintf("holdout accuracy %.3f", accuracy),
		CreatedAt:  now,
	}
	if err := e.store.SaveConsolidationRule(ctx, rule); err != nil {
		return Vasana{}, fmt.Errorf("save consolidation rule: %w", err)
	}
	e.logger.Info("vasana consolidated", "project", project, "feature", feature, "kind", kind, "strength", v.Strength)
	return v, nil
}

// PromoteGlobal merges traits present in enough distinct projects into a
// single global vasana whose strength is the contributors' mean and
// stability their max.
func (e *Engine) PromoteGlobal(ctx context.Context) ([]Vasana, error) {
	if e.store == nil {
		return nil, nil
	}
	all, err := e.store.ListVasanas(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list vasanas: %w", err)
	}

	byFeature := make(map[string][]Vasana)
	for _, v := range all {
		if v.Project == GlobalProject {
			continue
		}
		byFeature[v.FeatureKey] = append(byFeature[v.FeatureKey], v)
	}

	now := chitragupta.NowUnixMilli()
	var promoted []Vasana
	for feature, group := range byFeature {
		projects := make(map[string]bool)
		for _, v := range group {
			projects[v.Project] = true
		}
		if len(projects) < e.cfg.PromotionMinProjects {
			continue
		}
		strength, stability := 0.0, 0.0
		for _, v := range group {
			strength += v.Strength
			if v.Stability > stability {
				stability = v.Stability
			}
		}
		strength /= float64(len(group))

		g, ok, err := e.store.GetVasana(ctx, GlobalProject, feature)
		if err != nil {
			return promoted, fmt.Errorf("get global vasana: %w", err)
		}
		if !ok {
			g = Vasana{ID: chitragupta.NewID(), Project: GlobalProject, FeatureKey: feature, CreatedAt: now}
		}
		g.Strength = strength
		g.Stability = stability
		g.UpdatedAt = now
		if err := e.store.SaveVasana(ctx, g); err != nil {
			return promoted, fmt.Errorf("save global vasana: %w", err)
		}
		rule := ConsolidationRule{
			ID:         chitragupta.NewID(),
			Project:    GlobalProject,
			FeatureKey: feature,
			Kind:       "promote",
			Detail:     fmt.Sprintf("merged from %d projects", len(projects)),
			CreatedAt:  now,
		}
		if err := e.store.SaveConsolidationRule(ctx, rule); err != nil {
			return promoted, err
		}
		promoted = append(promoted, g)
		e.logger.Info("vasana promoted", "feature", feature, "projects", len(projects))
	}
	return promoted, nil
}

// persisted is the single-blob serialized form of the detector.
type persisted struct {
	Features     map[string]*featureState `json:"features"`
	Observations map[string][]float64     `json:"observations"`
}

// Persist serializes detector state into the store as one blob.
func (e *Engine) Persist(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	blob, err := json.Marshal(persisted{Features: e.features, Observations: e.observations})
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}
	if err := e.store.SaveState(ctx, blob); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Restore reloads detector state. A missing blob is a no-op; a corrupt
// blob clears state and continues rather than failing the engine.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	blob, ok, err := e.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return nil
	}
	var p persisted
	if err := json.Unmarshal(blob, &p); err != nil {
		e.mu.Lock()
		e.features = make(map[string]*featureState)
		e.observations = make(map[string][]float64)
		e.mu.Unlock()
		e.logger.Warn("corrupt detector state discarded", "error", err)
		return nil
	}
	e.mu.Lock()
	if p.Features != nil {
		e.features = p.Features
	}
	if p.Observations != nil {
		e.observations = p.Observations
	}
	e.mu.Unlock()
	return nil
}
