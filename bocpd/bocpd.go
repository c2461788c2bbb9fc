// Package bocpd implements Bayesian online change-point detection over
// per-feature observation streams. The run-length posterior is kept in
// log-domain with Normal-Gamma sufficient statistics; stable features
// crystallize into vasanas (learned traits) that persist through a
// relational store.
package bocpd

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/samskara-labs/chitragupta"
)

const (
	defaultLambda         = 50
	defaultMaxRunLength   = 200
	maxRunLengthCeiling   = 2000
	defaultCPThreshold    = 0.3
	defaultRevertWindow   = 5
	defaultConfirmRatio   = 0.5
	defaultMaxObservation = 500
	defaultStabilityWin   = 5
	defaultAccuracy       = 0.7
	defaultMinProjects    = 3

	sigmaFloor = 1e-15
)

// Config tunes the detector and the crystallization policy.
type Config struct {
	// Lambda is the expected run length; the hazard rate is 1/Lambda.
	Lambda float64
	// MaxRunLength bounds the posterior support (hard ceiling 2000).
	MaxRunLength int
	// ChangePointThreshold on exp(logR[0]) declares a regime break.
	ChangePointThreshold float64
	// AnomalyRevertWindow and AnomalyConfirmRatio separate one-off
	// anomalies from sustained change-points.
	AnomalyRevertWindow int
	AnomalyConfirmRatio float64
	// MaxObservations retained per feature for holdout validation.
	MaxObservations int
	// StabilityWindow is how many change-free sessions a feature needs
	// before crystallization is attempted.
	StabilityWindow int
	// AccuracyThreshold is the minimum holdout accuracy to crystallize.
	AccuracyThreshold float64
	// PromotionMinProjects is how many distinct projects a trait must
	// appear in before global promotion.
	PromotionMinProjects int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Lambda <= 0 {
		c.Lambda = defaultLambda
	}
	if c.MaxRunLength <= 0 {
		c.MaxRunLength = defaultMaxRunLength
	}
	if c.MaxRunLength > maxRunLengthCeiling {
		c.MaxRunLength = maxRunLengthCeiling
	}
	if c.ChangePointThreshold <= 0 {
		c.ChangePointThreshold = defaultCPThreshold
	}
	if c.AnomalyRevertWindow <= 0 {
		c.AnomalyRevertWindow = defaultRevertWindow
	}
	if c.AnomalyConfirmRatio <= 0 {
		c.AnomalyConfirmRatio = defaultConfirmRatio
	}
	if c.MaxObservations <= 0 {
		c.MaxObservations = defaultMaxObservation
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = defaultStabilityWin
	}
	if c.AccuracyThreshold <= 0 {
		c.AccuracyThreshold = defaultAccuracy
	}
	if c.PromotionMinProjects <= 0 {
		c.PromotionMinProjects = defaultMinProjects
	}
	if c.Logger == nil {
		c.Logger = chitragupta.NopLogger()
	}
}

// normalGamma holds conjugate sufficient statistics for one run length.
type normalGamma struct {
	Mu    float64 `json:"mu"`
	Kappa float64 `json:"kappa"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

var priorNG = normalGamma{Mu: 0, Kappa: 1, Alpha: 1, Beta: 1}

// update folds one observation into the statistics.
func (p normalGamma) update(x float64) normalGamma {
	return normalGamma{
		Mu:    (p.Kappa*p.Mu + x) / (p.Kappa + 1),
		Kappa: p.Kappa + 1,
		Alpha: p.Alpha + 0.5,
		Beta:  p.Beta + p.Kappa*(x-p.Mu)*(x-p.Mu)/(2*(p.Kappa+1)),
	}
}

// predictiveLogPDF is the posterior predictive: Student-t with 2α degrees
// of freedom, location μ, scale √(β(κ+1)/(ακ)).
func (p normalGamma) predictiveLogPDF(x float64) float64 {
	nu := 2 * p.Alpha
	scale := math.Sqrt(p.Beta * (p.Kappa + 1) / (p.Alpha * p.Kappa))
	return studentTLogPDF(x, nu, p.Mu, scale)
}

// featureState is the full detector state for one feature key.
type featureState struct {
	LogR    []float64     `json:"logR"`
	Runs    []int         `json:"runs"`
	Params  []normalGamma `json:"params"`
	Steps   int           `json:"steps"`
	Stable  int           `json:"stableSessions"`
	Changed bool          `json:"changedThisSession"`

	// Pending spike awaiting confirmation against the pre-spike regime.
	Pending     bool        `json:"pending"`
	PendingLeft int         `json:"pendingLeft"`
	OldRegime   normalGamma `json:"oldRegime"`
	Confirms    int         `json:"confirms"`
}

func newFeatureState() *featureState {
	return &featureState{
		LogR:   []float64{0}, // log 1
		Runs:   []int{0},
		Params: []normalGamma{priorNG},
	}
}

// Result reports one observation's classification.
type Result struct {
	ChangePointProb float64
	ChangePoint     bool
	Anomaly         bool
	RunLengthMode   int
}

// Engine runs detection across feature keys and manages crystallization.
type Engine struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	mu           sync.Mutex
	features     map[string]*featureState
	observations map[string][]float64
}

// New creates an engine. The store may be nil when persistence and
// crystallization are not needed.
func New(cfg Config, store Store) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:          cfg,
		store:        store,
		logger:       cfg.Logger,
		features:     make(map[string]*featureState),
		observations: make(map[string][]float64),
	}
}

// Observe folds one observation into the feature's run-length posterior
// and classifies it.
func (e *Engine) Observe(feature string, x float64) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.features[feature]
	if !ok {
		st = newFeatureState()
		e.features[feature] = st
	}

	obs := append(e.observations[feature], x)
	if len(obs) > e.cfg.MaxObservations {
		obs = obs[len(obs)-e.cfg.MaxObservations:]
	}
	e.observations[feature] = obs

	res := e.step(st, x)
	if res.ChangePoint {
		st.Changed = true
	}
	return res
}

// step advances the run-length posterior by one observation.
func (e *Engine) step(st *featureState, x float64) Result {
	n := len(st.LogR)
	hazard := 1 / e.cfg.Lambda
	logH := math.Log(hazard)
	log1mH := math.Log(1 - hazard)

	// Snapshot the dominant regime before this observation; a pending
	// spike is confirmed or reverted against it.
	preMode := priorNG
	best := math.Inf(-1)
	for i, lr := range st.LogR {
		if lr > best {
			best = lr
			preMode = st.Params[i]
		}
	}

	logPred := make([]float64, n)
	for i := 0; i < n; i++ {
		logPred[i] = st.Params[i].predictiveLogPDF(x)
	}

	// Growth buckets shift every run length up by one. The change bucket
	// carries the hazard mass unweighted by any run's predictive, so it
	// dominates exactly when no existing run explains the observation.
	newLogR := make([]float64, n+1)
	newRuns := make([]int, n+1)
	newParams := make([]normalGamma, n+1)

	for i := 0; i < n; i++ {
		newLogR[i+1] = logPred[i] + st.LogR[i] + log1mH
		newRuns[i+1] = st.Runs[i] + 1
		newParams[i+1] = st.Params[i].update(x)
	}
	newLogR[0] = logSumExp(st.LogR) + logH
	newRuns[0] = 0
	newParams[0] = priorNG

	// Normalize in log-domain.
	norm := logSumExp(newLogR)
	for i := range newLogR {
		newLogR[i] -= norm
	}

	// Prune to the top buckets by probability, then renormalize.
	if len(newLogR) > e.cfg.MaxRunLength {
		idx := make([]int, len(newLogR))
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return newLogR[idx[a]] > newLogR[idx[b]] })
		idx = idx[:e.cfg.MaxRunLength]
		sort.Ints(idx)

		prunedLogR := make([]float64, len(idx))
		prunedRuns := make([]int, len(idx))
		prunedParams := make([]normalGamma, len(idx))
		for i, j := range idx {
			prunedLogR[i] = newLogR[j]
			prunedRuns[i] = newRuns[j]
			prunedParams[i] = newParams[j]
		}
		norm = logSumExp(prunedLogR)
		for i := range prunedLogR {
			prunedLogR[i] -= norm
		}
		newLogR, newRuns, newParams = prunedLogR, prunedRuns, prunedParams
	}

	st.LogR = newLogR
	st.Runs = newRuns
	st.Params = newParams
	st.Steps++

	cpProb := 0.0
	mode := 0
	bestPost := math.Inf(-1)
	for i, lr := range st.LogR {
		if st.Runs[i] == 0 {
			cpProb = math.Exp(lr)
		}
		if lr > bestPost {
			bestPost = lr
			mode = st.Runs[i]
		}
	}

	res := Result{ChangePointProb: cpProb, RunLengthMode: mode}

	if st.Pending {
		// Confirmation phase: does the shift persist, or did the stream
		// revert to the old regime? A lone spike is an anomaly.
		st.PendingLeft--
		if st.OldRegime.surprising(x) {
			st.Confirms++
		}
		needed := int(math.Ceil(e.cfg.AnomalyConfirmRatio * float64(e.cfg.AnomalyRevertWindow)))
		switch {
		case st.Confirms >= needed:
			st.Pending = false
			res.ChangePoint = true
		case st.PendingLeft <= 0:
			st.Pending = false
			res.Anomaly = true
		}
		return res
	}

	if cpProb > e.cfg.ChangePointThreshold {
		st.Pending = true
		st.PendingLeft = e.cfg.AnomalyRevertWindow
		st.OldRegime = preMode
		st.Confirms = 0
	}
	return res
}

// surprising reports whether x falls outside two predictive scales of the
// regime's location.
func (p normalGamma) surprising(x float64) bool {
	scale := math.Sqrt(p.Beta * (p.Kappa + 1) / (p.Alpha * p.Kappa))
	if scale < sigmaFloor {
		scale = sigmaFloor
	}
	return math.Abs(x-p.Mu)/scale > 2
}

// MassSum returns Σ exp(logR) for a feature, 0 when unknown. The posterior
// invariant keeps this at 1 within 1e-6.
func (e *Engine) MassSum(feature string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.features[feature]
	if !ok {
		return 0
	}
	sum := 0.0
	for _, lr := range st.LogR {
		sum += math.Exp(lr)
	}
	return sum
}

// BucketCount reports the current posterior support size for a feature.
func (e *Engine) BucketCount(feature string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.features[feature]
	if !ok {
		return 0
	}
	return len(st.LogR)
}

// logSumExp computes log Σ exp(xs) with a max shift for stability.
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := xs[0]
	for _, x := range xs[1:] {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// studentTLogPDF evaluates the Student-t log density with nu degrees of
// freedom, location mu, and scale sigma (clamped to avoid division by
// zero).
func studentTLogPDF(x, nu, mu, sigma float64) float64 {
	if sigma < sigmaFloor {
		sigma = sigmaFloor
	}
	z := (x - mu) / sigma
	return lgamma((nu+1)/2) - lgamma(nu/2) -
		0.5*math.Log(nu*math.Pi) - math.Log(sigma) -
		(nu+1)/2*math.Log1p(z*z/nu)
}

// Lanczos approximation of log Γ, g=7 with 9 coefficients.
var lanczosCoefs = [9]float64{
	0.99999999999980993,
	676.5203681218851,
	-1259.1392167224028,
	771.32342877765313,
	-176.61502916214059,
	12.507343278686905,
	-0.13857109526572012,
	9.9843695780195716e-6,
	1.5056327351493116e-7,
}

const lanczosG = 7

func lgamma(x float64) float64 {
	if x < 0.5 {
		// Reflection for the left half plane.
		return math.Log(math.Pi/math.Abs(math.Sin(math.Pi*x))) - lgamma(1-x)
	}
	x--
	a := lanczosCoefs[0]
	t := x + lanczosG + 0.5
	for i := 1; i < len(lanczosCoefs); i++ {
		a += lanczosCoefs[i] / (x + float64(i))
	}
	return 0.5*math.Log(2*math.Pi) + (x+0.5)*math.Log(t) - t + math.Log(a)
}
