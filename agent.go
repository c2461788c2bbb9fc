package chitragupta

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tree bounds.
const (
	// MaxDepth is the deepest allowed agent in the tree (root is 0).
	MaxDepth = 5
	// MaxFanout is the most children any single agent may have.
	MaxFanout = 10
)

const defaultMaxTurns = 25

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusRunning   AgentStatus = "running"
	StatusCompleted AgentStatus = "completed"
	StatusAborted   AgentStatus = "aborted"
	StatusErrored   AgentStatus = "errored"
)

// AgentConfig describes one agent. Zero fields on a child config inherit
// from the parent at Spawn.
type AgentConfig struct {
	Purpose      string
	SystemPrompt string
	Model        string
	ProviderID   string
	Provider     StreamProvider
	Providers    *ProviderRegistry
	Tools        *ToolExecutor
	MaxTurns     int
	Thinking     ThinkingLevel
	Temperature  *float64
	SessionID    string
	ProfileID    string
	WorkingDir   string
	BubbleEvents bool

	Policy   PolicyEngine
	Kaala    Kaala
	Lokapala Lokapala
	Autonomy *Autonomy
	Recorder TurnRecorder

	Logger *slog.Logger
	Tracer Tracer
}

// Registry is the process-local agent registry. The tree refers to agents
// by id rather than owning pointers, so disposal breaks no cycles.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Count returns the number of live agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Walk visits the subtree rooted at id depth-first, parents before
// children. fn returning false stops the descent below that agent.
func (r *Registry) Walk(id string, fn func(*Agent) bool) {
	a, ok := r.Get(id)
	if !ok {
		return
	}
	if !fn(a) {
		return
	}
	for _, childID := range a.ChildIDs() {
		r.Walk(childID, fn)
	}
}

func (r *Registry) add(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.id] = a
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Agent is one node of the supervised tree, driving a reason-act-observe
// loop over a streaming provider.
type Agent struct {
	id       string
	purpose  string
	depth    int
	parentID string
	reg      *Registry
	events   *EventBus

	mu        sync.Mutex
	cfg       AgentConfig
	state     AgentState
	status    AgentStatus
	children  []string
	steering  []string
	followUps []string
	totalCost float64
	usage     Usage
	cancel    context.CancelFunc
	inputs    map[string]chan inputResolution
	unbubble  func()
	meshDrop  func()
	disposed  bool
}

// New creates a root agent (depth 0) and registers it.
func New(reg *Registry, cfg AgentConfig) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger
	}
	if cfg.Thinking == "" {
		cfg.Thinking = ThinkingNone
	}
	a := &Agent{
		id:      NewID(),
		purpose: cfg.Purpose,
		reg:     reg,
		events:  NewEventBus(),
		cfg:     cfg,
		status:  StatusIdle,
		inputs:  make(map[string]chan inputResolution),
		state: AgentState{
			Model:        cfg.Model,
			ProviderID:   cfg.ProviderID,
			SystemPrompt: cfg.SystemPrompt,
			Thinking:     cfg.Thinking,
			SessionID:    cfg.SessionID,
			ProfileID:    cfg.ProfileID,
		},
	}
	reg.add(a)
	if cfg.Kaala != nil {
		cfg.Kaala.RegisterAgent(a.id, a.purpose)
	}
	return a
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.id }

// Purpose returns the agent's configured purpose.
func (a *Agent) Purpose() string { return a.purpose }

// Depth returns the agent's depth in the tree (root is 0).
func (a *Agent) Depth() int { return a.depth }

// ParentID returns the parent agent id, empty for the root.
func (a *Agent) ParentID() string { return a.parentID }

// Status returns the current lifecycle status.
func (a *Agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Events returns the agent's event bus.
func (a *Agent) Events() *EventBus { return a.events }

// Messages returns a copy of the message history.
func (a *Agent) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.state.Messages...)
}

// TotalCost returns the accumulated USD cost of all provider calls.
func (a *Agent) TotalCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCost
}

// ChildIDs returns the ids of the agent's live children.
func (a *Agent) ChildIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.children...)
}

// SetMeshDeregister installs the hook called on Dispose to drop the
// agent's mesh registration.
func (a *Agent) SetMeshDeregister(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meshDrop = fn
}

// --- Steering ---

// Steer enqueues a single mid-flight instruction, consumed as a
// system-role splice at the start of the next turn.
func (a *Agent) Steer(text string) {
	a.mu.Lock()
	a.steering = append(a.steering, text)
	a.mu.Unlock()
	a.events.Emit(Event{Type: EventAgentSteer, AgentID: a.id, Data: map[string]any{"text": text}})
}

// FollowUp enqueues a post-completion prompt consumed by ProcessFollowUps.
func (a *Agent) FollowUp(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.followUps = append(a.followUps, text)
}

// ProcessFollowUps runs each queued follow-up through Prompt in order and
// returns the assistant responses. Stops at the first error.
func (a *Agent) ProcessFollowUps(ctx context.Context) ([]Message, error) {
	var responses []Message
	for {
		a.mu.Lock()
		if len(a.followUps) == 0 {
			a.mu.Unlock()
			return responses, nil
		}
		next := a.followUps[0]
		a.followUps = a.followUps[1:]
		a.mu.Unlock()

		msg, err := a.Prompt(ctx, next)
		if err != nil {
			return responses, err
		}
		responses = append(responses, msg)
	}
}

// takeSteering pops all pending steering instructions.
func (a *Agent) takeSteering() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.steering
	a.steering = nil
	return s
}

// --- Spawning ---

// Spawn creates a child agent at depth+1, inheriting provider, tools, and
// subsystem references for any zero-valued config field. Fails before any
// side effect when the tree bounds would be exceeded.
func (a *Agent) Spawn(cfg AgentConfig) (*Agent, error) {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return nil, ErrDisposed
	}
	if a.depth+1 > MaxDepth {
		a.mu.Unlock()
		return nil, fmt.Errorf("spawn %q: %w", cfg.Purpose, ErrDepthExceeded)
	}
	if len(a.children) >= MaxFanout {
		a.mu.Unlock()
		return nil, fmt.Errorf("spawn %q: %w", cfg.Purpose, ErrFanoutExceeded)
	}
	parentCfg := a.cfg
	a.mu.Unlock()

	child := New(a.reg, inheritConfig(cfg, parentCfg))
	child.depth = a.depth + 1
	child.parentID = a.id

	a.mu.Lock()
	// Re-check under lock; a concurrent Spawn may have filled the last slot.
	if len(a.children) >= MaxFanout {
		a.mu.Unlock()
		child.Dispose()
		return nil, fmt.Errorf("spawn %q: %w", cfg.Purpose, ErrFanoutExceeded)
	}
	a.children = append(a.children, child.id)
	a.mu.Unlock()

	if child.cfg.BubbleEvents {
		child.unbubble = child.events.Subscribe(func(ev Event) {
			if ev.Type == EventSubagentEvent {
				// Already wrapped by a grandchild; forward as-is.
				a.events.Emit(ev)
				return
			}
			a.events.Emit(Event{
				Type:    EventSubagentEvent,
				AgentID: a.id,
				Data: map[string]any{
					"sourceAgentId": child.id,
					"sourcePurpose": child.purpose,
					"sourceDepth":   child.depth,
					"originalEvent": string(ev.Type),
					"data":          ev.Data,
				},
			})
		})
	}

	a.events.Emit(Event{Type: EventSubagentSpawn, AgentID: a.id, Data: map[string]any{
		"childId": child.id, "purpose": child.purpose, "depth": child.depth,
	}})
	return child, nil
}

// inheritConfig fills zero fields of child from parent.
func inheritConfig(child, parent AgentConfig) AgentConfig {
	if child.Provider == nil {
		child.Provider = parent.Provider
	}
	if child.Providers == nil {
		child.Providers = parent.Providers
	}
	if child.ProviderID == "" {
		child.ProviderID = parent.ProviderID
	}
	if child.Model == "" {
		child.Model = parent.Model
	}
	if child.Tools == nil {
		child.Tools = parent.Tools
	}
	if child.MaxTurns <= 0 {
		child.MaxTurns = parent.MaxTurns
	}
	if child.SessionID == "" {
		child.SessionID = parent.SessionID
	}
	if child.WorkingDir == "" {
		child.WorkingDir = parent.WorkingDir
	}
	if child.Policy == nil {
		child.Policy = parent.Policy
	}
	if child.Kaala == nil {
		child.Kaala = parent.Kaala
	}
	if child.Lokapala == nil {
		child.Lokapala = parent.Lokapala
	}
	if child.Autonomy == nil {
		child.Autonomy = parent.Autonomy
	}
	if child.Recorder == nil {
		child.Recorder = parent.Recorder
	}
	if child.Logger == nil {
		child.Logger = parent.Logger
	}
	if child.Tracer == nil {
		child.Tracer = parent.Tracer
	}
	return child
}

// DelegateTask pairs a child config with its prompt for DelegateParallel.
type DelegateTask struct {
	Config AgentConfig
	Prompt string
}

// SubAgentResult is the terminal outcome of a delegated child. Delegate
// never returns an error; failures are reflected in Status and Err.
type SubAgentResult struct {
	Status   string // completed, aborted, error
	Response string
	Messages []Message
	Cost     float64
	Err      error
}

// Delegate spawns a child, runs prompt to completion, disposes the child,
// and returns its terminal result. This method never panics and never
// returns an error value outside the result.
func (a *Agent) Delegate(ctx context.Context, cfg AgentConfig, prompt string) (res SubAgentResult) {
	defer func() {
		if p := recover(); p != nil {
			res = SubAgentResult{Status: "error", Err: fmt.Errorf("delegate panic: %v", p)}
		}
	}()

	child, err := a.Spawn(cfg)
	if err != nil {
		return SubAgentResult{Status: "error", Err: err}
	}
	defer child.Dispose()

	msg, err := child.Prompt(ctx, prompt)
	res = SubAgentResult{
		Response: msg.Text(),
		Messages: child.Messages(),
		Cost:     child.TotalCost(),
	}
	switch {
	case err == nil:
		res.Status = "completed"
		a.events.Emit(Event{Type: EventSubagentDone, AgentID: a.id, Data: map[string]any{"childId": child.id}})
	case child.Status() == StatusAborted:
		res.Status = "aborted"
		res.Err = err
		a.events.Emit(Event{Type: EventSubagentError, AgentID: a.id, Data: map[string]any{"childId": child.id, "error": err.Error()}})
	default:
		res.Status = "error"
		res.Err = err
		a.events.Emit(Event{Type: EventSubagentError, AgentID: a.id, Data: map[string]any{"childId": child.id, "error": err.Error()}})
	}
	return res
}

// DelegateParallel runs multiple delegations concurrently. The total
// fan-out is pre-checked before any child is spawned; results keep task
// order.
func (a *Agent) DelegateParallel(ctx context.Context, tasks []DelegateTask) ([]SubAgentResult, error) {
	a.mu.Lock()
	free := MaxFanout - len(a.children)
	a.mu.Unlock()
	if len(tasks) > free {
		return nil, fmt.Errorf("delegate %d tasks with %d slots: %w", len(tasks), free, ErrFanoutExceeded)
	}

	results := make([]SubAgentResult, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = a.Delegate(ctx, task.Config, task.Prompt)
			return nil
		})
	}
	_ = g.Wait() // Delegate never returns an error through the group.
	return results, nil
}

// --- Abort and dispose ---

// Abort cancels the current prompt, rejects pending input requests, and
// aborts all children.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.status = StatusAborted
	children := append([]string(nil), a.children...)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.rejectAllInputs()
	a.events.Emit(Event{Type: EventAgentAbort, AgentID: a.id})

	for _, id := range children {
		if child, ok := a.reg.Get(id); ok {
			child.Abort()
		}
	}
}

// Dispose is the terminal form of Abort: cancels, rejects pending inputs,
// disposes children recursively, drops the mesh registration, clears
// subsystem references and state, and removes the agent from the registry.
// Idempotent.
func (a *Agent) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	cancel := a.cancel
	children := append([]string(nil), a.children...)
	unbubble := a.unbubble
	meshDrop := a.meshDrop
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.rejectAllInputs()

	for _, id := range children {
		if child, ok := a.reg.Get(id); ok {
			child.Dispose()
		}
	}
	if unbubble != nil {
		unbubble()
	}
	if meshDrop != nil {
		meshDrop()
	}

	a.mu.Lock()
	a.children = nil
	a.state.Messages = nil
	a.cfg.Tools = nil
	a.cfg.Provider = nil
	a.cfg.Providers = nil
	a.cfg.Policy = nil
	a.cfg.Kaala = nil
	a.cfg.Lokapala = nil
	a.cfg.Autonomy = nil
	a.cfg.Recorder = nil
	a.status = StatusAborted
	a.mu.Unlock()

	a.reg.remove(a.id)
}
