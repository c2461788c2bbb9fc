package chitragupta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDefinition describes a callable tool. InputSchema is a JSON Schema
// document for the arguments; when present, arguments are validated before
// dispatch.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolContext carries per-call execution context. The cancellation signal
// rides on the context.Context passed to Execute.
type ToolContext struct {
	SessionID  string
	AgentID    string
	WorkingDir string
}

// ToolResult is the outcome of a tool execution. IsError marks Content as
// an error message rather than a successful result.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolHandler implements one tool.
type ToolHandler interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolResult, error)
}

// ToolFunc adapts a function to ToolHandler.
type ToolFunc struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolResult, error)
}

func (t ToolFunc) Definition() ToolDefinition { return t.Def }

func (t ToolFunc) Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (ToolResult, error) {
	return t.Fn(ctx, args, tc)
}

// ToolExecutor registers named tools and dispatches calls. Dispatch never
// returns a loop-crashing error for tool-side failures: malformed
// arguments, schema violations, and handler errors all come back as
// ToolResult{IsError: true}.
type ToolExecutor struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
	schemas  map[string]*jsonschema.Schema
	logger   *slog.Logger
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithExecutorLogger sets a structured logger for dispatches.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) { e.logger = l }
}

// NewToolExecutor creates an empty executor.
func NewToolExecutor(opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		handlers: make(map[string]ToolHandler),
		schemas:  make(map[string]*jsonschema.Schema),
		logger:   nopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Register adds a tool, compiling its input schema when present.
func (e *ToolExecutor) Register(h ToolHandler) error {
	def := h.Definition()
	if def.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}

	var schema *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		url := def.Name + ".schema.json"
		if err := compiler.AddResource(url, strings.NewReader(string(def.InputSchema))); err != nil {
			return fmt.Errorf("register tool %s: %w", def.Name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("register tool %s: compile schema: %w", def.Name, err)
		}
		schema = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[def.Name] = h
	if schema != nil {
		e.schemas[def.Name] = schema
	} else {
		delete(e.schemas, def.Name)
	}
	return nil
}

// Unregister removes a tool by name.
func (e *ToolExecutor) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, name)
	delete(e.schemas, name)
}

// Definitions returns all registered tool definitions.
func (e *ToolExecutor) Definitions() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(e.handlers))
	for _, h := range e.handlers {
		defs = append(defs, h.Definition())
	}
	return defs
}

// Has reports whether a tool is registered.
func (e *ToolExecutor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[name]
	return ok
}

// Execute dispatches a tool call by name. The returned error is reserved
// for infrastructure failures; tool-side problems land in the result.
func (e *ToolExecutor) Execute(ctx context.Context, name string, args json.RawMessage, tc ToolContext) (ToolResult, error) {
	e.mu.RLock()
	h, ok := e.handlers[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if !ok {
		return ToolResult{Content: "unknown tool: " + name, IsError: true}, nil
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		te := &ToolError{Tool: name, Kind: ToolMalformedArgs, Message: "arguments are not valid JSON"}
		return ToolResult{Content: te.Error(), IsError: true}, nil
	}
	if schema != nil {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			te := &ToolError{Tool: name, Kind: ToolMalformedArgs, Message: err.Error()}
			return ToolResult{Content: te.Error(), IsError: true}, nil
		}
		if err := schema.Validate(v); err != nil {
			te := &ToolError{Tool: name, Kind: ToolMalformedArgs, Message: err.Error()}
			return ToolResult{Content: te.Error(), IsError: true}, nil
		}
	}

	start := time.Now()
	result, err := h.Execute(ctx, args, tc)
	e.logger.Debug("tool executed",
		"tool", name, "session", tc.SessionID,
		"duration", time.Since(start), "is_error", result.IsError || err != nil)
	if err != nil {
		te := &ToolError{Tool: name, Kind: ToolExecutionFailed, Message: err.Error()}
		return ToolResult{Content: te.Error(), IsError: true}, nil
	}
	return result, nil
}
