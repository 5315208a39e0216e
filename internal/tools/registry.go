// Package tools implements the Tool Registry (spec §4.3): tool
// registration, definitions handed to the model, and bounded-concurrency
// batched execution of the tool calls a model turn requests.
//
// Grounded on the teacher's internal/mcp.Proxy (local-handler map +
// upstream fallback, RegisterTool/ListTools/CallTool shape), generalized
// from an MCP-proxy-plus-upstream design to a plain local registry since
// upstream MCP servers are out of scope here, and from ad hoc sequential
// calls to an errgroup-bounded batch executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentcore/runtime/internal/ports"
)

// Handler executes one tool call and returns its result. Handlers should
// respect ctx cancellation for long-running work.
type Handler func(ctx context.Context, call ports.ToolCall) (ports.ToolExecutionResult, error)

// Definition describes one registered tool: its name, the description and
// JSON Schema surfaced to the model, and whether it is exempt from the
// Tool Approval Protocol.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	// Bypass marks a tool as auto-executed without an approval round-trip
	// (spec §4.4's fixed read-only + todo-management bypass set).
	Bypass bool
}

type entry struct {
	def     Definition
	handler Handler
}

// Registry holds every tool an agent may call, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry

	// StrictValidation, when true, validates each call's arguments against
	// the tool's InputSchema before invoking its handler.
	StrictValidation bool

	validator *schemaValidator
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]entry),
		validator: newSchemaValidator(),
	}
}

// Register adds or replaces a tool definition and its handler.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition missing name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: nil handler", def.Name)
	}
	if len(def.InputSchema) > 0 {
		if err := r.validator.compile(def.Name, def.InputSchema); err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{def: def, handler: handler}
	return nil
}

// Definitions returns the set of tool definitions matching names. A nil or
// empty names slice returns every registered definition — the
// AgentConfig.EnabledTools allowlist is the caller's responsibility to
// apply before calling this.
func (r *Registry) Definitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		out := make([]Definition, 0, len(r.entries))
		for _, e := range r.entries {
			out = append(out, e.def)
		}
		return out
	}
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		if e, ok := r.entries[n]; ok {
			out = append(out, e.def)
		}
	}
	return out
}

// IsBypass reports whether name is registered and marked Bypass. An
// unregistered tool is never a bypass tool — it must go through the
// NotFound path so the model sees a clear error.
func (r *Registry) IsBypass(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.def.Bypass
}

// Names returns every registered tool name, for the registry manifest.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	return out
}

// Execute runs one tool call, validating arguments first if StrictValidation
// is set, and synthesizing an ErrorNotFound result for an unregistered name.
func (r *Registry) Execute(ctx context.Context, call ports.ToolCall) ports.ToolExecutionResult {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()

	if !ok {
		return errorResult(call, ports.ErrorNotFound, fmt.Sprintf("tool not found: %s", call.Name), start)
	}

	if r.StrictValidation && len(e.def.InputSchema) > 0 {
		if err := r.validator.validate(call.Name, call.Arguments); err != nil {
			return errorResult(call, ports.ErrorValidationFailed, err.Error(), start)
		}
	}

	result, err := e.handler(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			return errorResult(call, ports.ErrorAborted, err.Error(), start)
		}
		return errorResult(call, ports.ErrorUnknown, err.Error(), start)
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	return result
}

// ExecuteBatch runs calls in consecutive batches of maxConcurrent: the calls
// of one batch run in parallel, and the next batch starts only after every
// call of the current one has finished. It blocks until every call in calls
// has completed before returning. Results are returned in the same order as
// calls.
func ExecuteBatch(ctx context.Context, r *Registry, calls []ports.ToolCall, maxConcurrent int) []ports.ToolExecutionResult {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	results := make([]ports.ToolExecutionResult, len(calls))

	for lo := 0; lo < len(calls); lo += maxConcurrent {
		hi := min(lo+maxConcurrent, len(calls))
		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			i, call := i, calls[i]
			g.Go(func() error {
				results[i] = r.Execute(gctx, call)
				return nil
			})
		}
		// Errors are captured per-call in the result, not propagated — a single
		// tool failing must not cancel sibling calls already in flight.
		_ = g.Wait()
	}
	return results
}

func errorResult(call ports.ToolCall, reason ports.ErrorReason, message string, start time.Time) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{
		ID:         call.ID,
		Name:       call.Name,
		Status:     ports.ToolStatusError,
		Type:       ports.ResultText,
		Result:     message,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   &ports.ResultMetadata{ErrorReason: reason},
	}
}
