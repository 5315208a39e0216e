package approval

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentcore/runtime/internal/ports"
)

// Request is one pending approval: a tool call awaiting an explicit
// decision from whatever is consuming the Event Channel.
type Request struct {
	ID        string
	ToolCall  ports.ToolCall
	AgentID   string
	Reason    string // why the policy classified this as pending
}

// Protocol tracks pending approvals as one-shot channels keyed by approval
// id. RequestApproval blocks the caller's goroutine (the orchestrator's
// tool loop) until Resolve is called with the same id, or ctx is canceled.
type Protocol struct {
	policy *Policy

	mu      sync.Mutex
	pending map[string]chan Decision
}

// New returns a Protocol governed by policy. A nil policy falls back to
// DefaultPolicy (everything pending).
func New(policy *Policy) *Protocol {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Protocol{policy: policy, pending: make(map[string]chan Decision)}
}

// Classify evaluates call against the configured policy without creating a
// pending request — used by the orchestrator to decide whether to call
// RequestApproval at all.
func (p *Protocol) Classify(call ports.ToolCall) (Decision, string) {
	return p.policy.Evaluate(call.Name)
}

// RequestApproval registers a pending approval under id and blocks until
// Resolve(id, decision) is called or ctx is done. Calling RequestApproval
// twice with the same id while the first is still pending replaces the
// first's channel — callers must use unique ids per tool call.
func (p *Protocol) RequestApproval(ctx context.Context, id string) (Decision, error) {
	ch := make(chan Decision, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return DecisionDenied, ctx.Err()
	}
}

// Resolve delivers decision to the approval waiting under id. An unknown
// approvalId, or a second resolution of one already delivered, is a benign
// no-op — just logged — since a UI layer racing a retry or replaying a
// stale decision must not be able to crash the orchestrator over it.
func (p *Protocol) Resolve(id string, decision Decision) error {
	p.mu.Lock()
	ch, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		log.Warn().Str("approvalId", id).Msg("approval: resolve of unknown or already-resolved id, ignoring")
		return nil
	}

	select {
	case ch <- decision:
	default:
		log.Warn().Str("approvalId", id).Msg("approval: id already resolved, ignoring")
	}
	return nil
}

// Pending reports whether id currently has an outstanding approval.
func (p *Protocol) Pending(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	return ok
}
