// Package approval implements the Tool Approval Protocol (spec §4.4, §9).
//
// Grounded on the pattern-matching shape of the teacher's enrichment
// sibling haasonsaas-nexus's internal/agent.ApprovalPolicy/ApprovalChecker
// (Allowlist/Denylist/RequireApproval glob patterns, matchesPattern), but
// REDESIGNED per spec §9's explicit design note: nexus resolves a pending
// approval by polling an ApprovalStore until a decision appears; this
// package instead hands the caller a one-shot channel per approval id and
// resolves it exactly once when a decision arrives, which is the behavior
// spec §4.4 requires of the Event Channel / approval round-trip.
package approval

import "strings"

// Decision is the outcome of evaluating or resolving one approval request.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
	DecisionPending Decision = "pending"
)

// Valid reports whether d is one of the declared decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllowed, DecisionDenied, DecisionPending:
		return true
	default:
		return false
	}
}

// Policy decides, ahead of any round trip to a human, whether a tool call
// is always allowed, always denied, or needs an explicit decision.
type Policy struct {
	// Allowlist: tools always allowed without asking.
	Allowlist []string
	// Denylist: tools always denied without asking. Checked before Allowlist.
	Denylist []string
	// RequireApproval: tools that always need an explicit decision, even if
	// they would otherwise match Allowlist.
	RequireApproval []string
	// DefaultDecision applies when a tool matches none of the lists above.
	DefaultDecision Decision
}

// DefaultPolicy returns the spec-mandated default: nothing is pre-allowed
// or pre-denied, and anything not explicitly classified requires approval.
func DefaultPolicy() *Policy {
	return &Policy{DefaultDecision: DecisionPending}
}

// Evaluate classifies toolName against p, in the order: denylist, require-
// approval, allowlist, default. RequireApproval is checked before Allowlist
// so a tool can be both broadly allowed and specifically flagged.
func (p *Policy) Evaluate(toolName string) (Decision, string) {
	if p == nil {
		return DecisionPending, "no policy configured"
	}
	if matchesPattern(p.Denylist, toolName) {
		return DecisionDenied, "tool in denylist"
	}
	if matchesPattern(p.RequireApproval, toolName) {
		return DecisionPending, "tool requires approval"
	}
	if matchesPattern(p.Allowlist, toolName) {
		return DecisionAllowed, "tool in allowlist"
	}
	if p.DefaultDecision.Valid() {
		return p.DefaultDecision, "default policy"
	}
	return DecisionPending, "default policy"
}

// matchesPattern reports whether toolName matches any pattern in patterns.
// Supports exact match, "prefix*", "*suffix", and the "*" wildcard.
func matchesPattern(patterns []string, toolName string) bool {
	name := strings.ToLower(strings.TrimSpace(toolName))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == name {
			return true
		}
		if len(pattern) > 1 && strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(name, pattern[:len(pattern)-1]) {
				return true
			}
		}
		if len(pattern) > 1 && strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(name, pattern[1:]) {
				return true
			}
		}
	}
	return false
}
