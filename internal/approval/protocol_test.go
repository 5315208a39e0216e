package approval

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/ports"
)

func TestPolicy_Evaluate(t *testing.T) {
	p := &Policy{
		Allowlist:       []string{"reverse_text", "Todo*"},
		Denylist:        []string{"rm_*"},
		RequireApproval: []string{"Shell"},
		DefaultDecision: DecisionPending,
	}

	tests := []struct {
		tool string
		want Decision
	}{
		{"reverse_text", DecisionAllowed},
		{"TodoWrite", DecisionAllowed},
		{"Shell", DecisionPending},
		{"rm_recursive", DecisionDenied},
		{"unknown_tool", DecisionPending},
	}
	for _, tt := range tests {
		got, _ := p.Evaluate(tt.tool)
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}

func TestPolicy_RequireApprovalBeatsAllowlist(t *testing.T) {
	p := &Policy{
		Allowlist:       []string{"*"},
		RequireApproval: []string{"Shell"},
		DefaultDecision: DecisionAllowed,
	}
	got, _ := p.Evaluate("Shell")
	if got != DecisionPending {
		t.Fatalf("Evaluate(Shell) = %v, want pending even though allowlist matches everything", got)
	}
}

func TestPolicy_DenylistBeatsEverything(t *testing.T) {
	p := &Policy{
		Allowlist: []string{"*"},
		Denylist:  []string{"Shell"},
	}
	got, _ := p.Evaluate("Shell")
	if got != DecisionDenied {
		t.Fatalf("Evaluate(Shell) = %v, want denied", got)
	}
}

func TestProtocol_RequestApproval_ResolvedAllowed(t *testing.T) {
	proto := New(DefaultPolicy())
	done := make(chan Decision, 1)

	go func() {
		decision, err := proto.RequestApproval(context.Background(), "call-1")
		if err != nil {
			t.Errorf("RequestApproval: %v", err)
		}
		done <- decision
	}()

	// Give the goroutine a chance to register as pending.
	waitUntil(t, func() bool { return proto.Pending("call-1") })

	if err := proto.Resolve("call-1", DecisionAllowed); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case got := <-done:
		if got != DecisionAllowed {
			t.Fatalf("got %v, want allowed", got)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after Resolve")
	}
}

func TestProtocol_RequestApproval_ContextCanceled(t *testing.T) {
	proto := New(DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := proto.RequestApproval(ctx, "call-2")
		done <- err
	}()

	waitUntil(t, func() bool { return proto.Pending("call-2") })
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after cancellation")
	}

	if proto.Pending("call-2") {
		t.Fatal("pending entry should be cleaned up after return")
	}
}

func TestProtocol_ResolveUnknownIDIsNoop(t *testing.T) {
	proto := New(DefaultPolicy())
	if err := proto.Resolve("nonexistent", DecisionAllowed); err != nil {
		t.Fatalf("expected resolving an id nobody requested to be a benign no-op, got %v", err)
	}
}

func TestProtocol_ResolveTwiceIsNoop(t *testing.T) {
	proto := New(DefaultPolicy())
	done := make(chan struct{})
	go func() {
		proto.RequestApproval(context.Background(), "call-3")
		close(done)
	}()
	waitUntil(t, func() bool { return proto.Pending("call-3") })

	if err := proto.Resolve("call-3", DecisionAllowed); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	<-done

	if err := proto.Resolve("call-3", DecisionDenied); err != nil {
		t.Fatalf("expected second Resolve on a completed request to be a benign no-op, got %v", err)
	}
}

func TestProtocol_Classify(t *testing.T) {
	proto := New(&Policy{Allowlist: []string{"reverse_text"}, DefaultDecision: DecisionPending})
	decision, _ := proto.Classify(ports.ToolCall{Name: "reverse_text"})
	if decision != DecisionAllowed {
		t.Fatalf("Classify = %v, want allowed", decision)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
