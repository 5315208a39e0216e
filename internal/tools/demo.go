package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/agentcore/runtime/internal/ports"
)

// RegisterBuiltins wires the demo tool set the runtime ships with: a
// read-only reverse_text bypass tool, a TodoWrite bypass tool backed by
// pad, an approval-gated Shell tool, and an approval-gated WebFetch tool
// backed by fetchCache (nil is fine — every fetch just misses the cache).
// Real deployments register their own domain tools the same way.
func RegisterBuiltins(r *Registry, pad *Scratchpad, fetchCache *FetchCache) error {
	if err := r.Register(reverseTextDefinition(), reverseTextHandler()); err != nil {
		return err
	}
	if err := r.Register(todoWriteDefinition(), todoWriteHandler(pad)); err != nil {
		return err
	}
	if err := r.Register(shellDefinition(), shellHandler()); err != nil {
		return err
	}
	if err := r.Register(WebFetchDefinition(), WebFetchHandler(fetchCache)); err != nil {
		return err
	}
	return nil
}

// --- reverse_text: read-only, bypass ---

type reverseTextArgs struct {
	Text string `json:"text"`
}

func reverseTextDefinition() Definition {
	return Definition{
		Name:        "reverse_text",
		Description: "Reverse a string. Read-only, no side effects.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		Bypass: true,
	}
}

func reverseTextHandler() Handler {
	return func(_ context.Context, call ports.ToolCall) (ports.ToolExecutionResult, error) {
		var args reverseTextArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return ports.ToolExecutionResult{}, fmt.Errorf("unmarshal arguments: %w", err)
		}
		runes := []rune(args.Text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return ports.ToolExecutionResult{
			ID:     call.ID,
			Name:   call.Name,
			Status: ports.ToolStatusSuccess,
			Type:   ports.ResultText,
			Result: string(runes),
		}, nil
	}
}

// --- TodoWrite: plan/scratchpad management, bypass ---

type todoWriteArgs struct {
	Content string `json:"content"`
}

func todoWriteDefinition() Definition {
	return Definition{
		Name: "TodoWrite",
		Description: `Write or update your working plan/scratchpad. The content replaces any ` +
			`previous plan and stays visible at the tail of your context. Use it for tasks with ` +
			`3+ steps; skip it for simple single-step tasks.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "Your current plan, todo list, or working notes. Replaces the previous content entirely."}
			},
			"required": ["content"]
		}`),
		Bypass: true,
	}
}

func todoWriteHandler(pad *Scratchpad) Handler {
	return func(_ context.Context, call ports.ToolCall) (ports.ToolExecutionResult, error) {
		var args todoWriteArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return ports.ToolExecutionResult{}, fmt.Errorf("unmarshal arguments: %w", err)
		}
		if args.Content == "" {
			return ports.ToolExecutionResult{
				ID:       call.ID,
				Name:     call.Name,
				Status:   ports.ToolStatusError,
				Type:     ports.ResultText,
				Result:   "content cannot be empty",
				Metadata: &ports.ResultMetadata{ErrorReason: ports.ErrorInvalidInput},
			}, nil
		}
		pad.Set(args.Content)
		return ports.ToolExecutionResult{
			ID:     call.ID,
			Name:   call.Name,
			Status: ports.ToolStatusSuccess,
			Type:   ports.ResultText,
			Result: "Plan updated.",
		}, nil
	}
}

// --- Shell: approval-gated, runs a command via os/exec ---
//
// The teacher's shell tool wrapped mvdan.cc/sh/v3 to interpret POSIX
// scripts in-process; that's per-tool business logic out of scope here
// (see DESIGN.md), so this demo tool instead execs the host shell
// directly — still enough to exercise the approval-gated + cancelable
// contract a real Shell tool needs.

type shellArgs struct {
	Command string `json:"command"`
}

const shellTimeout = 30 * time.Second

// shellKillGrace is how long a canceled command gets to exit after SIGTERM
// before it is killed.
const shellKillGrace = time.Second

func shellDefinition() Definition {
	return Definition{
		Name:        "Shell",
		Description: "Run a shell command and return its combined output. Requires approval.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"command": {"type": "string"}},
			"required": ["command"]
		}`),
		Bypass: false,
	}
}

func shellHandler() Handler {
	return func(ctx context.Context, call ports.ToolCall) (ports.ToolExecutionResult, error) {
		var args shellArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return ports.ToolExecutionResult{}, fmt.Errorf("unmarshal arguments: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, shellTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = shellKillGrace
		out, err := cmd.CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return ports.ToolExecutionResult{
					ID:       call.ID,
					Name:     call.Name,
					Status:   ports.ToolStatusError,
					Type:     ports.ResultText,
					Result:   string(out),
					Metadata: &ports.ResultMetadata{ErrorReason: ports.ErrorTimeout},
				}, nil
			}
			return ports.ToolExecutionResult{
				ID:       call.ID,
				Name:     call.Name,
				Status:   ports.ToolStatusError,
				Type:     ports.ResultText,
				Result:   fmt.Sprintf("%s\n%s", out, err),
				Metadata: &ports.ResultMetadata{ErrorReason: ports.ErrorUnknown},
			}, nil
		}

		return ports.ToolExecutionResult{
			ID:     call.ID,
			Name:   call.Name,
			Status: ports.ToolStatusSuccess,
			Type:   ports.ResultText,
			Result: string(out),
		}, nil
	}
}
