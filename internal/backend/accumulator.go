package backend

import "github.com/agentcore/runtime/internal/ports"

// accumulator reassembles streamed tool-call fragments into complete
// ports.ToolCall values without ever re-parsing partial JSON: argument
// fragments are concatenated as raw strings and decoded once, by the
// caller, after the stream ends.
//
// Generalizes the teacher's toolCallAccumulator (internal/llm/loop.go),
// which merged fragments purely by a provider-assigned ToolCallIndex. Some
// backends need a richer merge order: match by id when the fragment
// carries one, else by index, else fall back to continuing whatever tool
// call was most recently begun. That fallback matters for backends that
// stream tool-call argument deltas without repeating either id or index
// on continuation fragments.
type accumulator struct {
	byID    map[string]int
	byIndex map[int]int
	calls   []ports.ToolCall
	last    int // position of the most recently begun call, or -1
}

func newAccumulator() *accumulator {
	return &accumulator{
		byID:    make(map[string]int),
		byIndex: make(map[int]int),
		last:    -1,
	}
}

func (a *accumulator) begin(evt StreamEvent) {
	if evt.ToolCallID != "" {
		if pos, ok := a.byID[evt.ToolCallID]; ok {
			// Same id begun again: continue the existing entry rather
			// than starting a duplicate.
			a.last = pos
			return
		}
	}

	pos := len(a.calls)
	a.calls = append(a.calls, ports.ToolCall{ID: evt.ToolCallID, Name: evt.ToolCallName})
	if evt.ToolCallID != "" {
		a.byID[evt.ToolCallID] = pos
	}
	a.byIndex[evt.ToolCallIndex] = pos
	a.last = pos
}

// delta appends an argument fragment, resolving its target position by id,
// then by index, then by continuing the most recently begun call.
func (a *accumulator) delta(evt StreamEvent) {
	pos, ok := -1, false

	if evt.ToolCallID != "" {
		pos, ok = a.byID[evt.ToolCallID]
	}
	if !ok {
		pos, ok = a.byIndex[evt.ToolCallIndex]
	}
	if !ok && a.last >= 0 {
		pos, ok = a.last, true
	}
	if !ok {
		// A delta with nothing to attach to and no prior call: synthesize
		// an anonymous entry so the fragment isn't silently dropped.
		pos = len(a.calls)
		a.calls = append(a.calls, ports.ToolCall{})
		a.last = pos
	}

	a.calls[pos].Arguments += evt.ToolCallArgs
}

func (a *accumulator) finalize() []ports.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	return a.calls
}
