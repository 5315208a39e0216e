// Package events implements the fan-out of AgentEvents to presentation
// layers, generalizing the teacher's one-struct-per-message ELM channel
// (internal/tui/messages.go) into a plain buffered Go channel since there is
// no UI loop to post into here.
package events

import (
	"context"
	"sync"

	"github.com/agentcore/runtime/internal/ports"
)

// Sink is anything that can receive AgentEvents. An Orchestrator holds one
// by reference and never owns its lifecycle.
type Sink interface {
	Emit(evt ports.AgentEvent)
}

// Channel is a Sink backed by a buffered Go channel. Emit never blocks
// indefinitely: if the channel is closed the event is silently dropped so a
// consumer that stopped reading can't wedge the turn loop.
type Channel struct {
	mu     sync.RWMutex
	ch     chan ports.AgentEvent
	closed bool
}

// NewChannel creates a Channel with the given buffer size.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 64
	}
	return &Channel{ch: make(chan ports.AgentEvent, buffer)}
}

// Emit sends evt, or drops it if the channel has been closed.
func (c *Channel) Emit(evt ports.AgentEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- evt:
	default:
		// Buffer full: drop rather than block the turn loop. A slow
		// consumer should read faster or use a larger buffer.
	}
}

// Events returns the receive-only channel consumers read from.
func (c *Channel) Events() <-chan ports.AgentEvent {
	return c.ch
}

// Close marks the channel closed and closes the underlying Go channel.
// Safe to call once; a second call is a no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Forwarder tags every event it receives with a sub-agent id before
// forwarding it to a parent Sink. Grounded on the "per-agent event buffer
// referencing a shared parent sink" pattern flagged for re-architecture in
// spec §9: the parent owns the Sink, children hold a Forwarder — no
// back-reference cycle.
type Forwarder struct {
	parent  Sink
	agentID string
}

// NewForwarder returns a Sink that re-tags events with agentID before
// delegating to parent. Used by the Specialist Agent Manager to fold a
// sub-agent's event stream into the parent's.
func NewForwarder(parent Sink, agentID string) *Forwarder {
	return &Forwarder{parent: parent, agentID: agentID}
}

func (f *Forwarder) Emit(evt ports.AgentEvent) {
	if f.parent == nil {
		return
	}
	evt.AgentID = f.agentID
	f.parent.Emit(evt)
}

// Noop is a Sink that discards every event. Useful for tests and for
// sub-agents whose events are collected locally rather than forwarded.
type Noop struct{}

func (Noop) Emit(ports.AgentEvent) {}

// Collector is a Sink that buffers every event it receives, for tests and
// for any caller that wants a local event buffer.
type Collector struct {
	mu     sync.Mutex
	events []ports.AgentEvent
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Emit(evt ports.AgentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

// All returns a snapshot of every event collected so far.
func (c *Collector) All() []ports.AgentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.AgentEvent(nil), c.events...)
}

// Tee fans a single Emit call out to multiple sinks, e.g. a Collector plus a
// Forwarder, so a sub-agent's events are both kept locally and selectively
// relayed upward.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Emit(evt ports.AgentEvent) {
	for _, s := range t {
		if s != nil {
			s.Emit(evt)
		}
	}
}

var _ = context.Background // keep context import available for future signal-aware sinks
