package backend

import (
	"context"
)

// Mock is a scripted Backend for tests: each call to StreamCompletion pops
// the next entry from Responses (once the script is exhausted, every further
// call repeats the last entry). Grounded on the mock-provider convention used
// throughout the example corpus's provider tests.
type Mock struct {
	Name_     string
	Responses []MockResponse

	calls int
}

// MockResponse scripts one completion's worth of streamed events.
type MockResponse struct {
	Events []StreamEvent
	Err    error // returned from StreamCompletion itself, before any events
}

func NewMock(name string, responses ...MockResponse) *Mock {
	return &Mock{Name_: name, Responses: responses}
}

func (m *Mock) Name() string { return m.Name_ }

func (m *Mock) next() MockResponse {
	if len(m.Responses) == 0 {
		return MockResponse{Events: []StreamEvent{{Type: StreamDone}}}
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[idx]
}

func (m *Mock) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	resp := m.next()
	if resp.Err != nil {
		return nil, resp.Err
	}

	ch := make(chan StreamEvent, len(resp.Events))
	for _, evt := range resp.Events {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func (m *Mock) GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	events, err := m.StreamCompletion(ctx, req)
	if err != nil {
		return CompletionResponse{}, err
	}
	return Collect(ctx, events, nil)
}

func (m *Mock) Close() error { return nil }
