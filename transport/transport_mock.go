package transport

import (
	"context"
	"sync"
)

// MockTransport is a scriptable Transport for tests. Responses are consumed
// in FIFO order; every request is recorded.
type MockTransport struct {
	mu        sync.Mutex
	responses []mockReply
	calls     []Request
}

type mockReply struct {
	res *Response
	err error
}

// NewMockTransport creates an empty mock. A Roundtrip with no queued reply
// returns ErrNoData.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// QueueData queues a successful response.
func (m *MockTransport) QueueData(data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockReply{res: &Response{Data: data}})
}

// QueueErrors queues a response carrying GraphQL errors.
func (m *MockTransport) QueueErrors(errs ...Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockReply{res: &Response{Errors: errs}})
}

// QueueFailure queues a network-level failure.
func (m *MockTransport) QueueFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockReply{err: err})
}

func (m *MockTransport) Roundtrip(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.responses) == 0 {
		return nil, ErrNoData
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r.res, r.err
}

// Calls returns the recorded requests in order.
func (m *MockTransport) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
