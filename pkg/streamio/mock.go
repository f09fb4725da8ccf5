package streamio

import (
	"context"
	"io"
	"sync"
)

func init() {
	mustRegisterSource(func(p Params) (InputSource, error) {
		s, err := NewMockInputSource(p)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, "MockInputSource", "mock_input")
	mustRegisterSink(func(p Params) (OutputSink, error) { return NewMockOutputSink(p), nil },
		"MockOutputSink", "mock_output")
}

// MockInputSource replays the values listed under the "output" param, one
// per Read, then returns io.EOF.
type MockInputSource struct {
	mu       sync.Mutex
	output   []any
	next     int
	log      []any
	callback func(any)
}

func NewMockInputSource(params Params) (*MockInputSource, error) {
	out, err := params.Slice("output")
	if err != nil {
		return nil, err
	}
	return &MockInputSource{output: out}, nil
}

func (m *MockInputSource) Initialize(context.Context) error { return nil }
func (m *MockInputSource) Shutdown() error                  { return nil }

func (m *MockInputSource) RegisterCallback(fn func(any)) {
	m.mu.Lock()
	m.callback = fn
	m.mu.Unlock()
}

func (m *MockInputSource) HasCallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callback != nil
}

func (m *MockInputSource) Read() (any, error) {
	m.mu.Lock()
	if m.next >= len(m.output) {
		m.mu.Unlock()
		return nil, io.EOF
	}
	v := m.output[m.next]
	m.next++
	m.log = append(m.log, v)
	cb := m.callback
	m.mu.Unlock()

	if cb != nil {
		cb(v)
	}
	return v, nil
}

// Log returns every value read so far.
func (m *MockInputSource) Log() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any{}, m.log...)
}

// MockOutputSink records writes in memory.
type MockOutputSink struct {
	mu          sync.Mutex
	log         []any
	initialized bool
}

func NewMockOutputSink(Params) *MockOutputSink {
	return &MockOutputSink{}
}

func (m *MockOutputSink) Initialize(context.Context) error {
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MockOutputSink) Shutdown() error {
	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

func (m *MockOutputSink) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *MockOutputSink) Write(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.log = append(m.log, v)
	return nil
}

func (m *MockOutputSink) Log() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any{}, m.log...)
}
