package provider

import (
	"context"
	"sync"

	"github.com/finwire/paycore/internal/idgen"
	"github.com/finwire/paycore/internal/metrics"
)

// Mock is a scriptable in-memory provider for tests and local development.
// By default every operation succeeds; individual operations can be scripted
// to fail with a given error.
type Mock struct {
	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

// NewMock creates a mock provider that accepts everything.
func NewMock() *Mock {
	return &Mock{
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Supports(currency, method string) bool { return true }

// FailWith scripts op ("initialize", "authorize", "capture", "refund") to
// return err on every subsequent call until cleared with a nil err.
func (m *Mock) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Mock) do(op string, req Request) (*Result, error) {
	m.mu.Lock()
	m.calls[op]++
	err := m.failures[op]
	ref := req.Reference
	if ref == "" {
		ref = idgen.New("mockref")
	}
	m.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ProviderCallsTotal.WithLabelValues(op, result).Inc()

	if err != nil {
		return nil, err
	}
	return &Result{Reference: ref}, nil
}

func (m *Mock) Initialize(ctx context.Context, req Request) (*Result, error) {
	return m.do("initialize", req)
}

func (m *Mock) Authorize(ctx context.Context, req Request) (*Result, error) {
	return m.do("authorize", req)
}

func (m *Mock) Capture(ctx context.Context, req Request) (*Result, error) {
	return m.do("capture", req)
}

func (m *Mock) Refund(ctx context.Context, req Request) (*Result, error) {
	return m.do("refund", req)
}
