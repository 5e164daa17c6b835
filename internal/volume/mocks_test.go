package volume

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jbweber/anvil/internal/shell"
)

// mockRunner is a shell.Runner that records commands.
type mockRunner struct {
	mu sync.Mutex

	RunFunc func(name string, args ...string) (string, error)

	Calls []string
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		RunFunc: func(string, ...string) (string, error) { return "", nil },
	}
}

func (m *mockRunner) Run(_ context.Context, _ io.Reader, name string, args ...string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, strings.Join(append([]string{name}, args...), " "))
	m.mu.Unlock()
	return m.RunFunc(name, args...)
}

func (m *mockRunner) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

func exitError(code int) error {
	return &shell.RunError{Command: "rbd", ExitCode: code, Err: io.ErrUnexpectedEOF}
}

// mockMapper is a LocalMapper that records calls.
type mockMapper struct {
	mu sync.Mutex

	ConnectFunc    func(data NetConnectionData) (string, error)
	DisconnectFunc func(data NetConnectionData) error

	ConnectCalls    []NetConnectionData
	DisconnectCalls []NetConnectionData
}

func newMockMapper(device string) *mockMapper {
	return &mockMapper{
		ConnectFunc:    func(NetConnectionData) (string, error) { return device, nil },
		DisconnectFunc: func(NetConnectionData) error { return nil },
	}
}

func (m *mockMapper) Connect(_ context.Context, data NetConnectionData) (string, error) {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, data)
	m.mu.Unlock()
	return m.ConnectFunc(data)
}

func (m *mockMapper) Disconnect(_ context.Context, data NetConnectionData) error {
	m.mu.Lock()
	m.DisconnectCalls = append(m.DisconnectCalls, data)
	m.mu.Unlock()
	return m.DisconnectFunc(data)
}
