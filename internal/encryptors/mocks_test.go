package encryptors

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jbweber/anvil/internal/shell"
)

// runCall records one command run through mockRunner.
type runCall struct {
	Name  string
	Args  []string
	Stdin string
}

func (c runCall) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// mockRunner is a shell.Runner that records commands.
type mockRunner struct {
	mu sync.Mutex

	RunFunc func(name string, args ...string) (string, error)

	Calls []runCall
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		RunFunc: func(string, ...string) (string, error) { return "", nil },
	}
}

func (m *mockRunner) Run(_ context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	call := runCall{Name: name, Args: args}
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		call.Stdin = string(data)
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()

	return m.RunFunc(name, args...)
}

// exitWith returns a RunFunc failing every command with code.
func exitWith(code int) func(string, ...string) (string, error) {
	return func(name string, args ...string) (string, error) {
		return "", &shell.RunError{Command: name, ExitCode: code, Err: io.ErrUnexpectedEOF}
	}
}

// mockKeys is a KeyManager over a fixed table.
type mockKeys struct {
	keys map[string][]byte
	err  error
}

func (m *mockKeys) Key(_ context.Context, keyID string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	key, ok := m.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// mockEncryptor returns a fixed attach result.
type mockEncryptor struct {
	result      AttachResult
	detachErr   error
	attachCalls int
	detachCalls int
}

func (m *mockEncryptor) Attach(context.Context, *Metadata) AttachResult {
	m.attachCalls++
	return m.result
}

func (m *mockEncryptor) Detach(context.Context, *Metadata) error {
	m.detachCalls++
	return m.detachErr
}
