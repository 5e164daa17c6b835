package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec_Run(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := NewExec("", log)

	out, err := e.Run(context.Background(), strings.NewReader("hello"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExec_RunExitCode(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := NewExec("", log)

	_, err := e.Run(context.Background(), nil, "sh", "-c", "echo boom >&2; exit 5")
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 5, runErr.ExitCode)
	assert.Equal(t, 5, ExitStatus(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestExec_RootHelperPrefix(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := NewExec("env", log)

	out, err := e.Run(context.Background(), nil, "echo", "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "run error", err: &RunError{ExitCode: 7}, want: 7},
		{name: "wrapped run error", err: fmt.Errorf("attach: %w", &RunError{ExitCode: 4}), want: 4},
		{name: "plain error", err: errors.New("nope"), want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitStatus(tt.err))
		})
	}
}
