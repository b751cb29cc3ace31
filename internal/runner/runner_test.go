package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRunner_RecordsCommands(t *testing.T) {
	m := NewMockRunner()

	out, err := m.Run(context.Background(), 5*time.Second, Capture, "sh", "-c", "true")
	require.NoError(t, err)
	assert.Empty(t, out)

	require.Len(t, m.Commands, 1)
	assert.Equal(t, "sh", m.Commands[0].Name)
	assert.Equal(t, []string{"-c", "true"}, m.Commands[0].Args)
	assert.Equal(t, Capture, m.Commands[0].Mode)
	assert.Equal(t, 5*time.Second, m.Commands[0].Timeout)
}

func TestMockRunner_ScriptedResponses(t *testing.T) {
	m := NewMockRunner()
	m.AddResponse("helper --apply", []byte("done"), nil)
	m.AddResponse("helper --fail", nil, errors.New("exit status 1"))

	out, err := m.Run(context.Background(), 0, Capture, "helper", "--apply")
	require.NoError(t, err)
	assert.Equal(t, "done", string(out))

	_, err = m.Run(context.Background(), 0, Capture, "helper", "--fail")
	assert.Error(t, err)
}

func TestMockRunner_ResponseFunc(t *testing.T) {
	m := NewMockRunner()
	m.ResponseFunc = func(name string, args ...string) ([]byte, error) {
		return []byte(name), nil
	}

	out, err := m.Run(context.Background(), 0, Detach, "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", string(out))
}
