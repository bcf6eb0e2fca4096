package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "stockbot", root.Use)
	assert.NotEmpty(t, GetVersion())
}

func TestSubcommandsRegistered(t *testing.T) {
	root := GetRootCmd()

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"serve", "status", "stop"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*1e9))
	assert.Equal(t, "2m30s", formatDuration(150*1e9))
	assert.Equal(t, "1h5m10s", formatDuration(3910*1e9))
}

func TestIsRunningWithMissingFile(t *testing.T) {
	require.False(t, isRunning("/nonexistent/stockbot.pid"))
}
