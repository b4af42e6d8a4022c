package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"init", "serve", "mcp", "capture", "tasks", "done", "triage", "briefing", "maintain", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing command %s", name)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "call mom", truncate("call mom", 20))
	assert.Equal(t, "buy milk and...", truncate("buy milk and\neggs at the store", 15))
}

func TestUserErrorHidesStorageFaults(t *testing.T) {
	err := userError(apperr.NewStorageUnavailable("insert task", errors.New("disk I/O error")))
	assert.Equal(t, apperr.UnavailableMessage, err.Error())
	assert.NoError(t, userError(nil))

	err = userError(apperr.NewEntityNotFound("task", "42"))
	assert.NotContains(t, err.Error(), "disk")
}
