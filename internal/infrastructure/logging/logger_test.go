package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := New(Config{Level: level, OutputPaths: []string{"stderr"}})
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestForWorkspaceAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core)).ForWorkspace("effect")

	logger.Info("boot stage", Stage("mount"), Session("sess_1"), Path("index.js"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "effect", fields["workspace"])
	assert.Equal(t, "mount", fields["stage"])
	assert.Equal(t, "sess_1", fields["session"])
	assert.Equal(t, "index.js", fields["path"])
}

func TestWrapNil(t *testing.T) {
	logger := Wrap(nil)
	require.NotNil(t, logger)
	logger.Named("x").Info("discarded")
}
