package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromZapCarriesAttributes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core))

	logger.Info("audit entries archived", "archived", 3, "tenantID", "t-1")
	logger.Warn("recalculation degraded", "rule", "asset_depreciation")
	logger.Error("job failed", "jobID", "j-1")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "audit entries archived", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "t-1", entries[0].ContextMap()["tenantID"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestFromZapFiltersDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core))

	logger.Debug("history version recorded")
	assert.Zero(t, logs.Len())

	core, logs = observer.New(zapcore.Level(-4))
	FromZap(zap.New(core)).Debug("history version recorded")
	assert.Equal(t, 1, logs.Len())
}

func TestNew(t *testing.T) {
	logger, sync, err := New(&Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	sync()

	_, _, err = New(&Config{Level: "verbose"})
	assert.ErrorContains(t, err, "unknown log level")

	_, _, err = New(&Config{Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")
}
