package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LENAX/relay-agent/pkg/config"
)

func TestSetup_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	l, err := Setup(config.LogConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	l.Sugar().Infof("[调度器] 已启动: %s", "test")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[调度器] 已启动: test"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zap.InfoLevel, parseLevel("unknown"))
}

func TestWatermillAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewWatermillAdapter(zap.New(core))

	adapter.With(watermill.LogFields{"topic": "target.closed"}).
		Error("handler failed", errors.New("boom"), watermill.LogFields{"attempt": 1})
	adapter.Trace("trace message", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "handler failed", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "target.closed", fields["topic"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}
