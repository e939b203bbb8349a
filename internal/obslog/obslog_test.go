package obslog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestSetAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	Named("hub").Info("peer_bound", zap.String("session_id", "s1"))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hub", entries[0].LoggerName)
	assert.Equal(t, "s1", entries[0].ContextMap()["session_id"])
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "x.log")
	err := Init(Options{Level: "info", ToFile: true, File: path, Format: "json"})
	require.NoError(t, err)
	t.Cleanup(func() { Set(nil) })
	L().Info("hello")
	Sync()
	assert.FileExists(t, path)
}
