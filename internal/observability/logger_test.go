// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/extbridge/internal/config"
)

// -- Test Helper Functions --

// bufferSyncer adapts a bytes.Buffer to zapcore.WriteSyncer.
func bufferSyncer(buf *bytes.Buffer) zapcore.WriteSyncer {
	return zapcore.AddSync(buf)
}

// -- Test Cases --

func TestNewLogger(t *testing.T) {
	t.Run("ConsoleWithColors", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "extbridge",
			Colors:      config.ColorConfig{Info: "green"},
		}, bufferSyncer(&buf))
		require.NoError(t, err)

		logger.Named("dispatcher").Info("Command dispatched.")
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, ansiColors["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "extbridge.dispatcher.")
		assert.Contains(t, out, "Command dispatched.")
	})

	t.Run("UncoloredLevelsStayPlain", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(config.LoggerConfig{Level: "debug", Format: "console"}, bufferSyncer(&buf))
		require.NoError(t, err)

		logger.Debug("plain")
		assert.Contains(t, buf.String(), "DEBUG")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, bufferSyncer(&buf))
		require.NoError(t, err)

		logger.Warn("Rate limited.", zap.String("remote", "127.0.0.1"))
		logger.Debug("below threshold")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "exactly one JSON line expected")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "Rate limited.", entry["msg"])
		assert.Equal(t, "127.0.0.1", entry["remote"])
	})

	t.Run("FileRotation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bridge.log")
		var console bytes.Buffer
		logger, err := NewLogger(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, bufferSyncer(&console))
		require.NoError(t, err)

		logger.Error("This should go to the file.")
		_ = logger.Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"This should go to the file."`)
		assert.Contains(t, console.String(), "This should go to the file.")
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger(config.LoggerConfig{Level: "loud"}, bufferSyncer(&bytes.Buffer{}))
		assert.Error(t, err)
	})
}

func TestInitialize(t *testing.T) {
	t.Run("OnlyOnce", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, bufferSyncer(&buf))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, bufferSyncer(&buf))

		assert.Same(t, first, GetLogger())
		GetLogger().Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})

	t.Run("InvalidLevelFallsBackToInfo", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "loud", Format: "json"}, bufferSyncer(&buf))

		assert.Contains(t, buf.String(), "defaulting to info")
		assert.True(t, GetLogger().Core().Enabled(zap.InfoLevel))
		assert.False(t, GetLogger().Core().Enabled(zap.DebugLevel))
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("FallbackBeforeInitialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
		assert.Nil(t, globalLogger.Load(), "fallback must not be stored globally")
	})

	t.Run("ReturnsGlobalAfterInitialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		InitializeLogger(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}
