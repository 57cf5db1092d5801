package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected zapcore.Level
	}{
		{"debug level", "debug", zapcore.DebugLevel},
		{"info level", "info", zapcore.InfoLevel},
		{"warn level", "warn", zapcore.WarnLevel},
		{"warning level", "warning", zapcore.WarnLevel},
		{"error level", "error", zapcore.ErrorLevel},
		{"uppercase DEBUG", "DEBUG", zapcore.DebugLevel},
		{"mixed case Info", "Info", zapcore.InfoLevel},
		{"invalid level", "invalid", zapcore.InfoLevel}, // defaults to info
		{"empty string", "", zapcore.InfoLevel},          // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Empty(t, cfg.FilePath)
	assert.Equal(t, int64(100), cfg.MaxSize)
	assert.Equal(t, 5, cfg.MaxBackups)
	assert.True(t, cfg.Console)
	assert.False(t, cfg.Development)
}

func TestNewLogger(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		logger, err := NewLogger(Config{Level: zapcore.InfoLevel, Console: true})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("development console", func(t *testing.T) {
		logger, err := NewLogger(Config{Level: zapcore.DebugLevel, Console: true, Development: true})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "test.log")

		logger, err := NewLogger(Config{
			Level:      zapcore.DebugLevel,
			FilePath:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
		})
		require.NoError(t, err)

		logger.Named("frontier").Info("test message", zap.String("url", "http://a.test/"))
		require.NoError(t, logger.Sync())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		line := string(content)
		assert.True(t, strings.Contains(line, `"msg":"test message"`), line)
		assert.True(t, strings.Contains(line, `"logger":"frontier"`), line)
		assert.True(t, strings.Contains(line, `"url":"http://a.test/"`), line)
	})

	t.Run("level filters file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := NewLogger(Config{Level: zapcore.WarnLevel, FilePath: logFile, MaxSize: 10})
		require.NoError(t, err)

		logger.Info("dropped")
		logger.Warn("kept")
		require.NoError(t, logger.Sync())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(content), "dropped")
		assert.Contains(t, string(content), "kept")
	})

	t.Run("no outputs configured defaults to console", func(t *testing.T) {
		logger, err := NewLogger(Config{Level: zapcore.InfoLevel})
		require.NoError(t, err)
		require.NotNil(t, logger)
	})
}

func TestSetDefault(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	restore := zap.L()
	defer zap.ReplaceGlobals(restore)

	err := SetDefault(Config{
		Level:      zapcore.DebugLevel,
		FilePath:   logFile,
		MaxSize:    10,
		MaxBackups: 3,
	})
	require.NoError(t, err)

	zap.L().Info("test message from default logger")
	require.NoError(t, zap.L().Sync())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test message from default logger")
}
