package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Domenick1991/bookingcore/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	appCfg := config.AppConfig{Name: "bookingcore", Environment: "test", Version: "1.0.0"}

	t.Run("DefaultStdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		require.NotNil(t, closer)
		assert.NoError(t, closer.Close())
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("ConsoleDebug", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{Level: "debug", Output: "stderr", Format: "console"}, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
		require.NotNil(t, closer)
		assert.NoError(t, closer.Close())
	})

	t.Run("ClosingStdoutTwiceIsSafe", func(t *testing.T) {
		_, closer, err := New(config.LoggingConfig{Output: "stdout"}, appCfg)
		require.NoError(t, err)
		assert.NotPanics(t, func() {
			_ = closer.Close()
			_ = closer.Close()
		})
	})

	t.Run("File", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "booking.log")
		logger, closer, err := New(config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath}, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)
		logger.Error().Msg("written")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"app":"bookingcore"`)
		assert.Contains(t, string(data), "written")
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("UnknownOutput", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "syslog"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("InvalidLevelFallsBackToInfo", func(t *testing.T) {
		logger, _, err := New(config.LoggingConfig{Level: "loud"}, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})
}
