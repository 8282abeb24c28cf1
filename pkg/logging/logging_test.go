// pkg/logging/logging_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: Temp directories
// PURPOSE: Test logger setup and the build-scoped logging helpers

package logging

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		verbosity int
		wantLevel zerolog.Level
	}{
		{"default warn level", 0, zerolog.WarnLevel},
		{"info level", 1, zerolog.InfoLevel},
		{"debug level", 2, zerolog.DebugLevel},
		{"trace level", 3, zerolog.TraceLevel},
		{"high verbosity defaults to trace", 5, zerolog.TraceLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			t.Setenv("XDG_STATE_HOME", tempDir)

			SetupLogger(tt.verbosity)

			assert.Equal(t, tt.wantLevel, zerolog.GlobalLevel())
			_, err := os.Stat(filepath.Join(tempDir, "formulary", "formulary.log"))
			assert.NoError(t, err)
		})
	}
}

func TestLogFilePath(t *testing.T) {
	t.Run("with XDG_STATE_HOME", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "/custom/state")
		assert.Equal(t, filepath.Join("/custom/state", "formulary", "formulary.log"), LogFilePath())
	})

	t.Run("without XDG_STATE_HOME", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "")
		assert.Contains(t, filepath.ToSlash(LogFilePath()), ".local/state/formulary/formulary.log")
	})
}

func TestGetLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = zerolog.New(&buf)

	logger := GetLogger("executor")
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"executor"`)
	assert.Contains(t, buf.String(), "hello")
}

func TestForBuild(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	logger := ForBuild(zerolog.New(&buf), "r-daily", "4.5.0", "0b7c1e2a")
	logger.Info().Msg("Installed")

	assert.Contains(t, buf.String(), `"formula":"r-daily"`)
	assert.Contains(t, buf.String(), `"version":"4.5.0"`)
	assert.Contains(t, buf.String(), `"run_id":"0b7c1e2a"`)
}

func TestStage(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		done := Stage(zerolog.New(&buf).Level(zerolog.DebugLevel), "fetch")
		done(nil)

		assert.Contains(t, buf.String(), "Stage started")
		assert.Contains(t, buf.String(), "Stage completed")
		assert.Contains(t, buf.String(), `"stage":"fetch"`)
		assert.Contains(t, buf.String(), "duration")
	})

	t.Run("failure", func(t *testing.T) {
		var buf bytes.Buffer
		done := Stage(zerolog.New(&buf).Level(zerolog.DebugLevel), "link")
		done(stderrors.New("target exists"))

		assert.Contains(t, buf.String(), "Stage failed")
		assert.Contains(t, buf.String(), `"level":"error"`)
		assert.Contains(t, buf.String(), "target exists")
	})
}
