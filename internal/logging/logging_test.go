package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.log")
	logger := NewLogger(Config{Level: "debug", Output: path}, "flightscan")

	logger.Debug().Str("route", "CDG-JFK").Msg("route pass finished")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"service":"flightscan"`)
	assert.Contains(t, string(body), `"route":"CDG-JFK"`)
}

func TestNewLoggerFallsBackOnBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "scan.log")
	logger := NewLogger(Config{Output: path}, "")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
