package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest(t *testing.T) {
	files, directory, message = []string{"a.txt"}, "photos", "hello"
	t.Cleanup(func() { files, directory, message = nil, "", "" })

	req := buildRequest([]string{"b.txt", "c.txt"})

	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, req.Files)
	assert.Equal(t, "photos", req.Directory)
	assert.Equal(t, "hello", req.Caption)
	assert.False(t, req.Empty())
}

func TestBuildRequest_Empty(t *testing.T) {
	files, directory, message = nil, "", "only a caption"
	t.Cleanup(func() { message = "" })

	assert.True(t, buildRequest(nil).Empty())
}

func TestSetupLogging_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vc.log")
	jsonOutput = true
	t.Cleanup(func() {
		jsonOutput = false
		if openLogFile != nil {
			_ = openLogFile.Close()
			openLogFile = nil
		}
		log.Logger = zerolog.New(os.Stderr)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	setupLogging(path)
	log.Info().Msg("first run")
	setupLogging(path)
	log.Error().Msg("second run")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first run")
	assert.Contains(t, string(data), "second run")
}

func TestSetupLogging_Levels(t *testing.T) {
	t.Cleanup(func() {
		verbose, quiet = false, false
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	verbose = true
	setupLogging("")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	verbose, quiet = false, true
	setupLogging("")
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}

func TestSetupLogging_UnwritableFileFallsBackToConsole(t *testing.T) {
	t.Cleanup(func() {
		log.Logger = zerolog.New(os.Stderr)
	})

	setupLogging(filepath.Join(t.TempDir(), "missing", "dir", "vc.log"))

	assert.Nil(t, openLogFile)
	assert.NotPanics(t, func() { log.Info().Msg("still logging") })
}

func TestFormatDelays(t *testing.T) {
	assert.Equal(t, "2s, 4s", formatDelays([]time.Duration{2 * time.Second, 4 * time.Second}))
	assert.Equal(t, "no retries", formatDelays(nil))
}
