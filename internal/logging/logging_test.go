package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger := New(slog.LevelInfo, &console, nil)
	logger.Debug("hidden")
	logger.Info("certificate issued", slog.String("serial", "0a"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(console.Bytes(), &rec))
	assert.Equal(t, "certificate issued", rec["msg"])
	assert.Equal(t, "0a", rec["serial"])
}

func TestNewFansOutToFile(t *testing.T) {
	var console, file bytes.Buffer
	logger := New(slog.LevelDebug, &console, &file)
	logger.Debug("crl generated", slog.String("issuer", "CN=Root"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &rec))
	assert.Equal(t, "CN=Root", rec["issuer"])
	assert.Contains(t, console.String(), "msg=\"crl generated\"")
	assert.Contains(t, console.String(), "CN=Root")
}
