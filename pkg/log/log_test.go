package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level Level
		want  zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			Init(Config{Level: tt.level, JSONOutput: true, Output: &bytes.Buffer{}})
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestChildLoggersCarryFields(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	logger := WithTarget(WithTaskID("task-1"), "192.0.2.10")
	logger.Info().Msg("Declaration accepted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "task-1", entry["task_id"])
	assert.Equal(t, "192.0.2.10", entry["target"])
	assert.Equal(t, "Declaration accepted", entry["message"])

	buf.Reset()
	apiLogger := WithComponent("api")
	apiLogger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
