package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestInitAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: zerolog.DebugLevel, Output: &buf})
	defer Init(DefaultConfig())

	log := Component("extension")
	log.Info().Str("skill", "weather").Msg("skill installed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "extension", entry["component"])
	assert.Equal(t, "weather", entry["skill"])
	assert.Equal(t, "skill installed", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: zerolog.WarnLevel, Output: &buf})
	defer Init(DefaultConfig())

	Debug().Msg("hidden")
	Info().Msg("hidden too")
	Warn().Msg("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
