package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Options{JSON: true, Out: &buf}), "trainer")
	logger.Info().Int("iteration", 5).Msg("Checkpoint written")
	logger.Debug().Msg("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trainer", line["component"])
	assert.Equal(t, "Checkpoint written", line["message"])
	assert.EqualValues(t, 5, line["iteration"])
	assert.Contains(t, line, "time")
}

func TestConsoleLoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Debug: true, Out: &buf})
	logger.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
