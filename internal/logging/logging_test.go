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
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := Stage(New(Options{Level: "info", Format: "json", Output: &buf}), "generate")
	log.Debug().Msg("hidden")
	log.Info().Str("image", "a-p1-01").Msg("Saved")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chartstudy", entry["service"])
	assert.Equal(t, "generate", entry["stage"])
	assert.Equal(t, "a-p1-01", entry["image"])
	assert.Equal(t, "Saved", entry["message"])
}
