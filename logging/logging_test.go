package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCriticalLogsErrorLevelWithCriticalField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)

	log.Critical().Msg("poll error")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.Equal(t, true, entry["critical"])
}

func TestSetMinLevelGatesCriticalSameAsError(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false).SetMinLevel(Critical)

	log.Warn().Msg("should be dropped")
	require.Zero(t, buf.Len())

	log.Critical().Msg("should pass")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":    Debug,
		"info":     Info,
		"warn":     Warn,
		"warning":  Warn,
		"error":    Error,
		"critical": Critical,
	}
	for s, want := range cases {
		got, ok := ParseLevel(s)
		require.True(t, ok, s)
		require.Equal(t, want, got, s)
	}

	_, ok := ParseLevel("nonsense")
	require.False(t, ok)
}
