package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/km-arc/modgraph/framework/config"
	"github.com/km-arc/modgraph/framework/logging"
)

func TestNew_JSONAndLevel(t *testing.T) {
	var out bytes.Buffer
	log, _ := logging.New(config.LogConfig{Level: "warn", Format: "json"}, &out)

	log.Info().Msg("hidden")
	log.Warn().Str("module", "Users").Msg("shown")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "shown", entry["message"])
	require.Equal(t, "Users", entry["module"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var out bytes.Buffer
	log, _ := logging.New(config.LogConfig{Level: "loud", Format: "console"}, &out)
	log.Debug().Msg("debug")
	log.Info().Msg("info")
	require.NotContains(t, out.String(), "debug")
	require.Contains(t, out.String(), "info")
}

func TestBufferedWriter_HoldsUntilFlush(t *testing.T) {
	var out bytes.Buffer
	log, bw := logging.New(config.LogConfig{Format: "json"}, &out)

	log.Info().Msg("before")
	bw.Buffer()
	require.True(t, bw.Buffering())
	log.Info().Msg("during")
	require.NotContains(t, out.String(), "during")

	require.NoError(t, bw.Flush())
	require.False(t, bw.Buffering())
	require.Contains(t, out.String(), "during")
	log.Info().Msg("after")

	s := out.String()
	require.Less(t, strings.Index(s, "before"), strings.Index(s, "during"))
	require.Less(t, strings.Index(s, "during"), strings.Index(s, "after"))
}

func TestPass_TagsLogger(t *testing.T) {
	var out bytes.Buffer
	log, _ := logging.New(config.LogConfig{Format: "json"}, &out)
	passLog, id := logging.Pass(log)
	passLog.Info().Msg("x")
	require.NotEmpty(t, id)
	require.Contains(t, out.String(), `"pass":"`+id+`"`)
}
