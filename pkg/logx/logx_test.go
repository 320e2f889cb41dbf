package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

func TestFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Component("delivery").With(String("source", "sonarr"))

	log.Info("sent", Int("records", 3), Err(nil), String("source", "radarr"))
	m := lastLine(t, &buf)
	assert.Equal(t, "sent", m["message"])
	assert.Equal(t, "delivery", m["comp"])
	assert.Equal(t, float64(3), m["records"])
	assert.NotContains(t, m, "err")
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logx_test.go:"), m["caller"])

	buf.Reset()
	log.Trace("hidden")
	assert.Empty(t, buf.String())
	assert.True(t, log.Enabled(LevelDebug))
	assert.False(t, log.Enabled(LevelTrace))
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("dropped")
	assert.False(t, Nop().IsZero())
	assert.False(t, Nop().Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zerolog.TraceLevel, parseLevel(" trace "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}

func TestServiceApplyFollowsDerivedLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, root := NewService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log := root.Component("pipeline")

	log.Debug("before")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("after")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "before")
	assert.Contains(t, string(b), `"message":"after"`)
	assert.Contains(t, string(b), `"comp":"pipeline"`)
}
