package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	config "github.com/mwantia/goblob/internal/config/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(cfg config.LogServerConfig) (*LoggerServiceImpl, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	impl := &LoggerServiceImpl{
		cfg:    cfg,
		name:   "goblob",
		level:  Parse(cfg.Level),
		writer: buf,
	}
	return impl, buf
}

func TestParse(t *testing.T) {
	assert.Equal(t, Debug, Parse("debug"))
	assert.Equal(t, Warn, Parse("Warning"))
	assert.Equal(t, Info, Parse("loud"))
	assert.Equal(t, "ERROR", Error.String())
}

func TestLoggerService_FiltersByLevel(t *testing.T) {
	logger, buf := newBufferLogger(config.LogServerConfig{Level: "WARN", TimeFormat: "15:04", NoColor: true})

	logger.Info("ignored %d", 1)
	logger.Warn("kept %d", 2)

	assert.NotContains(t, buf.String(), "ignored")
	assert.Contains(t, buf.String(), "kept 2")
	assert.Contains(t, buf.String(), "[goblob]")
}

func TestLoggerService_LevelColors(t *testing.T) {
	previous := color.NoColor
	t.Cleanup(func() { color.NoColor = previous })

	color.NoColor = false
	logger, buf := newBufferLogger(config.LogServerConfig{Level: "DEBUG", TimeFormat: "15:04"})
	logger.Warn("careful")
	logger.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "\x1b[33m"))
	assert.NotContains(t, lines[1], "\x1b[")

	color.NoColor = true
	buf.Reset()
	logger.Error("no escapes")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestLoggerService_JSONNamed(t *testing.T) {
	logger, buf := newBufferLogger(config.LogServerConfig{Level: "DEBUG", TimeFormat: "15:04", JSON: true})

	logger.Named("sync").Debug("moved %s", "abc")

	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry.Level)
	assert.Equal(t, "goblob/sync", entry.Service)
	assert.Equal(t, "moved abc", entry.Message)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing to see")
	logger.Named("child").Info("still nothing")
}
