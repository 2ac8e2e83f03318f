package server

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	config "github.com/mwantia/goblob/internal/config/server"
)

func runGenerate(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewConfigCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"generate"}, args...))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestConfigGenerate(t *testing.T) {
	dir := t.TempDir()

	out := runGenerate(t, "--output", dir)
	assert.Contains(t, out, "Generated")

	data, err := os.ReadFile(filepath.Join(dir, "goblob.yaml"))
	require.NoError(t, err)

	var cfg config.BaseServerConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, config.GetServerDefault(), cfg)
}

func TestConfigGenerate_KeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "goblob.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("store:\n  path: /srv/models\n"), 0644))

	out := runGenerate(t, "--output", dir)
	assert.Contains(t, out, "Skipping")

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "store:\n  path: /srv/models\n", string(data))

	runGenerate(t, "--output", dir, "--overwrite")
	data, err = os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(data), "127.0.0.1:8390")
}
