package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFilesAppliesOverrides(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"

[server]
port = 9000

[dispatch]
render_url = "https://render.example.com"
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9001
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.True(t, config.IsProduction())
	assert.Equal(t, 9001, config.Server.Port, "later file wins")
	assert.Equal(t, "https://render.example.com", config.Dispatch.RenderURL)
	// Defaults survive where files are silent.
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Dispatch.RequestTimeout)
}

func TestEnvOverridesBeatFiles(t *testing.T) {
	t.Setenv("CERTMILL_SERVER_PORT", "7777")
	t.Setenv("CERTMILL_DISPATCH_RENDER_URL", "https://env.example.com")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7777, config.Server.Port)
	assert.Equal(t, "https://env.example.com", config.Dispatch.RenderURL)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 8123, "0.0.0.0")

	assert.Equal(t, 8123, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	// Zero values leave config untouched.
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8123, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestTokenAudienceFallsBackToRenderURL(t *testing.T) {
	dispatch := &DispatchConfig{RenderURL: "https://render.example.com"}
	assert.Equal(t, "https://render.example.com", dispatch.TokenAudience())

	dispatch.Audience = "https://audience.example.com"
	assert.Equal(t, "https://audience.example.com", dispatch.TokenAudience())
}
