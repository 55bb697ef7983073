package portregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ports.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_GetKnownService(t *testing.T) {
	path := writeManifest(t, `{"trade_manager": {"port": 4001}}`)
	os.Setenv("TRADING_SYSTEM_HOST", "10.0.0.5")
	defer os.Unsetenv("TRADING_SYSTEM_HOST")

	reg, err := Load(path)
	require.NoError(t, err)

	assignment, err := reg.Get(ServiceTradeManager)
	require.NoError(t, err)
	assert.Equal(t, 4001, assignment.Port)
	assert.Equal(t, "10.0.0.5", assignment.Host)
}

func TestGet_MissingServiceFailsHard(t *testing.T) {
	path := writeManifest(t, `{"trade_manager": {"port": 4001}}`)
	reg, err := Load(path)
	require.NoError(t, err)

	_, err = reg.Get("nonexistent_service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent_service")
}

func TestLoad_MissingManifestFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestResolveHost_EnvOverrideWins(t *testing.T) {
	os.Setenv("TRADING_SYSTEM_HOST", "192.168.1.50")
	defer os.Unsetenv("TRADING_SYSTEM_HOST")

	assert.Equal(t, "192.168.1.50", resolveHost())
}

func TestPerServiceHostOverride(t *testing.T) {
	path := writeManifest(t, `{"trade_manager": {"port": 4001, "host": "127.0.0.1"}}`)
	os.Unsetenv("TRADING_SYSTEM_HOST")

	reg, err := Load(path)
	require.NoError(t, err)

	assignment, err := reg.Get(ServiceTradeManager)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", assignment.Host)
}
