package ircd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ircd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigMinimal(t *testing.T) {
	path := writeConfig(t, `
server_name: srv
address: 127.0.0.1
port: 6667
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "srv", cfg.ServerName)
	assert.Equal(t, "127.0.0.1", cfg.Address)
	assert.Equal(t, 6667, cfg.Port)
	assert.True(t, cfg.WelcomeConfig.SendISupport, "send_isupport should default true when absent")
	assert.Nil(t, cfg.TLS)
}

func TestLoadConfigFullySpecified(t *testing.T) {
	path := writeConfig(t, `
server_name: srv
address: 0.0.0.0
port: 6697
password: hunter2
motd:
  - line one
  - line two
default_channel_mode: nt
welcome_config:
  send_isupport: false
messages_per_second_limit: 5
timeout_config:
  base: 240
  reduced: 30
tls:
  cert_path: /etc/ircd/cert.pem
  key_path: /etc/ircd/key.pem
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, []string{"line one", "line two"}, cfg.MOTD)
	assert.False(t, cfg.WelcomeConfig.SendISupport)
	assert.Equal(t, 5, cfg.MessagesPerSecondLimit)
	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "/etc/ircd/cert.pem", cfg.TLS.CertPath)

	mode := cfg.ChannelMode()
	assert.True(t, mode.NoExternal)
	assert.True(t, mode.TopicProtected)
	assert.False(t, mode.Secret)

	timeout := cfg.TimeoutConfig()
	require.NotNil(t, timeout)
	assert.Equal(t, int64(240), timeout.Base)
	assert.Equal(t, int64(30), timeout.Reduced)
}

func TestLoadConfigMissingServerNameFails(t *testing.T) {
	path := writeConfig(t, `
address: 127.0.0.1
port: 6667
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigBadPortFails(t *testing.T) {
	path := writeConfig(t, `
server_name: srv
address: 127.0.0.1
port: 99999
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigIncompleteTLSFails(t *testing.T) {
	path := writeConfig(t, `
server_name: srv
address: 127.0.0.1
port: 6667
tls:
  cert_path: /only/cert.pem
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
