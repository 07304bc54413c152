package wirechat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirechat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: ws://chat.example.test/ws
user: alice
codec: cbor
handshake_timeout: 3s
max_reconnect_tries: 7
typing_throttle: 500ms
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.example.test/ws", cfg.URL)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 7, cfg.MaxReconnectTries)
	assert.Equal(t, 500*time.Millisecond, cfg.TypingThrottle)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.MaxReconnectDelay)
	assert.True(t, cfg.AutoReconnect)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirechat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec: xml\n"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.AckTimeout = -time.Second
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.MaxReconnectTries = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad.AutoReconnect = false
	assert.NoError(t, bad.Validate())

	bad = cfg
	bad.MaxReconnectDelay = 10 * time.Millisecond
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	var got []time.Duration
	for n := 1; n <= 6; n++ {
		got = append(got, cfg.backoff(n))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)
}
