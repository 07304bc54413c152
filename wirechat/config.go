package wirechat

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/wirechat-sync/wirechat/internal"
)

// Config controls how the SDK connects.
type Config struct {
	URL              string        `yaml:"url"`
	User             string        `yaml:"user"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // dial + hello + confirmation
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	Codec            string        `yaml:"codec"` // "json" or "cbor"

	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"` // first backoff step
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectTries int           `yaml:"max_reconnect_tries"`

	AckTimeout     time.Duration `yaml:"ack_timeout"`
	TypingThrottle time.Duration `yaml:"typing_throttle"`

	// Dialer opens the transport. Nil selects WebSocket.
	Dialer Dialer `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      15 * time.Second,
		Codec:             "json",
		AutoReconnect:     true,
		ReconnectInterval: time.Second,
		MaxReconnectDelay: 5 * time.Second,
		MaxReconnectTries: 5,
		AckTimeout:        10 * time.Second,
		TypingThrottle:    3 * time.Second,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "parsing "+path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"handshake_timeout", c.HandshakeTimeout},
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"ping_interval", c.PingInterval},
		{"reconnect_interval", c.ReconnectInterval},
		{"max_reconnect_delay", c.MaxReconnectDelay},
		{"ack_timeout", c.AckTimeout},
		{"typing_throttle", c.TypingThrottle},
	}
	for _, d := range durations {
		if d.d < 0 {
			return NewError(ErrorInvalidConfig, d.name+" must not be negative")
		}
	}
	if _, err := internal.CodecByName(c.Codec); err != nil {
		return WrapError(ErrorInvalidConfig, "codec", err)
	}
	if c.AutoReconnect {
		if c.MaxReconnectTries <= 0 {
			return NewError(ErrorInvalidConfig, "max_reconnect_tries must be positive when auto_reconnect is set")
		}
		if c.MaxReconnectDelay > 0 && c.MaxReconnectDelay < c.ReconnectInterval {
			return NewError(ErrorInvalidConfig, "max_reconnect_delay is below reconnect_interval")
		}
	}
	return nil
}

// backoff returns the wait before reconnect attempt n (1-based): the
// interval doubles per attempt and is capped at MaxReconnectDelay.
func (c Config) backoff(n int) time.Duration {
	d := c.ReconnectInterval
	for i := 1; i < n; i++ {
		d *= 2
		if c.MaxReconnectDelay > 0 && d >= c.MaxReconnectDelay {
			return c.MaxReconnectDelay
		}
	}
	if c.MaxReconnectDelay > 0 && d > c.MaxReconnectDelay {
		return c.MaxReconnectDelay
	}
	return d
}
