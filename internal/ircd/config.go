package ircd

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the server's external configuration, loaded from a YAML file
// (spec §6). Field names mirror the YAML keys; everything the core needs
// from the outside world is collected here rather than threaded through as
// loose arguments, matching the teacher's single-struct config convention.
type Config struct {
	ServerName string `yaml:"server_name"`
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`

	TLS *TLSConfig `yaml:"tls"`

	Password string   `yaml:"password"`
	MOTD     []string `yaml:"motd"`

	DefaultChannelMode string `yaml:"default_channel_mode"`

	WelcomeConfig WelcomeYAML `yaml:"welcome_config"`

	MessagesPerSecondLimit int `yaml:"messages_per_second_limit"`

	Timeout *TimeoutYAML `yaml:"timeout_config"`
}

// TLSConfig names the certificate/key pair used to wrap the listener in
// TLS. Nil on the parent Config means plain TCP only.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// WelcomeYAML is the on-disk shape of WelcomeConfig.
type WelcomeYAML struct {
	SendISupport bool `yaml:"send_isupport"`
}

// TimeoutYAML is the on-disk shape of TimeoutConfig; both fields are
// seconds.
type TimeoutYAML struct {
	Base    int64 `yaml:"base"`
	Reduced int64 `yaml:"reduced"`
}

// LoadConfig reads and validates a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}

	var cfg Config
	// send_isupport defaults true if the key is absent; set it before
	// unmarshalling so yaml only overrides it when the key is present.
	cfg.WelcomeConfig.SendISupport = true

	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerName == "" {
		return errors.New("server_name is required")
	}
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.TLS != nil {
		if c.TLS.CertPath == "" || c.TLS.KeyPath == "" {
			return errors.New("tls requires both cert_path and key_path")
		}
	}
	if c.MessagesPerSecondLimit < 0 {
		return errors.New("messages_per_second_limit must not be negative")
	}
	return nil
}

// ChannelMode parses DefaultChannelMode's textual flags (e.g. "nt") into a
// ChannelMode, defaulting to DefaultChannelMode() if unset.
func (c *Config) ChannelMode() ChannelMode {
	if c.DefaultChannelMode == "" {
		return DefaultChannelMode()
	}
	var m ChannelMode
	for _, ch := range c.DefaultChannelMode {
		switch ch {
		case 'n':
			m.NoExternal = true
		case 's':
			m.Secret = true
		case 'm':
			m.Moderated = true
		case 't':
			m.TopicProtected = true
		}
	}
	return m
}

// TimeoutConfig converts the YAML timeout block, or nil if none was given
// (liveness checking disabled).
func (c *Config) TimeoutConfig() *TimeoutConfig {
	if c.Timeout == nil {
		return nil
	}
	return &TimeoutConfig{Base: c.Timeout.Base, Reduced: c.Timeout.Reduced}
}
