package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/poller"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultTopicPrefix     = "ampeco"
	DefaultClientID        = "ampeco-ha"

	redacted = "**REDACTED**"
)

type ChargerConfig struct {
	ChargepointID string `yaml:"chargepoint_id"`
	Name          string `yaml:"name,omitempty"`
	// Token and APIHost override the top-level values for this charger.
	Token   string `yaml:"token,omitempty"`
	APIHost string `yaml:"api_host,omitempty"`
}

type PollingConfig struct {
	Charging time.Duration `yaml:"charging,omitempty"`
	Idle     time.Duration `yaml:"idle,omitempty"`
	Max      time.Duration `yaml:"max,omitempty"`
}

func (p PollingConfig) Intervals() poller.Intervals {
	return poller.Intervals{Charging: p.Charging, Idle: p.Idle, Max: p.Max}
}

type MQTTConfig struct {
	Broker          string `yaml:"broker,omitempty"`
	ClientID        string `yaml:"client_id,omitempty"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"`
	TopicPrefix     string `yaml:"topic_prefix,omitempty"`
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type HTTPConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

type Config struct {
	APIHost string        `yaml:"api_host,omitempty"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Chargers []ChargerConfig `yaml:"chargers"`
	Polling  PollingConfig   `yaml:"polling,omitempty"`
	MQTT     MQTTConfig      `yaml:"mqtt,omitempty"`
	HTTP     HTTPConfig      `yaml:"http,omitempty"`
}

func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "ampeco-ha", "config.yaml")
}

// Load reads a YAML config file. An empty path means DefaultPath. A missing
// file is reported as an os.ErrNotExist error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &cfg, nil
}

func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewEncoder(f).Encode(cfg)
}

// ApplyDefaults fills every unset value and pushes the top-level token and
// host down to the chargers that do not override them.
func (c *Config) ApplyDefaults() {
	if c.APIHost == "" {
		c.APIHost = ampeco.DefaultHost
	}
	if c.Timeout <= 0 {
		c.Timeout = ampeco.DefaultTimeout
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	for i := range c.Chargers {
		if c.Chargers[i].Token == "" {
			c.Chargers[i].Token = c.Token
		}
		if c.Chargers[i].APIHost == "" {
			c.Chargers[i].APIHost = c.APIHost
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Chargers) == 0 {
		return errors.New("no chargers configured (set chargers or AMPECO_CHARGEPOINT_ID)")
	}
	seen := make(map[string]bool, len(c.Chargers))
	for i, ch := range c.Chargers {
		if ch.ChargepointID == "" {
			return fmt.Errorf("chargers[%d]: chargepoint_id is not set", i)
		}
		if seen[ch.ChargepointID] {
			return fmt.Errorf("chargers[%d]: duplicate chargepoint_id %q", i, ch.ChargepointID)
		}
		seen[ch.ChargepointID] = true
		if ch.Token == "" && c.Token == "" {
			return fmt.Errorf("chargers[%d]: token is not set", i)
		}
	}
	return nil
}

// Charger returns the configuration of one charger. An empty id selects the
// only configured charger.
func (c *Config) Charger(id string) (*ChargerConfig, error) {
	if id == "" {
		if len(c.Chargers) == 1 {
			return &c.Chargers[0], nil
		}
		return nil, fmt.Errorf("%d chargers configured, pick one with --chargepoint-id", len(c.Chargers))
	}
	for i := range c.Chargers {
		if c.Chargers[i].ChargepointID == id {
			return &c.Chargers[i], nil
		}
	}
	return nil, fmt.Errorf("charger %q is not configured", id)
}

// Redact returns a copy with every secret masked.
func (c *Config) Redact() *Config {
	out := *c
	out.Token = Mask(c.Token)
	out.MQTT.Password = Mask(c.MQTT.Password)
	out.Chargers = make([]ChargerConfig, len(c.Chargers))
	for i, ch := range c.Chargers {
		ch.Token = Mask(ch.Token)
		out.Chargers[i] = ch
	}
	return &out
}

// Mask replaces a non-empty value with a fixed marker.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}
