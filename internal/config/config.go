// Package config handles nokiawifi configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] to fields left empty in the file.
const (
	DefaultScanIntervalSec = 60
	DefaultConsiderHomeSec = 180
	DefaultDataDir         = "./db"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultDeviceName      = "nokiawifi"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nokiawifi/config.yaml, /etc/nokiawifi/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nokiawifi", "config.yaml"))
	}

	paths = append(paths, "/etc/nokiawifi/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all nokiawifi configuration.
type Config struct {
	Router    RouterConfig `yaml:"router"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text (default) or json
}

// RouterConfig identifies the router and tunes the presence tracker.
type RouterConfig struct {
	Host     string `yaml:"host"`
	Password string `yaml:"password"`

	// UniqueID is the stable id of the router, usually its serial
	// number. Leave empty to fall back to the instance id.
	UniqueID string `yaml:"unique_id"`

	ScanIntervalSec int `yaml:"scan_interval_sec"`
	ConsiderHomeSec int `yaml:"consider_home_sec"`

	// TrackUnknown adds devices the router reports without a host name.
	// Defaults to true; a pointer so an explicit false survives defaults.
	TrackUnknown *bool `yaml:"track_unknown"`
}

// ShouldTrackUnknown reports the effective track_unknown setting.
func (c RouterConfig) ShouldTrackUnknown() bool {
	return c.TrackUnknown == nil || *c.TrackUnknown
}

// MQTTConfig defines the Home Assistant MQTT discovery connection. The
// whole section is optional; without a broker, serve only tracks.
type MQTTConfig struct {
	Broker          string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	DeviceName      string `yaml:"device_name"`
}

// Configured reports whether a broker was set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file, expanding environment
// variables first and applying defaults afterwards. It does not
// validate; call [Config.Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// router configured.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Router.ScanIntervalSec == 0 {
		c.Router.ScanIntervalSec = DefaultScanIntervalSec
	}
	if c.Router.ConsiderHomeSec == 0 {
		c.Router.ConsiderHomeSec = DefaultConsiderHomeSec
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = DefaultDeviceName
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Router.Host) == "" {
		errs = append(errs, errors.New("router.host is required"))
	}
	if c.Router.Password == "" {
		errs = append(errs, errors.New("router.password is required"))
	}
	if c.Router.ScanIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("router.scan_interval_sec must be positive, got %d", c.Router.ScanIntervalSec))
	}
	if c.Router.ConsiderHomeSec < 0 {
		errs = append(errs, fmt.Errorf("router.consider_home_sec must be positive, got %d", c.Router.ConsiderHomeSec))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}
