// Package config loads the server configuration: YAML file with defaults,
// plus a small set of environment overrides for secrets.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WS        WSConfig        `yaml:"ws"`
	Device    DeviceConfig    `yaml:"device"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AuthToken guards /api and /ws when set. Overridable via
	// MESHBRIDGE_AUTH_TOKEN.
	AuthToken string `yaml:"auth_token"`
}

type WSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
}

type DeviceConfig struct {
	// Driver is the registered device driver name used for connects.
	Driver string    `yaml:"driver"`
	Sim    SimConfig `yaml:"sim"`
}

// SimConfig tunes the built-in simulated radio.
type SimConfig struct {
	ChatterInterval time.Duration `yaml:"chatter_interval"`
	AckDelay        time.Duration `yaml:"ack_delay"`
	HandshakeDelay  time.Duration `yaml:"handshake_delay"`
	DropAcks        int           `yaml:"drop_acks"`
}

type DiscoveryConfig struct {
	Service string        `yaml:"service"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		WS: WSConfig{
			SendBuffer: 64,
		},
		Device: DeviceConfig{
			Driver: "sim",
			Sim: SimConfig{
				ChatterInterval: 15 * time.Second,
			},
		},
		Discovery: DiscoveryConfig{
			Service: "_meshcore._tcp",
			Domain:  "local.",
			Timeout: 3 * time.Second,
		},
	}
}

// Load reads the config file on top of defaults. A missing file is not an
// error: the defaults run a usable server against the simulated device.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if token := os.Getenv("MESHBRIDGE_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	return cfg, nil
}
