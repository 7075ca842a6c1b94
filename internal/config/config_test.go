package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Device.Driver != "sim" {
		t.Errorf("Device.Driver = %q, want sim", cfg.Device.Driver)
	}
	if cfg.Discovery.Service != "_meshcore._tcp" {
		t.Errorf("Discovery.Service = %q", cfg.Discovery.Service)
	}
	if cfg.WS.SendBuffer != 64 {
		t.Errorf("WS.SendBuffer = %d, want 64", cfg.WS.SendBuffer)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  auth_token: fromfile
ws:
  allowed_origins:
    - https://mesh.example.org
device:
  sim:
    chatter_interval: 2s
    drop_acks: 1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "fromfile" {
		t.Errorf("AuthToken = %q", cfg.Server.AuthToken)
	}
	if len(cfg.WS.AllowedOrigins) != 1 || cfg.WS.AllowedOrigins[0] != "https://mesh.example.org" {
		t.Errorf("AllowedOrigins = %v", cfg.WS.AllowedOrigins)
	}
	if cfg.Device.Sim.ChatterInterval != 2*time.Second {
		t.Errorf("ChatterInterval = %v, want 2s", cfg.Device.Sim.ChatterInterval)
	}
	if cfg.Device.Sim.DropAcks != 1 {
		t.Errorf("DropAcks = %d, want 1", cfg.Device.Sim.DropAcks)
	}
	// Unset keys keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default", cfg.Server.Host)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestLoadEnvTokenOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  auth_token: fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHBRIDGE_AUTH_TOKEN", "fromenv")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.AuthToken != "fromenv" {
		t.Errorf("AuthToken = %q, want env override", cfg.Server.AuthToken)
	}
}
