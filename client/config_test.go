package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"remoteaddr":"203.0.113.1:51820","username":"alice","tun":"tun1","keepalive":30,"pongtimeout":60,"autoreconnect":true,"maxattempts":10}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.RemoteAddr != "203.0.113.1:51820" || cfg.Username != "alice" {
		t.Fatalf("unexpected fields: %+v", cfg)
	}
	if !cfg.AutoReconnect || cfg.MaxAttempts != 10 {
		t.Fatalf("unexpected reconnect fields: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
