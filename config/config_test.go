package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/home/replsend", ""); got != "/home/replsend" {
		t.Errorf("empty path = %q", got)
	}
	if got := ResolvePath("/home/replsend", "/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path = %q", got)
	}
	want := filepath.Join("/home/replsend", "certs/server.crt")
	if got := ResolvePath("/home/replsend", "certs/server.crt"); got != want {
		t.Errorf("relative path = %q, want %q", got, want)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	if err := ValidateSecurityConfig(Config{}); err == nil {
		t.Fatal("expected an error for a config with no TLS material")
	}
	cfg := Default()
	if err := ValidateSecurityConfig(cfg); err != nil {
		t.Errorf("Default() config should pass validation: %v", err)
	}
}

func TestGenerateConfigArtifactsAndLoad(t *testing.T) {
	home := t.TempDir()
	cfg := Default()
	configPath := filepath.Join(home, "config.json")

	if err := GenerateConfigArtifacts(home, cfg, configPath); err != nil {
		t.Fatalf("GenerateConfigArtifacts: %v", err)
	}

	for _, f := range []string{"ca.crt", "server.crt", "server.key", "client.crt", "client.key"} {
		p := filepath.Join(home, "certs", f)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ListenAddr != cfg.ListenAddr || loaded.CompressCodec != cfg.CompressCodec {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, cfg)
	}
}
