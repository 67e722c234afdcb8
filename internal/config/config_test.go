package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Application.Port)
	}
	if cfg.Application.BodyLimit != defaultBodyLimit {
		t.Fatalf("expected default body limit, got %d", cfg.Application.BodyLimit)
	}
	if cfg.GitBase != "git-repo" {
		t.Fatalf("expected default git base, got %q", cfg.GitBase)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configuration.yml")
	yaml := `
application:
  port: 9090
  domain: example.test
database:
  user: pemasak
  password: secret
  port: 5433
  name: pemasak_db
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Application.Port)
	}
	if cfg.Application.Domain != "example.test" {
		t.Fatalf("expected domain example.test, got %q", cfg.Application.Domain)
	}
	if cfg.Database.Name != "pemasak_db" {
		t.Fatalf("expected db name pemasak_db, got %q", cfg.Database.Name)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configuration.yml")
	if err := os.WriteFile(path, []byte("application:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APPLICATION_PORT", "7000")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.Port != 7000 {
		t.Fatalf("expected env override to win, got %d", cfg.Application.Port)
	}
}

func TestLoadFloorsBodyLimitBelowMinimum(t *testing.T) {
	t.Setenv("APPLICATION_BODYLIMIT", "1024")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.BodyLimit != defaultBodyLimit {
		t.Fatalf("expected body limit to be floored at default, got %d", cfg.Application.BodyLimit)
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Application: Application{Port: 3000}}
	if cfg.Addr() != ":3000" {
		t.Fatalf("expected :3000, got %q", cfg.Addr())
	}
}
