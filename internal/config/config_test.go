package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenNoFilePresent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Default != "claude" {
		t.Fatalf("expected default backend 'claude', got %q", cfg.Backend.Default)
	}
	if cfg.Runner.MaxIterations != 5 {
		t.Fatalf("expected default max_iterations 5, got %d", cfg.Runner.MaxIterations)
	}
	if cfg.RLM.MaxIterations != 50 {
		t.Fatalf("expected default RLM max_iterations 50, got %d", cfg.RLM.MaxIterations)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "backend:\n  default: codex\nrunner:\n  max_iterations: 9\n  loop: true\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Default != "codex" {
		t.Fatalf("expected file override 'codex', got %q", cfg.Backend.Default)
	}
	if cfg.Runner.MaxIterations != 9 {
		t.Fatalf("expected file override 9, got %d", cfg.Runner.MaxIterations)
	}
	if !cfg.Runner.Loop {
		t.Fatal("expected loop=true from file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("backend:\n  default: claude\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DAYDREAM_BACKEND_DEFAULT", "codex")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Default != "codex" {
		t.Fatalf("expected env override 'codex', got %q", cfg.Backend.Default)
	}
}
