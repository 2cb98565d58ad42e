package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaultsAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgpdump.yaml")
	yaml := "workers: 4\nformat: json\nfiles:\n  - a.mrt\n  - b.mrt\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected workers=4, got %d", cfg.Workers)
	}
	if cfg.Format != "json" {
		t.Errorf("expected format=json, got %q", cfg.Format)
	}
	if len(cfg.Files) != 2 {
		t.Errorf("expected 2 files, got %v", cfg.Files)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgpdump.yaml")
	if err := os.WriteFile(path, []byte("format: xml\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}
