package configparser

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine.yaml")
	body := []byte("ram_size_mb: 64\na20_enabled: true\nboot_image: bios.bin\ndebug:\n  - cpu\n  - mmu\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAMSizeMB != 64 {
		t.Fatalf("expected ram_size_mb=64, got %d", cfg.RAMSizeMB)
	}
	if !cfg.A20Enabled {
		t.Fatalf("expected a20_enabled=true")
	}
	if cfg.TraceCacheSize != 4096 {
		t.Fatalf("expected default trace_cache_size=4096, got %d", cfg.TraceCacheSize)
	}
	if cfg.RAMSizeBytes() != 64*1024*1024 {
		t.Fatalf("RAMSizeBytes mismatch: %d", cfg.RAMSizeBytes())
	}
	if len(cfg.Debug) != 2 || cfg.Debug[0] != "cpu" {
		t.Fatalf("unexpected debug list: %v", cfg.Debug)
	}
}

func TestLoadRejectsNonPositiveRAM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine.yaml")
	if err := os.WriteFile(path, []byte("ram_size_mb: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for ram_size_mb: 0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
