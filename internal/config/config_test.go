package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: 0.0.0.0
  port: 9090
storage:
  base_dir: ./kb
kb:
  chunk_size: 800
  top_k: 5
watch:
  directory: ./drop
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("server: %+v", cfg.Server)
	}
	if cfg.KB.ChunkSize != 800 || cfg.KB.TopK != 5 {
		t.Errorf("kb: %+v", cfg.KB)
	}
	// Unset values take defaults.
	if cfg.KB.ChunkOverlap != 50 || cfg.KB.MaxChars != 2000 {
		t.Errorf("kb defaults: %+v", cfg.KB)
	}
	if cfg.Watch.DebounceMS != 400 {
		t.Errorf("watch defaults: %+v", cfg.Watch)
	}
	// "./" paths resolve relative to the config file.
	if cfg.Storage.BaseDir != filepath.Join(dir, "kb") {
		t.Errorf("base_dir: got %q", cfg.Storage.BaseDir)
	}
	if cfg.Watch.Directory != filepath.Join(dir, "drop") {
		t.Errorf("watch dir: got %q", cfg.Watch.Directory)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.KB.ChunkSize != 500 || cfg.KB.ChunkOverlap != 50 || cfg.KB.TopK != 3 || cfg.KB.MaxChars != 2000 {
		t.Errorf("kb defaults: %+v", cfg.KB)
	}
	if cfg.Storage.BaseDir == "" {
		t.Error("base_dir default missing")
	}
	// Watching stays opt-in: no default directory.
	if cfg.Watch.Directory != "" {
		t.Errorf("watch dir should default empty, got %q", cfg.Watch.Directory)
	}
}

func TestExpandPath(t *testing.T) {
	if got := expandPath("/abs/path", "/cfg"); got != "/abs/path" {
		t.Errorf("absolute: got %q", got)
	}
	if got := expandPath("./rel", "/cfg"); got != filepath.Join("/cfg", "rel") {
		t.Errorf("config-relative: got %q", got)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if got := expandPath("rel", "/cfg"); got != filepath.Join(home, "rel") {
			t.Errorf("home-relative: got %q", got)
		}
	}
}
