package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.RootLMBackend != "mock" {
		t.Errorf("backend = %q", cfg.RootLMBackend)
	}
	if cfg.GlimpseTTLSec != DefaultGlimpseTTLSec {
		t.Errorf("ttl = %d", cfg.GlimpseTTLSec)
	}
	if cfg.TraceDir != DefaultTraceDir {
		t.Errorf("trace dir = %q", cfg.TraceDir)
	}
	if cfg.VLLM.Valid() {
		t.Error("vllm must not be valid without base url and model")
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rlmd.yaml")
	yaml := `
listen_addr: ":9000"
rootlm_backend: vllm
vllm:
  base_url: http://file-host:8000
  model: file-model
trace_dir: /tmp/file-traces
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VLLM_BASE_URL", "http://env-host:8000")
	t.Setenv("RLM_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.RootLMBackend != "vllm" {
		t.Errorf("backend = %q", cfg.RootLMBackend)
	}
	// Environment wins over the file.
	if cfg.VLLM.BaseURL != "http://env-host:8000" {
		t.Errorf("base url = %q", cfg.VLLM.BaseURL)
	}
	if cfg.VLLM.Model != "file-model" {
		t.Errorf("model = %q", cfg.VLLM.Model)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if !cfg.VLLM.Valid() {
		t.Error("vllm should be valid")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/rlmd.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestFromEnv_Normalization(t *testing.T) {
	t.Setenv("RLM_ROOTLM_BACKEND", "  VLLM  ")
	t.Setenv("RLM_GLIMPSE_TTL_SEC", "-5")

	cfg := FromEnv()
	if cfg.RootLMBackend != "vllm" {
		t.Errorf("backend = %q", cfg.RootLMBackend)
	}
	if cfg.GlimpseTTLSec != 0 {
		t.Errorf("ttl = %d, want clamped to 0", cfg.GlimpseTTLSec)
	}
}

func TestFromEnv_BoolParsing(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true}, {"true", true}, {"YES", true},
		{"0", false}, {"false", false}, {"off", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("RLM_DEBUG_OPTIONS_ENABLED", tt.value)
			if got := FromEnv().DebugOptionsEnabled; got != tt.want {
				t.Errorf("DebugOptionsEnabled = %v for %q", got, tt.value)
			}
		})
	}
}
