package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/gatehouse.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "gatehouse.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "gatehouse.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	os.WriteFile(path, []byte("gemini:\n  api_key: test-key\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Gemini.TextModel != "gemini-1.5-flash" {
		t.Errorf("text model = %q, want gemini-1.5-flash", cfg.Gemini.TextModel)
	}
	if cfg.History.MaxTurns != 10 {
		t.Errorf("max_turns = %d, want 10", cfg.History.MaxTurns)
	}
	if cfg.History.File != "history.json" {
		t.Errorf("history file = %q, want history.json", cfg.History.File)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	os.WriteFile(path, []byte("gemini:\n  api_key: ${GATEHOUSE_TEST_KEY}\n"), 0600)
	os.Setenv("GATEHOUSE_TEST_KEY", "secret123")
	defer os.Unsetenv("GATEHOUSE_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "secret123")
	}
}

func TestLoad_APIKeyFromEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatehouse.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)
	os.Setenv("GEMINI_API_KEY", "env-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "env-key")
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with empty api_key should error")
	}

	cfg.Gemini.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with api_key set: %v", err)
	}
}

func TestValidate_MaxTurns(t *testing.T) {
	cfg := Default()
	cfg.Gemini.APIKey = "k"
	cfg.History.MaxTurns = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with max_turns=0 should error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"info", false},
		{"DEBUG", false},
		{" warn ", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
