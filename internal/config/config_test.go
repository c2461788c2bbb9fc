package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.Routing.Strategy != "hybrid" {
		t.Errorf("expected hybrid, got %s", cfg.Routing.Strategy)
	}
	if cfg.Learning.Hazard != 0.02 {
		t.Errorf("expected hazard 0.02, got %f", cfg.Learning.Hazard)
	}
	if cfg.Duties.MaxActive != 20 {
		t.Errorf("expected max active 20, got %d", cfg.Duties.MaxActive)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[llm]
provider = "ollama"
model = "llama3.2"

[mesh]
listen = ":9470"
peers = ["ws://peer-a:9470/mesh"]

[learning]
change_point_threshold = 0.5
`), 0644)

	cfg := Load(path)
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Mesh.Listen != ":9470" {
		t.Errorf("expected :9470, got %s", cfg.Mesh.Listen)
	}
	if len(cfg.Mesh.Peers) != 1 || cfg.Mesh.Peers[0] != "ws://peer-a:9470/mesh" {
		t.Errorf("peers = %v, want one ws url", cfg.Mesh.Peers)
	}
	if cfg.Learning.ChangePointThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %f", cfg.Learning.ChangePointThreshold)
	}
	// Defaults preserved
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("default driver should be preserved, got %s", cfg.Store.Driver)
	}
	if cfg.Learning.Hazard != 0.02 {
		t.Errorf("default hazard should be preserved, got %f", cfg.Learning.Hazard)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CHITRAGUPTA_LLM_API_KEY", "env-key")
	t.Setenv("CHITRAGUPTA_LLM_MODEL", "claude-haiku-3-5")

	cfg := Load("/nonexistent/path.toml")
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "claude-haiku-3-5" {
		t.Errorf("expected claude-haiku-3-5, got %s", cfg.LLM.Model)
	}
}

func TestPostgresEnvSwitchesDriver(t *testing.T) {
	t.Setenv("CHITRAGUPTA_POSTGRES_URL", "postgres://localhost/chitragupta")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Store.Driver != "postgres" {
		t.Errorf("expected driver postgres, got %s", cfg.Store.Driver)
	}
	if cfg.Store.PostgresURL != "postgres://localhost/chitragupta" {
		t.Errorf("unexpected url %s", cfg.Store.PostgresURL)
	}
}
