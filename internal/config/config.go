package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Routing  RoutingConfig  `toml:"routing"`
	Store    StoreConfig    `toml:"store"`
	Session  SessionConfig  `toml:"session"`
	Mesh     MeshConfig     `toml:"mesh"`
	Learning LearningConfig `toml:"learning"`
	Duties   DutyConfig     `toml:"duties"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

type RoutingConfig struct {
	Strategy     string  `toml:"strategy"` // local, cloud, hybrid
	SkipLLM      bool    `toml:"skip_llm"`
	AbstainBelow float64 `toml:"abstain_below"`
}

type StoreConfig struct {
	Driver      string `toml:"driver"` // sqlite, postgres
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type SessionConfig struct {
	Dir string `toml:"dir"`
}

type MeshConfig struct {
	Listen string   `toml:"listen"`
	Peers  []string `toml:"peers"`
}

type LearningConfig struct {
	Hazard               float64 `toml:"hazard"`
	MaxRunLength         int     `toml:"max_run_length"`
	ChangePointThreshold float64 `toml:"change_point_threshold"`
	StabilityWindow      int     `toml:"stability_window"`
}

type DutyConfig struct {
	MaxActive            int     `toml:"max_active"`
	MaxExecutionsPerHour int     `toml:"max_executions_per_hour"`
	AutoApproveThreshold float64 `toml:"auto_approve_threshold"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		LLM:     LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		Routing: RoutingConfig{Strategy: "hybrid", SkipLLM: true, AbstainBelow: 0.4},
		Store:   StoreConfig{Driver: "sqlite", Path: "chitragupta.db"},
		Session: SessionConfig{Dir: filepath.Join(home, ".chitragupta", "sessions")},
		Learning: LearningConfig{
			Hazard:               0.02,
			MaxRunLength:         200,
			ChangePointThreshold: 0.3,
			StabilityWindow:      3,
		},
		Duties: DutyConfig{
			MaxActive:            20,
			MaxExecutionsPerHour: 12,
			AutoApproveThreshold: 0.6,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "chitragupta.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CHITRAGUPTA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CHITRAGUPTA_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("CHITRAGUPTA_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CHITRAGUPTA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CHITRAGUPTA_POSTGRES_URL"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.PostgresURL = v
	}
	if v := os.Getenv("CHITRAGUPTA_SESSION_DIR"); v != "" {
		cfg.Session.Dir = v
	}
	if v := os.Getenv("CHITRAGUPTA_MESH_LISTEN"); v != "" {
		cfg.Mesh.Listen = v
	}
	if os.Getenv("CHITRAGUPTA_OBSERVER_ENABLED") == "true" || os.Getenv("CHITRAGUPTA_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
