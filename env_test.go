package chitragupta

import "testing"

func TestDetectAPIKeys(t *testing.T) {
	for _, k := range apiKeyEnvVars {
		t.Setenv(k.EnvVar, "")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GROQ_API_KEY", "gk-test")

	keys := DetectAPIKeys()
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2", keys)
	}
	// Priority order: openai outranks groq.
	if keys[0].Provider != "openai" || keys[1].Provider != "groq" {
		t.Errorf("keys = %v, want [openai groq]", keys)
	}
}

func TestRecommendedProviderRules(t *testing.T) {
	tests := []struct {
		name string
		env  Environment
		want string
	}{
		{"apple silicon", Environment{OS: "darwin", Arch: "arm64"}, "local"},
		{"nvidia with local server", Environment{OS: "linux", Arch: "amd64", HasNVIDIA: true, LocalBackends: []string{"ollama"}}, "local-gpu"},
		{"nvidia without server falls through", Environment{OS: "linux", Arch: "amd64", HasNVIDIA: true, APIKeys: []APIKey{{Provider: "anthropic"}}}, "anthropic"},
		{"local backend only", Environment{OS: "linux", Arch: "amd64", LocalBackends: []string{"llamacpp"}}, "local"},
		{"api key fallback", Environment{OS: "linux", Arch: "amd64", APIKeys: []APIKey{{Provider: "openai"}, {Provider: "groq"}}}, "openai"},
		{"nothing available", Environment{OS: "linux", Arch: "amd64"}, "local"},
		// Apple Silicon wins even with keys configured.
		{"apple silicon beats keys", Environment{OS: "darwin", Arch: "arm64", APIKeys: []APIKey{{Provider: "anthropic"}}}, "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecommendedProvider(tt.env); got != tt.want {
				t.Errorf("RecommendedProvider = %q, want %q", got, tt.want)
			}
		})
	}
}
