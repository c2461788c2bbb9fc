package chitragupta

import (
	"net"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// APIKey is one detected provider credential.
type APIKey struct {
	Provider string
	EnvVar   string
}

// apiKeyEnvVars maps provider ids to their environment variable names, in
// priority order. The first detected key wins RecommendedProvider's
// cloud-fallback rule.
var apiKeyEnvVars = []APIKey{
	{Provider: "anthropic", EnvVar: "ANTHROPIC_API_KEY"},
	{Provider: "openai", EnvVar: "OPENAI_API_KEY"},
	{Provider: "gemini", EnvVar: "GEMINI_API_KEY"},
	{Provider: "openrouter", EnvVar: "OPENROUTER_API_KEY"},
	{Provider: "groq", EnvVar: "GROQ_API_KEY"},
	{Provider: "mistral", EnvVar: "MISTRAL_API_KEY"},
	{Provider: "deepseek", EnvVar: "DEEPSEEK_API_KEY"},
}

// DetectAPIKeys returns the providers whose API key environment variables
// are set and non-empty, in priority order.
func DetectAPIKeys() []APIKey {
	var found []APIKey
	for _, k := range apiKeyEnvVars {
		if os.Getenv(k.EnvVar) != "" {
			found = append(found, k)
		}
	}
	return found
}

// Environment is a capability snapshot used by RecommendedProvider. Build
// one with DetectEnvironment or fill it directly in tests.
type Environment struct {
	OS            string   // runtime.GOOS
	Arch          string   // runtime.GOARCH
	HasNVIDIA     bool     // an NVIDIA GPU driver is present
	LocalBackends []string // reachable local inference servers, e.g. "ollama"
	APIKeys       []APIKey // detected credentials, priority order
}

// localBackendPorts are the loopback ports probed for local inference
// servers.
var localBackendPorts = map[string]string{
	"ollama":    "11434",
	"llamacpp":  "8080",
	"lm-studio": "1234",
}

// DetectEnvironment probes the host: OS and architecture, NVIDIA driver
// presence, reachable local inference servers, and configured API keys.
func DetectEnvironment() Environment {
	env := Environment{
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		APIKeys: DetectAPIKeys(),
	}
	if _, err := os.Stat("/proc/driver/nvidia"); err == nil {
		env.HasNVIDIA = true
	} else if _, err := exec.LookPath("nvidia-smi"); err == nil {
		env.HasNVIDIA = true
	}
	for name, port := range localBackendPorts {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", port), 250*time.Millisecond)
		if err != nil {
			continue
		}
		conn.Close()
		env.LocalBackends = append(env.LocalBackends, name)
	}
	return env
}

// RecommendedProvider picks a provider id for the host, in rule order:
// Apple Silicon prefers local inference; an NVIDIA GPU with a reachable
// local server prefers local-gpu; any reachable local backend prefers
// local; otherwise the highest-priority API key; falling back to local.
func RecommendedProvider(env Environment) string {
	if env.OS == "darwin" && env.Arch == "arm64" {
		return "local"
	}
	if env.HasNVIDIA && len(env.LocalBackends) > 0 {
		return "local-gpu"
	}
	if len(env.LocalBackends) > 0 {
		return "local"
	}
	if len(env.APIKeys) > 0 {
		return env.APIKeys[0].Provider
	}
	return "local"
}
