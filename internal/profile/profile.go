package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol)
	LLMProvider  string // openai, deepseek, siliconflow, zai, dashscope, openrouter, ollama
	LLMAPIKey    string
	LLMBaseURL   string // optional, has default per provider
	LLMTimeout   int    // per HTTP request, seconds (default: 120)
	ModelPremium string
	ModelCompact string

	// Routing
	CompactMode   bool
	ConfigDir     string // holds routing.yaml and prompts/, optional
	RoutingConfig string // relative to ConfigDir
	PromptDir     string // relative to ConfigDir

	// Server limits
	RateLimit            float64 // requests per second per client, 0 disables
	RateBurst            int
	MaxConcurrentStreams int64

	Mode     string
	Addr     string
	Version  string
	LogLevel string
	Port     int
}

// Model defaults per provider, used when SHEPHERD_AI_MODEL_* is not set.
var llmProviderDefaults = map[string]struct {
	Premium string
	Compact string
}{
	"openai": {
		Premium: "gpt-4o",
		Compact: "gpt-4o-mini",
	},
	"deepseek": {
		Premium: "deepseek-reasoner",
		Compact: "deepseek-chat",
	},
	"siliconflow": {
		Premium: "Qwen/Qwen2.5-72B-Instruct",
		Compact: "Qwen/Qwen2.5-7B-Instruct",
	},
	"zai": {
		Premium: "glm-4.7",
		Compact: "glm-4-flash",
	},
	"dashscope": {
		Premium: "qwen-max-latest",
		Compact: "qwen-turbo-latest",
	},
	"openrouter": {
		Premium: "openai/gpt-4o",
		Compact: "openai/gpt-4o-mini",
	},
	"ollama": {
		Premium: "llama3.1:70b",
		Compact: "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an API key is configured or the provider needs none.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// FromEnv fills unset fields from SHEPHERD_* environment variables, then
// from defaults. Fields already set (by flags) take precedence over the
// environment. A false CompactMode counts as unset.
func (p *Profile) FromEnv() {
	p.LLMProvider = envUnlessSet(p.LLMProvider, "SHEPHERD_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = envUnlessSet(p.LLMAPIKey, "SHEPHERD_AI_LLM_API_KEY", "")
	p.LLMBaseURL = envUnlessSet(p.LLMBaseURL, "SHEPHERD_AI_LLM_BASE_URL", "")
	if p.LLMTimeout == 0 {
		p.LLMTimeout = getEnvOrDefaultInt("SHEPHERD_AI_LLM_TIMEOUT_SECONDS", 120)
	}
	p.ModelPremium = envUnlessSet(p.ModelPremium, "SHEPHERD_AI_MODEL_PREMIUM", "")
	p.ModelCompact = envUnlessSet(p.ModelCompact, "SHEPHERD_AI_MODEL_COMPACT", "")

	if !p.CompactMode {
		p.CompactMode = getEnvOrDefaultBool("SHEPHERD_AI_COMPACT_MODE", false)
	}
	p.ConfigDir = envUnlessSet(p.ConfigDir, "SHEPHERD_CONFIG_DIR", "")
	p.RoutingConfig = envUnlessSet(p.RoutingConfig, "SHEPHERD_AI_ROUTING_CONFIG", "routing.yaml")
	p.PromptDir = envUnlessSet(p.PromptDir, "SHEPHERD_AI_PROMPT_DIR", "prompts")

	if p.RateLimit == 0 {
		p.RateLimit = getEnvOrDefaultFloat("SHEPHERD_RATE_LIMIT", 0)
	}
	if p.RateBurst == 0 {
		p.RateBurst = getEnvOrDefaultInt("SHEPHERD_RATE_BURST", 20)
	}
	if p.MaxConcurrentStreams == 0 {
		p.MaxConcurrentStreams = int64(getEnvOrDefaultInt("SHEPHERD_MAX_CONCURRENT_STREAMS", 16))
	}
	p.LogLevel = envUnlessSet(p.LogLevel, "SHEPHERD_LOG_LEVEL", "info")

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok && p.LLMBaseURL == "" {
		slog.Warn("Unknown LLM provider without base URL, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.ModelPremium == "" {
			p.ModelPremium = defaults.Premium
		}
		if p.ModelCompact == "" {
			p.ModelCompact = defaults.Compact
		}
	}
}

func checkConfigDir(dir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dir) {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		dir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dir = strings.TrimRight(dir, "\\/")
	info, err := os.Stat(dir)
	if err != nil {
		return "", errors.Wrapf(err, "unable to access config folder %s", dir)
	}
	if !info.IsDir() {
		return "", errors.Errorf("config path %s is not a directory", dir)
	}
	return dir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Port < 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.LLMTimeout <= 0 {
		return errors.Errorf("invalid LLM timeout %ds", p.LLMTimeout)
	}
	if p.ModelPremium == "" || p.ModelCompact == "" {
		return errors.Errorf("models for provider %q must be set explicitly", p.LLMProvider)
	}
	if p.RateLimit < 0 || p.RateBurst < 0 {
		return errors.New("rate limit must not be negative")
	}
	if p.MaxConcurrentStreams <= 0 {
		return errors.Errorf("invalid max concurrent streams %d", p.MaxConcurrentStreams)
	}

	if p.ConfigDir != "" {
		dir, err := checkConfigDir(p.ConfigDir)
		if err != nil {
			slog.Error("failed to check config dir", slog.String("config_dir", p.ConfigDir), slog.String("error", err.Error()))
			return err
		}
		p.ConfigDir = dir
	}

	return nil
}

// HasRoutingFile reports whether the routing YAML exists under ConfigDir.
func (p *Profile) HasRoutingFile() bool {
	return p.hasEntry(p.RoutingConfig, false)
}

// HasPromptDir reports whether the prompt directory exists under ConfigDir.
func (p *Profile) HasPromptDir() bool {
	return p.hasEntry(p.PromptDir, true)
}

func (p *Profile) hasEntry(name string, wantDir bool) bool {
	if p.ConfigDir == "" || name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(p.ConfigDir, name))
	return err == nil && info.IsDir() == wantDir
}

// envUnlessSet returns current when non-empty, else the environment value
// or def.
func envUnlessSet(current, key, def string) string {
	if current != "" {
		return current
	}
	return getEnvOrDefault(key, def)
}
