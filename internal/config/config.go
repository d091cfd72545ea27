// Package config owns the modelgate configuration file: which providers are
// configured with what credentials, which one is active, and the per-turn
// defaults.
package config

import "fmt"

// ProviderConfig is one provider's credential block.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	DefaultModel string `yaml:"default_model,omitempty"`
}

// Defaults are the generation settings applied when the caller sets none.
type Defaults struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	EnableTools bool    `yaml:"enable_tools"`
}

// Config is the full configuration document.
type Config struct {
	ActiveProvider string                    `yaml:"active_provider"`
	MaxToolRounds  int                       `yaml:"max_tool_rounds"`
	ProjectRoot    string                    `yaml:"project_root,omitempty"`
	Defaults       Defaults                  `yaml:"defaults"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() Config {
	return Config{
		ActiveProvider: "ollama",
		MaxToolRounds:  8,
		Defaults: Defaults{
			Temperature: 0.7,
			MaxTokens:   4096,
			EnableTools: true,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {BaseURL: "http://localhost:11434"},
		},
	}
}

// Provider returns the credential block for name, zero-valued when absent.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// SetProvider stores a credential block for name.
func (c *Config) SetProvider(name string, pc ProviderConfig) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	c.Providers[name] = pc
}

// ActiveAPIKeyID returns a non-secret identifier for the provider's active
// credential, used to tag usage records. The key itself is never exposed.
func (c *Config) ActiveAPIKeyID(provider string) string {
	key := c.Provider(provider).APIKey
	if key == "" {
		return ""
	}
	tail := key
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("%s-…%s", provider, tail)
}
