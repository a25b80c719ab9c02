// Package loader builds the provider set from the providers file.
package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/G4FproAPI/Astra-OSS/internal/provider"
	"github.com/G4FproAPI/Astra-OSS/internal/provider/openaicompat"
	"github.com/G4FproAPI/Astra-OSS/internal/provider/static"
)

// Provider kinds.
const (
	KindOpenAI = "openai"
	KindStatic = "static"
)

// Config is the providers file.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig declares one provider.
type ProviderConfig struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	BaseURL    string            `yaml:"base_url"`
	APIKey     string            `yaml:"api_key"`
	Models     []string          `yaml:"models"`
	Aliases    map[string]string `yaml:"aliases"`
	Streaming  bool              `yaml:"streaming"`
	Priority   bool              `yaml:"priority"`
	UseProxies bool              `yaml:"use_proxies"`
	Reply      string            `yaml:"reply"`
}

// Parse decodes a providers document. ${VAR} references are expanded from
// the environment before parsing; ${VAR:-fallback} uses fallback when VAR is
// unset or empty.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse providers: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if key, fallback, ok := strings.Cut(name, ":-"); ok {
			if v := os.Getenv(key); v != "" {
				return v
			}
			return fallback
		}
		return os.Getenv(name)
	})
}

// Load reads and parses the providers file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read providers: %w", err)
	}
	return Parse(data)
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("providers: duplicate name %q", p.Name)
		}
		names[p.Name] = true

		if len(p.Models) == 0 {
			return fmt.Errorf("providers[%d] (%s): at least one model is required", i, p.Name)
		}
		switch p.Kind {
		case KindOpenAI:
			if p.BaseURL == "" {
				return fmt.Errorf("providers[%d] (%s): base_url is required", i, p.Name)
			}
		case KindStatic:
		default:
			return fmt.Errorf("providers[%d] (%s): unknown kind %q", i, p.Name, p.Kind)
		}
	}
	return nil
}

// Build instantiates the declared providers in file order.
func (c Config) Build(proxies *provider.ProxyList) []provider.Provider {
	out := make([]provider.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		desc := provider.Descriptor{
			Name:      p.Name,
			Models:    p.Models,
			Aliases:   p.Aliases,
			Streaming: p.Streaming,
			Priority:  p.Priority,
		}
		switch p.Kind {
		case KindOpenAI:
			opts := []openaicompat.Option{openaicompat.WithAPIKey(p.APIKey)}
			if p.UseProxies {
				opts = append(opts, openaicompat.WithProxies(proxies))
			}
			out = append(out, openaicompat.New(desc, p.BaseURL, opts...))
		case KindStatic:
			out = append(out, static.New(desc, p.Reply))
		}
	}
	return out
}
