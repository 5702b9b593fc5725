package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
)

const (
	DefaultListen        = ":10000"
	DefaultModel         = "openai/gpt-4o-mini"
	DefaultMaxTokens     = 300
	DefaultAuditStream   = "geechat:audit"
	DefaultPruneSchedule = "@daily"
)

type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Log        LogConfig                 `yaml:"log"`
	Completion CompletionConfig          `yaml:"completion"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Prompt     PromptConfig              `yaml:"prompt"`
	// Actions replaces the built-in action vocabulary when non-empty.
	Actions []orchestrator.ActionSchema `yaml:"actions"`
	GRPC    GRPCConfig                  `yaml:"grpc"`
	Audit   AuditConfig                 `yaml:"audit"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CompletionConfig struct {
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	API     string            `yaml:"api"`
	Models  []ModelDefinition `yaml:"models"`
}

type ModelDefinition struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	ContextWindow int      `yaml:"context_window"`
	MaxTokens     int      `yaml:"max_tokens"`
	Features      []string `yaml:"features"`
}

type PromptConfig struct {
	System        string   `yaml:"system"`
	Rules         []string `yaml:"rules"`
	PrepareScript string   `yaml:"prepare_script"`
}

type GRPCConfig struct {
	Listen string `yaml:"listen"`
}

type AuditConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"prune_schedule"`
	Stream        string        `yaml:"stream"`
	// MaxLen caps the redis stream length. Zero leaves it uncapped.
	MaxLen int64 `yaml:"max_len"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	temp := 0.0
	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListen,
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    75 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Completion: CompletionConfig{
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: &temp,
			Timeout:     orchestrator.DefaultTimeout,
		},
		Providers: map[string]ProviderConfig{
			"openai": {API: provider.APIOpenAI, APIKey: "${OPENAI_API_KEY}"},
		},
		Audit: AuditConfig{
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: DefaultPruneSchedule,
			Stream:        DefaultAuditStream,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		// An unresolved reference means the secret is absent.
		if envPattern.MatchString(p.APIKey) {
			p.APIKey = ""
		}
		cfg.Providers[name] = p
	}
	cfg.Audit.DSN = expandEnv(cfg.Audit.DSN)
	cfg.Prompt.PrepareScript = expandEnv(cfg.Prompt.PrepareScript)
}

// applyEnv lets the hosting environment override the file.
func applyEnv(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Listen = ":" + port
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if p, ok := cfg.Providers["openai"]; ok && p.APIKey == "" {
			p.APIKey = key
			cfg.Providers["openai"] = p
		}
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults with the environment applied.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	expandEnvInConfig(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// ModelRef returns the completion model, qualified with the openai provider
// when the file names a bare model.
func (c *Config) ModelRef() provider.ModelRef {
	return provider.ModelRef(strings.TrimSpace(c.Completion.Model)).WithDefaultProvider("openai")
}

// ProviderConfigs converts every provider entry for provider.FromConfig.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, 0, len(c.Providers))
	for id, p := range c.Providers {
		pc := provider.ProviderConfig{
			ID:      id,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			API:     p.API,
			Timeout: c.Completion.Timeout,
		}
		for _, m := range p.Models {
			info := provider.ModelInfo{
				ID:            m.ID,
				Name:          m.Name,
				ProviderID:    id,
				ContextWindow: m.ContextWindow,
				MaxTokens:     m.MaxTokens,
			}
			for _, f := range m.Features {
				info.Features = append(info.Features, provider.Feature(f))
			}
			pc.Models = append(pc.Models, info)
		}
		out = append(out, pc)
	}
	return out
}

// ActionSchemas returns the configured vocabulary, or the built-in one.
func (c *Config) ActionSchemas() []orchestrator.ActionSchema {
	if len(c.Actions) == 0 {
		return orchestrator.DefaultActionSchemas()
	}
	return c.Actions
}

var auditDrivers = map[string]bool{"": true, "sqlite": true, "postgres": true, "redis": true}

// Validate reports the first configuration problem that prevents serving.
func (c *Config) Validate() error {
	ref := c.ModelRef()
	if !ref.Valid() {
		return fmt.Errorf("completion.model %q: expected provider/model", c.Completion.Model)
	}
	p, ok := c.Providers[ref.Provider()]
	if !ok {
		return fmt.Errorf("completion.model %q: provider %q is not configured", ref, ref.Provider())
	}
	if strings.TrimSpace(p.APIKey) == "" {
		if ref.Provider() == "openai" {
			return fmt.Errorf("missing OPENAI_API_KEY: set it in the environment or in providers.openai.api_key")
		}
		return fmt.Errorf("provider %q has no api_key", ref.Provider())
	}
	if c.Completion.MaxTokens < 0 {
		return fmt.Errorf("completion.max_tokens must not be negative")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("completion.timeout must be positive")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is empty")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: expected text or json", c.Log.Format)
	}
	if !auditDrivers[c.Audit.Driver] {
		return fmt.Errorf("audit.driver %q: expected sqlite, postgres or redis", c.Audit.Driver)
	}
	if c.Audit.Driver != "" && c.Audit.DSN == "" {
		return fmt.Errorf("audit.driver %q needs audit.dsn", c.Audit.Driver)
	}
	if c.Audit.MaxLen < 0 {
		return fmt.Errorf("audit.max_len must not be negative")
	}
	return nil
}
