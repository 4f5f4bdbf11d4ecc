// Package config loads DbChat configuration from an optional YAML file,
// a .env file, and the process environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Schema     SchemaConfig     `yaml:"schema"`
	Query      QueryConfig      `yaml:"query"`
	Index      IndexConfig      `yaml:"index"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR" env-default:":8080"`
}

// DatabaseConfig describes the database generated SQL runs against.
// DSN, when set, takes precedence over the individual fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DSN      string `yaml:"-" env:"DB_DSN"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"postgres"`
	User     string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password string `yaml:"-" env:"DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`
}

// CatalogConfig selects where schema elements and their embeddings live.
type CatalogConfig struct {
	Backend string `yaml:"backend" env:"CATALOG_BACKEND" env-default:"postgres"`
	Path    string `yaml:"path" env:"CATALOG_PATH" env-default:"dbchat-catalog.db"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" env:"EMBEDDING_PROVIDER" env-default:"openai"`
	APIKey     string `yaml:"-" env:"OPENAI_API_KEY"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	BaseURL    string `yaml:"base_url" env:"EMBEDDING_BASE_URL"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"0"`
}

// LLMConfig configures the chat model used for generation and analysis.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"anthropic"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"`
	Model       string  `yaml:"model" env:"LLM_MODEL"`
	BaseURL     string  `yaml:"base_url" env:"LLM_BASE_URL"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1000"`
	Temperature float32 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
}

// SchemaConfig controls how schema context is chosen for a question.
type SchemaConfig struct {
	Mode        string `yaml:"mode" env:"SCHEMA_MODE" env-default:"ranked"`
	File        string `yaml:"file" env:"SCHEMA_FILE"`
	TopK        int    `yaml:"top_k" env:"SCHEMA_TOP_K" env-default:"10"`
	SearchTerms bool   `yaml:"search_terms" env:"SCHEMA_SEARCH_TERMS" env-default:"true"`
}

// QueryConfig controls statement execution.
type QueryConfig struct {
	ReadOnly bool          `yaml:"read_only" env:"QUERY_READ_ONLY" env-default:"false"`
	Timeout  time.Duration `yaml:"timeout" env:"QUERY_TIMEOUT" env-default:"30s"`
}

// IndexConfig controls catalog embedding population.
type IndexConfig struct {
	Concurrency int  `yaml:"concurrency" env:"INDEX_CONCURRENCY" env-default:"4"`
	OnStartup   bool `yaml:"on_startup" env:"INDEX_ON_STARTUP" env-default:"true"`
}

// ClassifierConfig overrides the keyword sets used to decide whether a
// question must be answered with SQL. Empty means use the built-in sets.
type ClassifierConfig struct {
	DataKeywords    []string `yaml:"data_keywords" env:"CLASSIFIER_DATA_KEYWORDS" env-separator:","`
	ProductKeywords []string `yaml:"product_keywords" env:"CLASSIFIER_PRODUCT_KEYWORDS" env-separator:","`
}

// AssistantConfig holds free text appended to the generation system prompt.
type AssistantConfig struct {
	Persona string `yaml:"persona" env:"ASSISTANT_PERSONA"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration. A .env file in the working directory is loaded
// first if present. When path is non-empty the YAML file is read and then
// overridden by environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // loads .env if present, silently ignores if not

	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite", "sqlserver":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q (supported: postgres, pgx, sqlite, sqlserver)", c.Database.Driver))
	}

	switch c.Catalog.Backend {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown catalog backend %q (supported: postgres, sqlite, memory)", c.Catalog.Backend))
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM provider %q (supported: anthropic, openai)", c.LLM.Provider))
	}

	if c.Embedding.Provider != "openai" {
		errs = append(errs, fmt.Errorf("unknown embedding provider %q (supported: openai)", c.Embedding.Provider))
	}

	switch c.Schema.Mode {
	case "ranked", "hardcoded":
	default:
		errs = append(errs, fmt.Errorf("unknown schema mode %q (supported: ranked, hardcoded)", c.Schema.Mode))
	}

	if c.Schema.TopK <= 0 {
		errs = append(errs, errors.New("schema top_k must be positive"))
	}
	if c.Index.Concurrency <= 0 {
		errs = append(errs, errors.New("index concurrency must be positive"))
	}

	return errors.Join(errs...)
}

// ConnString returns the connection string for the configured driver.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}

	switch d.Driver {
	case "sqlite":
		return d.Name
	case "sqlserver":
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(d.User, d.Password),
			Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			RawQuery: url.Values{"database": {d.Name}}.Encode(),
		}
		return u.String()
	default:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:     "/" + d.Name,
			RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
		}
		return u.String()
	}
}

// SchemaText returns the hardcoded schema description from File, or "" when
// no file is configured.
func (s SchemaConfig) SchemaText() (string, error) {
	if s.File == "" {
		return "", nil
	}
	b, err := os.ReadFile(s.File)
	if err != nil {
		return "", fmt.Errorf("read schema file: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}
