// Package config loads docrag configuration from a YAML file, a .env file
// and DOCRAG_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/docrag/engine/domain"
)

// Store configures the Qdrant connection.
type Store struct {
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	APIImpl             string        `yaml:"api_impl"`
	AnonymizedTelemetry bool          `yaml:"anonymized_telemetry"`
	AllowReset          bool          `yaml:"allow_reset"`
	Timeout             time.Duration `yaml:"timeout"`
}

// Addr returns host:port.
func (s Store) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Embedding selects the embedding backend.
type Embedding struct {
	Provider         string        `yaml:"provider"` // "ollama" or "openai"
	URL              string        `yaml:"url"`
	Model            string        `yaml:"model"`
	Dimensions       int           `yaml:"dimensions"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	Rate             float64       `yaml:"rate"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

type Chunking struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type Query struct {
	NResults int           `yaml:"n_results"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Log struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Neo4j configures the ingestion catalog. An empty URL disables it.
type Neo4j struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type API struct {
	Port       int     `yaml:"port"`
	CORSOrigin string  `yaml:"cors_origin"`
	QueryRPS   float64 `yaml:"query_rps"`
}

type Metrics struct {
	Port int `yaml:"port"`
}

// Config is the root configuration.
type Config struct {
	Store     Store     `yaml:"store"`
	Embedding Embedding `yaml:"embedding"`
	Chunking  Chunking  `yaml:"chunking"`
	Query     Query     `yaml:"query"`
	Log       Log       `yaml:"log"`
	NATS      NATS      `yaml:"nats"`
	Neo4j     Neo4j     `yaml:"neo4j"`
	API       API       `yaml:"api"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: Store{
			Host:                "localhost",
			Port:                6334,
			APIImpl:             "grpc",
			AnonymizedTelemetry: true,
			Timeout:             10 * time.Second,
		},
		Embedding: Embedding{
			Provider:         "ollama",
			URL:              "http://localhost:11434",
			Model:            "nomic-embed-text",
			Dimensions:       768,
			Timeout:          30 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Chunking: Chunking{Size: 300, Overlap: 100},
		Query:    Query{NResults: 2, Timeout: 15 * time.Second},
		Log:      Log{Dir: "logs", Level: "info", Format: "text"},
		NATS:     NATS{URL: "nats://localhost:4222", Subject: "docrag.ingest"},
		API:      API{Port: 8080, CORSOrigin: "*", QueryRPS: 10},
		Metrics:  Metrics{Port: 9090},
	}
}

// Load reads path over the defaults. A missing file is not an error. envFile,
// when non-empty and present, is loaded into the process environment first;
// existing variables are not overwritten.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	parse := func(key string, set func(string) error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil && firstErr == nil {
			firstErr = domain.NewValidationError(key, v, err)
		}
	}
	integer := func(key string, dst *int) {
		parse(key, func(v string) (err error) { *dst, err = strconv.Atoi(v); return })
	}
	boolean := func(key string, dst *bool) {
		parse(key, func(v string) (err error) { *dst, err = strconv.ParseBool(v); return })
	}
	duration := func(key string, dst *time.Duration) {
		parse(key, func(v string) (err error) { *dst, err = time.ParseDuration(v); return })
	}
	float := func(key string, dst *float64) {
		parse(key, func(v string) (err error) { *dst, err = strconv.ParseFloat(v, 64); return })
	}

	str("DOCRAG_STORE_HOST", &c.Store.Host)
	integer("DOCRAG_STORE_PORT", &c.Store.Port)
	boolean("DOCRAG_STORE_ALLOW_RESET", &c.Store.AllowReset)
	boolean("DOCRAG_STORE_ANONYMIZED_TELEMETRY", &c.Store.AnonymizedTelemetry)
	duration("DOCRAG_STORE_TIMEOUT", &c.Store.Timeout)

	str("DOCRAG_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("DOCRAG_EMBEDDING_URL", &c.Embedding.URL)
	str("DOCRAG_EMBEDDING_MODEL", &c.Embedding.Model)
	integer("DOCRAG_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	str("OPENAI_API_KEY", &c.Embedding.APIKey)
	str("DOCRAG_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	duration("DOCRAG_EMBEDDING_TIMEOUT", &c.Embedding.Timeout)
	float("DOCRAG_EMBEDDING_RATE", &c.Embedding.Rate)

	integer("DOCRAG_CHUNKING_SIZE", &c.Chunking.Size)
	integer("DOCRAG_CHUNKING_OVERLAP", &c.Chunking.Overlap)
	integer("DOCRAG_QUERY_N_RESULTS", &c.Query.NResults)

	str("DOCRAG_LOG_DIR", &c.Log.Dir)
	str("DOCRAG_LOG_LEVEL", &c.Log.Level)
	str("DOCRAG_LOG_FORMAT", &c.Log.Format)

	str("DOCRAG_NATS_URL", &c.NATS.URL)
	str("DOCRAG_NEO4J_URL", &c.Neo4j.URL)
	str("DOCRAG_NEO4J_USER", &c.Neo4j.User)
	str("DOCRAG_NEO4J_PASSWORD", &c.Neo4j.Password)
	str("DOCRAG_NEO4J_DATABASE", &c.Neo4j.Database)

	integer("DOCRAG_API_PORT", &c.API.Port)
	str("DOCRAG_API_CORS_ORIGIN", &c.API.CORSOrigin)
	integer("DOCRAG_METRICS_PORT", &c.Metrics.Port)
	return firstErr
}

// Validate reports the first invalid setting as a *domain.ValidationError.
func (c *Config) Validate() error {
	invalid := func(field string, value any, msg string) error {
		return domain.NewValidationError(field, fmt.Sprint(value), errors.New(msg))
	}
	for field, port := range map[string]int{
		"store.port":   c.Store.Port,
		"api.port":     c.API.Port,
		"metrics.port": c.Metrics.Port,
	} {
		if port < 1 || port > 65535 {
			return invalid(field, port, "port out of range")
		}
	}
	if strings.TrimSpace(c.Store.Host) == "" {
		return invalid("store.host", c.Store.Host, "required")
	}
	if c.Store.APIImpl != "grpc" {
		return invalid("store.api_impl", c.Store.APIImpl, "only grpc is supported")
	}
	if c.Store.Timeout <= 0 {
		return invalid("store.timeout", c.Store.Timeout, "must be positive")
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		return invalid("embedding.provider", c.Embedding.Provider, "must be ollama or openai")
	}
	if c.Embedding.Model == "" {
		return invalid("embedding.model", c.Embedding.Model, "required")
	}
	if c.Embedding.Dimensions <= 0 {
		return invalid("embedding.dimensions", c.Embedding.Dimensions, "must be positive")
	}
	if c.Embedding.Timeout <= 0 {
		return invalid("embedding.timeout", c.Embedding.Timeout, "must be positive")
	}
	if c.Embedding.Rate < 0 {
		return invalid("embedding.rate", c.Embedding.Rate, "must not be negative")
	}
	if err := domain.ValidateChunkConfig(c.Chunking.Size, c.Chunking.Overlap); err != nil {
		return err
	}
	if c.Query.NResults <= 0 {
		return invalid("query.n_results", c.Query.NResults, "must be positive")
	}
	if c.Query.Timeout <= 0 {
		return invalid("query.timeout", c.Query.Timeout, "must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", c.Log.Format, "must be text or json")
	}
	return nil
}
