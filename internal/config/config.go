// Package config loads application settings from an optional YAML file
// overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// SQLiteConfig locates the local store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend    string       `yaml:"backend"` // sqlite or qdrant
	SQLite     SQLiteConfig `yaml:"sqlite"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
	Table      string       `yaml:"table"`
	TextColumn string       `yaml:"text_column"`
	Dimension  int          `yaml:"dimension"`
}

// OpenAIConfig configures embeddings and chat.
type OpenAIConfig struct {
	APIKey            string  `yaml:"-"`
	BaseURL           string  `yaml:"base_url"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	ChatModel         string  `yaml:"chat_model"`
	TitleModel        string  `yaml:"title_model"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SplitterConfig configures chunking.
type SplitterConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	ScratchDir         string        `yaml:"scratch_dir"`
	AbortOnStatusError bool          `yaml:"abort_on_status_error"`
	GenerateTitles     bool          `yaml:"generate_titles"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	Concurrency        int           `yaml:"concurrency"`
	GitHubToken        string        `yaml:"-"`
}

// BackendConfig configures the backend API and its database.
type BackendConfig struct {
	URL         string        `yaml:"url"`
	ListenAddr  string        `yaml:"listen_addr"`
	DatabaseDSN string        `yaml:"database_dsn"`
	Driver      string        `yaml:"driver"` // postgres or sqlite
	HistoryTTL  time.Duration `yaml:"history_ttl"`
}

// QueueConfig selects the message queue.
type QueueConfig struct {
	Backend       string `yaml:"backend"` // redis or memory
	RedisAddr     string `yaml:"redis_addr"`
	LoadQueue     string `yaml:"load_queue"`
	DeletionQueue string `yaml:"deletion_queue"`
}

// AgentConfig tunes the conversational agent.
type AgentConfig struct {
	MaxMemoryWindow  int           `yaml:"max_memory_window"`
	MaxToolRounds    int           `yaml:"max_tool_rounds"`
	SystemPrompt     string        `yaml:"system_prompt"`
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`
	Temperature      *float64      `yaml:"temperature"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout or otlp
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Config is the root application configuration structure.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Splitter  SplitterConfig  `yaml:"splitter"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Backend   BackendConfig   `yaml:"backend"`
	Queue     QueueConfig     `yaml:"queue"`
	Agent     AgentConfig     `yaml:"agent"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	temperature := 0.5
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLite:     SQLiteConfig{Path: "data/vectorstore.db"},
			Qdrant:     QdrantConfig{Host: "localhost", Port: 6334},
			Table:      "vectorstore",
			TextColumn: "text",
			Dimension:  1536,
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-4o",
			TitleModel:     "gpt-4o-mini",
			BatchSize:      500,
		},
		Splitter: SplitterConfig{ChunkSize: 4000, ChunkOverlap: 200},
		Ingest: IngestConfig{
			HTTPTimeout: 60 * time.Second,
			Concurrency: 1,
		},
		Backend: BackendConfig{
			URL:         "http://localhost:8080",
			ListenAddr:  ":8080",
			DatabaseDSN: "data/registry.db",
			Driver:      "sqlite",
			HistoryTTL:  7 * 24 * time.Hour,
		},
		Queue: QueueConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			LoadQueue:     "document-load",
			DeletionQueue: "document-deletion",
		},
		Agent: AgentConfig{
			MaxMemoryWindow:  10,
			MaxToolRounds:    5,
			RetrievalTimeout: 30 * time.Second,
			Temperature:      &temperature,
		},
		Telemetry: TelemetryConfig{Exporter: "none"},
	}
}

// Load reads path (when non-empty and present) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STORE_BACKEND", &c.Store.Backend)
	str("SQLITE_PATH", &c.Store.SQLite.Path)
	str("QDRANT_HOST", &c.Store.Qdrant.Host)
	num("QDRANT_PORT", &c.Store.Qdrant.Port)
	str("QDRANT_API_KEY", &c.Store.Qdrant.APIKey)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("EMBEDDINGS_MODEL", &c.OpenAI.EmbeddingModel)
	str("AGENT_MODEL", &c.OpenAI.ChatModel)
	str("BACKEND_API_URL", &c.Backend.URL)
	str("LISTEN_ADDR", &c.Backend.ListenAddr)
	str("DATABASE_DSN", &c.Backend.DatabaseDSN)
	str("DATABASE_DRIVER", &c.Backend.Driver)
	str("QUEUE_BACKEND", &c.Queue.Backend)
	str("REDIS_ADDR", &c.Queue.RedisAddr)
	str("DOCUMENT_LOAD_QUEUE", &c.Queue.LoadQueue)
	str("DOCUMENT_DELETION_QUEUE", &c.Queue.DeletionQueue)
	num("MAX_MEMORY_WINDOW", &c.Agent.MaxMemoryWindow)
	flag("ABORT_ON_STATUS_ERROR", &c.Ingest.AbortOnStatusError)
	str("GITHUB_TOKEN", &c.Ingest.GitHubToken)
	str("OTEL_EXPORTER", &c.Telemetry.Exporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	return errors.Join(errs...)
}

// Validate rejects unknown backends and non-positive sizes.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, ", ")))
	}
	positive := func(field string, value int) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", field, value))
		}
	}

	oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error")
	oneOf("log.format", c.Log.Format, "json", "text")
	oneOf("store.backend", c.Store.Backend, "sqlite", "qdrant")
	oneOf("backend.driver", c.Backend.Driver, "postgres", "sqlite")
	oneOf("queue.backend", c.Queue.Backend, "redis", "memory")
	oneOf("telemetry.exporter", c.Telemetry.Exporter, "none", "stdout", "otlp")

	positive("store.dimension", c.Store.Dimension)
	positive("splitter.chunk_size", c.Splitter.ChunkSize)
	positive("agent.max_memory_window", c.Agent.MaxMemoryWindow)
	positive("agent.max_tool_rounds", c.Agent.MaxToolRounds)
	if c.Splitter.ChunkOverlap < 0 || c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		errs = append(errs, fmt.Errorf("splitter.chunk_overlap must be in [0, chunk_size), got %d", c.Splitter.ChunkOverlap))
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLite.Path == "" {
		errs = append(errs, fmt.Errorf("store.sqlite.path is required"))
	}
	if c.Store.Backend == "qdrant" && c.Store.Qdrant.Host == "" {
		errs = append(errs, fmt.Errorf("store.qdrant.host is required"))
	}
	return errors.Join(errs...)
}
