package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the copilot pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// EmbeddingModel returns the first embedding model configured on any
// provider, or empty when none is.
func (l LLMConfig) EmbeddingModel() string {
	for _, p := range l.Providers {
		if p.EmbeddingModel != "" {
			return p.EmbeddingModel
		}
	}
	return ""
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type           string              `mapstructure:"type"` // openai, anthropic
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	EmbeddingModel string              `mapstructure:"embedding_model"`
	Models         map[string]LLMModel `mapstructure:"models"`
	MaxRetries     int                 `mapstructure:"max_retries"`
	Timeout        time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // retrieval task planning
	Grading   string `mapstructure:"grading"`   // binary passage relevance grading
	Writing   string `mapstructure:"writing"`   // draft generation
	Verifying string `mapstructure:"verifying"` // grounding verification
	Fallback  string `mapstructure:"fallback"`
}

// ModelFor resolves the configured model key for a stage, falling back
// to the routing fallback when the stage has no explicit entry.
func (r LLMRoutingConfig) ModelFor(stage string) string {
	var m string
	switch stage {
	case "planner":
		m = r.Planning
	case "research":
		m = r.Grading
	case "writer":
		m = r.Writing
	case "verifier":
		m = r.Verifying
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// TelemetryConfig contains trace and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TraceFile    string `mapstructure:"trace_file"` // JSONL sink path, empty disables the file sink
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// PipelineConfig bounds the four-stage protocol
type PipelineConfig struct {
	MaxQueries         int `mapstructure:"max_queries"`           // planner output cap
	TopK               int `mapstructure:"top_k"`                 // passages fetched per query
	MaxActions         int `mapstructure:"max_actions"`           // writer action list cap
	DueDateDefaultDays int `mapstructure:"due_date_default_days"` // fallback due date horizon
}

// Normalize applies protocol defaults for unset pipeline values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.MaxQueries <= 0 || p.MaxQueries > 5 {
		p.MaxQueries = 5
	}
	if p.TopK <= 0 {
		p.TopK = 3
	}
	if p.MaxActions <= 0 || p.MaxActions > 4 {
		p.MaxActions = 4
	}
	if p.DueDateDefaultDays <= 0 {
		p.DueDateDefaultDays = 7
	}
	return p
}

// RetrievalConfig selects the passage index backing the research stage
type RetrievalConfig struct {
	Backend    string `mapstructure:"backend"`     // pgvector or bleve
	CorpusFile string `mapstructure:"corpus_file"` // bleve backend: pre-chunked passages JSON
	IndexPath  string `mapstructure:"index_path"`  // bleve backend: on-disk index location
}

func (r RetrievalConfig) Validate() error {
	switch r.Backend {
	case "", "pgvector":
	case "bleve":
		if strings.TrimSpace(r.CorpusFile) == "" && strings.TrimSpace(r.IndexPath) == "" {
			return fmt.Errorf("retrieval.corpus_file or retrieval.index_path required for bleve backend")
		}
	default:
		return fmt.Errorf("unsupported retrieval backend: %s", r.Backend)
	}
	return nil
}

// StorageConfig contains all storage backends
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders a lib/pq connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains the optional grade-cache connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether the grade cache should be wired at all.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != "" && strings.TrimSpace(r.Port) != ""
}

// LoadConfig loads config from file
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "45s")
	viper.SetDefault("pipeline.max_queries", 5)
	viper.SetDefault("pipeline.top_k", 3)
	viper.SetDefault("pipeline.max_actions", 4)
	viper.SetDefault("pipeline.due_date_default_days", 7)
	viper.SetDefault("retrieval.backend", "pgvector")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.trace_file", "logs/run.jsonl")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CAREBRIEF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	config.Pipeline = config.Pipeline.Normalize()

	if err := config.Retrieval.Validate(); err != nil {
		return nil, err
	}
	if config.Retrieval.Backend == "" || config.Retrieval.Backend == "pgvector" {
		if err := config.Storage.Postgres.Validate(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}
