// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Vector  VectorConfig  `mapstructure:"vector"`
	RAG     RAGConfig     `mapstructure:"rag"`
	Secrets SecretsConfig `mapstructure:"secrets"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Log     LogConfig     `mapstructure:"log"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	EmbedModel        string        `mapstructure:"embed_model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type VectorConfig struct {
	Store      string `mapstructure:"store"` // "qdrant" or "memory"
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

type RAGConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	Overlap             int     `mapstructure:"overlap"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	TopK                int     `mapstructure:"top_k"`
	MaxDocumentChars    int     `mapstructure:"max_document_chars"`
	MaxUploadBytes      int64   `mapstructure:"max_upload_bytes"`
}

type SecretsConfig struct {
	Provider     string `mapstructure:"provider"` // "env", "file", or "vault"
	Path         string `mapstructure:"path"`     // secrets file for the file provider
	VaultAddress string `mapstructure:"vault_address"`
	VaultToken   string `mapstructure:"vault_token"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // file path or "stdout"/"stderr"
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		warnings = append(warnings, fmt.Sprintf("similarity threshold %.2f is outside [0.0, 1.0]", c.RAG.SimilarityThreshold))
	}
	if c.RAG.ChunkSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("chunk_size %d is not positive", c.RAG.ChunkSize))
	} else if c.RAG.Overlap < 0 || c.RAG.Overlap >= c.RAG.ChunkSize {
		warnings = append(warnings, fmt.Sprintf("overlap %d must be in [0, %d)", c.RAG.Overlap, c.RAG.ChunkSize))
	}
	if c.RAG.TopK <= 0 {
		warnings = append(warnings, fmt.Sprintf("top_k %d is not positive", c.RAG.TopK))
	}
	if c.Vector.Store != "" && c.Vector.Store != "qdrant" && c.Vector.Store != "memory" {
		warnings = append(warnings, fmt.Sprintf("unknown vector store '%s' (expected qdrant or memory)", c.Vector.Store))
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.base_delay", 250*time.Millisecond)

	v.SetDefault("vector.store", "qdrant")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "loom_chunks")
	v.SetDefault("vector.dimension", 1536)

	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.overlap", 50)
	v.SetDefault("rag.similarity_threshold", 0.7)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.max_document_chars", 50_000)
	v.SetDefault("rag.max_upload_bytes", 10*1024*1024)

	v.SetDefault("secrets.provider", "env")

	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	// Answers stream to stdout, so audit lines default to stderr.
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.path", "stderr")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from file and environment. An empty path loads
// defaults plus LOOM_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
