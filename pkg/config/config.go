// Package config loads Katra's runtime configuration from environment
// variables using viper's nested mapstructure style.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration for one Katra instance.
type Config struct {
	Persona string `mapstructure:"persona"`
	Role    string `mapstructure:"role"`

	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Graph         GraphConfig         `mapstructure:"graph"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	RestAPI       RestAPIConfig       `mapstructure:"rest_api"`
}

// StorageConfig locates the on-disk tiers.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// LoggingConfig controls internal/logging's slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // ERROR|WARN|INFO|DEBUG
	Format string `mapstructure:"format"` // console, json
}

// VectorConfig tunes the TF-IDF/hashing vector index.
type VectorConfig struct {
	UseVectorSearch     bool    `mapstructure:"use_vector_search"`
	EmbeddingMethod     string  `mapstructure:"embedding_method"` // HASH|TFIDF|EXTERNAL
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Dimension           int     `mapstructure:"dimension"` // D
	MinTokenLength      int     `mapstructure:"min_token_length"`
	MaxTokenLength      int     `mapstructure:"max_token_length"`
	MaxTokens           int     `mapstructure:"max_tokens"`
	ExternalEndpoint    string  `mapstructure:"external_endpoint"`
}

// GraphConfig tunes the relationship graph's auto-linking.
type GraphConfig struct {
	TemporalWindowSeconds int64   `mapstructure:"temporal_window_seconds"`
	SimilarityThreshold   float64 `mapstructure:"similarity_threshold"`
	MaxSimilarEdges       int     `mapstructure:"max_similar_edges"`
	MaxPaths              int     `mapstructure:"max_paths"`
}

// ConsolidationConfig tunes the archival waterfall.
type ConsolidationConfig struct {
	CutoffDays           int     `mapstructure:"cutoff_days"`
	DecayWindowHours     int     `mapstructure:"decay_window_hours"`
	SalienceThreshold    float64 `mapstructure:"salience_threshold"`
	HubThreshold         float64 `mapstructure:"hub_threshold"`
	MinClusterSimilarity float64 `mapstructure:"min_cluster_similarity"`
	MinClusterSize       int     `mapstructure:"min_cluster_size"`
}

// RestAPIConfig configures the thin httpapi front door.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
	CORS    bool   `mapstructure:"cors"`
}

// DefaultConfig returns Katra's out-of-the-box configuration, supplying
// every numeric tunable the engine needs.
func DefaultConfig() *Config {
	return &Config{
		Persona: "default",
		Role:    "",
		Storage: StorageConfig{
			Root: filepath.Join(defaultConfigDir(), "memory"),
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "console",
		},
		Vector: VectorConfig{
			UseVectorSearch:     true,
			EmbeddingMethod:     "TFIDF",
			SimilarityThreshold: 0.3,
			Dimension:           256,
			MinTokenLength:      2,
			MaxTokenLength:      40,
			MaxTokens:           10000,
		},
		Graph: GraphConfig{
			TemporalWindowSeconds: 3600,
			SimilarityThreshold:   0.6,
			MaxSimilarEdges:       5,
			MaxPaths:              20,
		},
		Consolidation: ConsolidationConfig{
			CutoffDays:           30,
			DecayWindowHours:     7 * 24,
			SalienceThreshold:    0.7,
			HubThreshold:         0.5,
			MinClusterSimilarity: 0.4,
			MinClusterSize:       3,
		},
		RestAPI: RestAPIConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    8420,
			CORS:    true,
		},
	}
}

// DecayWindow returns the consolidation decay window as a time.Duration.
func (c ConsolidationConfig) DecayWindow() time.Duration {
	return time.Duration(c.DecayWindowHours) * time.Hour
}

// Load builds a Config from environment variables, falling back to
// DefaultConfig's values for anything unset. Six variables (PERSONA,
// ROLE, LOG_LEVEL, USE_VECTOR_SEARCH, EMBEDDING_METHOD,
// SIMILARITY_THRESHOLD) are read bare, exactly as named. Every other
// tunable uses the KATRA_ prefix with underscore-joined nested keys,
// e.g. KATRA_CONSOLIDATION_HUB_THRESHOLD.
func Load() (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	bindDefaults(v, def)

	v.SetEnvPrefix("KATRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindBareEnvAliases(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("persona", def.Persona)
	v.SetDefault("role", def.Role)
	v.SetDefault("storage.root", def.Storage.Root)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("vector.use_vector_search", def.Vector.UseVectorSearch)
	v.SetDefault("vector.embedding_method", def.Vector.EmbeddingMethod)
	v.SetDefault("vector.similarity_threshold", def.Vector.SimilarityThreshold)
	v.SetDefault("vector.dimension", def.Vector.Dimension)
	v.SetDefault("vector.min_token_length", def.Vector.MinTokenLength)
	v.SetDefault("vector.max_token_length", def.Vector.MaxTokenLength)
	v.SetDefault("vector.max_tokens", def.Vector.MaxTokens)
	v.SetDefault("vector.external_endpoint", def.Vector.ExternalEndpoint)
	v.SetDefault("graph.temporal_window_seconds", def.Graph.TemporalWindowSeconds)
	v.SetDefault("graph.similarity_threshold", def.Graph.SimilarityThreshold)
	v.SetDefault("graph.max_similar_edges", def.Graph.MaxSimilarEdges)
	v.SetDefault("graph.max_paths", def.Graph.MaxPaths)
	v.SetDefault("consolidation.cutoff_days", def.Consolidation.CutoffDays)
	v.SetDefault("consolidation.decay_window_hours", def.Consolidation.DecayWindowHours)
	v.SetDefault("consolidation.salience_threshold", def.Consolidation.SalienceThreshold)
	v.SetDefault("consolidation.hub_threshold", def.Consolidation.HubThreshold)
	v.SetDefault("consolidation.min_cluster_similarity", def.Consolidation.MinClusterSimilarity)
	v.SetDefault("consolidation.min_cluster_size", def.Consolidation.MinClusterSize)
	v.SetDefault("rest_api.enabled", def.RestAPI.Enabled)
	v.SetDefault("rest_api.host", def.RestAPI.Host)
	v.SetDefault("rest_api.port", def.RestAPI.Port)
	v.SetDefault("rest_api.api_key", def.RestAPI.APIKey)
	v.SetDefault("rest_api.cors", def.RestAPI.CORS)
}

// bindBareEnvAliases wires the bare variable names (PERSONA, ROLE,
// LOG_LEVEL, USE_VECTOR_SEARCH, EMBEDDING_METHOD, SIMILARITY_THRESHOLD)
// onto their nested config keys, since viper's automatic env only
// matches KATRA_<DOTTED_KEY_UPPERCASED> by default.
func bindBareEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"persona":                     "PERSONA",
		"role":                        "ROLE",
		"logging.level":               "LOG_LEVEL",
		"vector.use_vector_search":    "USE_VECTOR_SEARCH",
		"vector.embedding_method":     "EMBEDDING_METHOD",
		"vector.similarity_threshold": "SIMILARITY_THRESHOLD",
	}
	for key, env := range aliases {
		v.BindEnv(key, env)
	}
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	switch c.Logging.Level {
	case "ERROR", "WARN", "INFO", "DEBUG":
	default:
		return fmt.Errorf("logging.level must be one of ERROR, WARN, INFO, DEBUG, got %q", c.Logging.Level)
	}

	switch c.Vector.EmbeddingMethod {
	case "HASH", "TFIDF", "EXTERNAL":
	default:
		return fmt.Errorf("vector.embedding_method must be one of HASH, TFIDF, EXTERNAL, got %q", c.Vector.EmbeddingMethod)
	}
	if c.Vector.SimilarityThreshold < 0 || c.Vector.SimilarityThreshold > 1 {
		return fmt.Errorf("vector.similarity_threshold must be in [0,1]")
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector.dimension must be positive")
	}
	if c.Vector.EmbeddingMethod == "EXTERNAL" && c.Vector.ExternalEndpoint == "" {
		return fmt.Errorf("vector.external_endpoint is required when embedding_method is EXTERNAL")
	}
	if c.Vector.MinTokenLength <= 0 || c.Vector.MaxTokenLength <= 0 {
		return fmt.Errorf("vector.min_token_length and vector.max_token_length must be positive")
	}
	if c.Vector.MinTokenLength > c.Vector.MaxTokenLength {
		return fmt.Errorf("vector.min_token_length must not exceed vector.max_token_length")
	}
	if c.Vector.MaxTokens <= 0 {
		return fmt.Errorf("vector.max_tokens must be positive")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when the REST API is enabled")
		}
	}

	return nil
}

// EnsureStorageRoot creates the storage root directory if absent.
func (c *Config) EnsureStorageRoot() error {
	if err := os.MkdirAll(c.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}
	return nil
}

func defaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".katra")
}
