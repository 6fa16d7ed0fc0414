package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Persona != "default" {
		t.Errorf("expected persona=default, got %s", cfg.Persona)
	}
	if cfg.Vector.EmbeddingMethod != "TFIDF" {
		t.Errorf("expected embedding_method=TFIDF, got %s", cfg.Vector.EmbeddingMethod)
	}
	if cfg.Vector.Dimension != 256 {
		t.Errorf("expected dimension=256, got %d", cfg.Vector.Dimension)
	}
	if cfg.Graph.TemporalWindowSeconds != 3600 {
		t.Errorf("expected temporal_window_seconds=3600, got %d", cfg.Graph.TemporalWindowSeconds)
	}
	if cfg.Graph.MaxPaths != 20 {
		t.Errorf("expected max_paths=20, got %d", cfg.Graph.MaxPaths)
	}
	if cfg.Consolidation.SalienceThreshold != 0.7 {
		t.Errorf("expected salience_threshold=0.7, got %v", cfg.Consolidation.SalienceThreshold)
	}
	if cfg.Consolidation.HubThreshold != 0.5 {
		t.Errorf("expected hub_threshold=0.5, got %v", cfg.Consolidation.HubThreshold)
	}
	if !cfg.RestAPI.Enabled || cfg.RestAPI.Port != 8420 {
		t.Errorf("expected rest_api enabled on port 8420, got %+v", cfg.RestAPI)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "valid config", modify: func(c *Config) {}, expectErr: false},
		{name: "empty storage root", modify: func(c *Config) { c.Storage.Root = "" }, expectErr: true},
		{name: "invalid log level", modify: func(c *Config) { c.Logging.Level = "VERBOSE" }, expectErr: true},
		{name: "invalid embedding method", modify: func(c *Config) { c.Vector.EmbeddingMethod = "BOGUS" }, expectErr: true},
		{name: "similarity threshold out of range", modify: func(c *Config) { c.Vector.SimilarityThreshold = 1.5 }, expectErr: true},
		{name: "zero dimension", modify: func(c *Config) { c.Vector.Dimension = 0 }, expectErr: true},
		{
			name: "external embedding without endpoint",
			modify: func(c *Config) {
				c.Vector.EmbeddingMethod = "EXTERNAL"
				c.Vector.ExternalEndpoint = ""
			},
			expectErr: true,
		},
		{name: "invalid rest api port", modify: func(c *Config) { c.RestAPI.Port = 70000 }, expectErr: true},
		{name: "min token length exceeds max", modify: func(c *Config) { c.Vector.MinTokenLength = 50 }, expectErr: true},
		{name: "zero max tokens", modify: func(c *Config) { c.Vector.MaxTokens = 0 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadUsesDefaultsWithoutEnv(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vector.EmbeddingMethod != "TFIDF" {
		t.Errorf("expected default embedding method TFIDF, got %s", cfg.Vector.EmbeddingMethod)
	}
	if cfg.RestAPI.Port != 8420 {
		t.Errorf("expected default port 8420, got %d", cfg.RestAPI.Port)
	}
}

func TestLoadReadsBareEnvAliases(t *testing.T) {
	os.Setenv("PERSONA", "athena")
	os.Setenv("LOG_LEVEL", "DEBUG")
	os.Setenv("SIMILARITY_THRESHOLD", "0.55")
	defer func() {
		os.Unsetenv("PERSONA")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("SIMILARITY_THRESHOLD")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Persona != "athena" {
		t.Errorf("expected persona=athena, got %s", cfg.Persona)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Vector.SimilarityThreshold != 0.55 {
		t.Errorf("expected similarity_threshold=0.55, got %v", cfg.Vector.SimilarityThreshold)
	}
}

func TestLoadReadsNestedSectionEnv(t *testing.T) {
	os.Setenv("KATRA_CONSOLIDATION_HUB_THRESHOLD", "0.9")
	defer os.Unsetenv("KATRA_CONSOLIDATION_HUB_THRESHOLD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Consolidation.HubThreshold != 0.9 {
		t.Errorf("expected hub_threshold=0.9, got %v", cfg.Consolidation.HubThreshold)
	}
}

func TestEnsureStorageRoot(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Root = tmpDir + "/memory"

	if err := cfg.EnsureStorageRoot(); err != nil {
		t.Fatalf("EnsureStorageRoot failed: %v", err)
	}
	if _, err := os.Stat(cfg.Storage.Root); os.IsNotExist(err) {
		t.Error("storage root was not created")
	}
}
