// Package config loads the matching pipeline's configuration from a YAML
// document, overridable by environment variables, following the same
// layering the reference indexer uses for its search/embeddings config.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete ghgmatch configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Catalogue CatalogueConfig `yaml:"catalogue"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
}

// CatalogueConfig points at the precomputed catalogue artifacts.
type CatalogueConfig struct {
	// Version is a label only ("3.11" vs "3.12"); never branches logic.
	Version  string `yaml:"version"`
	DataPath string `yaml:"data_path"`
	BM25Path string `yaml:"bm25_path"`
	VecPath  string `yaml:"vector_path"`
}

// RetrievalConfig configures C3's hybrid retriever.
type RetrievalConfig struct {
	TopK     int `yaml:"top_k"`
	Pool     int `yaml:"pool"`
	RRFK     int `yaml:"rrf_k"`
}

// LLMConfig configures the decision oracle (C4).
type LLMConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"top_p"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxTransportRetries int      `yaml:"max_transport_retries"`
	MaxMalformedRetries int      `yaml:"max_malformed_retries"`
}

// SchedulerConfig configures C7's worker pool and pacing.
type SchedulerConfig struct {
	Workers      int           `yaml:"workers"`
	RateInterval time.Duration `yaml:"rate_interval"`
}

// StoreConfig configures C8's job store.
type StoreConfig struct {
	DSN            string        `yaml:"dsn"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
}

// Default returns sensible defaults for a standalone development run.
func Default() Config {
	return Config{
		Version: 1,
		Catalogue: CatalogueConfig{
			Version:  "3.11",
			DataPath: "catalogue.sqlite",
			BM25Path: "catalogue.bleve",
			VecPath:  "catalogue.hnsw",
		},
		Retrieval: RetrievalConfig{
			TopK: 20,
			Pool: 100,
			RRFK: 60,
		},
		LLM: LLMConfig{
			Endpoint:            "http://localhost:11434",
			Model:               "ghg-classifier",
			Temperature:         0,
			TopP:                0.2,
			RequestTimeout:      60 * time.Second,
			MaxTransportRetries: 5,
			MaxMalformedRetries: 3,
		},
		Scheduler: SchedulerConfig{
			Workers:      4,
			RateInterval: 15 * time.Second,
		},
		Store: StoreConfig{
			DSN:         "jobs.sqlite",
			BusyTimeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML config file, applying defaults for unset fields,
// then overlays environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GHGMATCH_RRF_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.RRFK = n
		}
	}
	if v := os.Getenv("GHGMATCH_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("GHGMATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("GHGMATCH_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("GHGMATCH_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("GHGMATCH_RATE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.RateInterval = d
		}
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime errors deep in the retrieval or scheduling code.
func (c Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Pool < c.Retrieval.TopK {
		return fmt.Errorf("retrieval.pool (%d) must be >= top_k (%d)", c.Retrieval.Pool, c.Retrieval.TopK)
	}
	if c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("retrieval.rrf_k must be positive, got %d", c.Retrieval.RRFK)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.RateInterval <= 0 {
		return fmt.Errorf("scheduler.rate_interval must be positive, got %s", c.Scheduler.RateInterval)
	}
	if c.LLM.Temperature != 0 {
		return fmt.Errorf("llm.temperature must be 0 for deterministic classification, got %v", c.LLM.Temperature)
	}
	return nil
}

// DefaultWorkers returns runtime.NumCPU() as a hint for Workers, mirroring
// the reference indexer's performance defaults; callers may still override.
func DefaultWorkers() int {
	return runtime.NumCPU()
}
