// Package config loads drive-search settings from an optional TOML file and
// the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/renderinc/drive-search/internal/embeddings"
	"github.com/renderinc/drive-search/internal/search"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DRIVE_SEARCH_"

// ErrInvalid is wrapped by every Validate failure
var ErrInvalid = errors.New("invalid config")

type Config struct {
	DataDir      string             `toml:"data_dir"`
	Graph        GraphConfig        `toml:"graph"`
	Embedding    EmbeddingConfig    `toml:"embedding"`
	CrossEncoder CrossEncoderConfig `toml:"cross_encoder"`
	Search       SearchConfig       `toml:"search"`
	Sync         SyncConfig         `toml:"sync"`
	Server       ServerConfig       `toml:"server"`
}

type GraphConfig struct {
	ClientID          string   `toml:"client_id"`
	ClientSecret      string   `toml:"client_secret"`
	Tenant            string   `toml:"tenant"`
	Scopes            []string `toml:"scopes"`
	RedirectURL       string   `toml:"redirect_url"`
	BaseURL           string   `toml:"base_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

type EmbeddingConfig struct {
	Provider  string `toml:"provider"`
	URL       string `toml:"url"`
	Model     string `toml:"model"`
	Token     string `toml:"token"`
	BatchSize int    `toml:"batch_size"`
	CacheSize int    `toml:"cache_size"`
}

type CrossEncoderConfig struct {
	URL       string `toml:"url"`
	Model     string `toml:"model"`
	BatchSize int    `toml:"batch_size"`
}

// SearchConfig sizes the stages of the search cascade
type SearchConfig struct {
	BM25TopK          int `toml:"bm25_top_k"`
	ExpansionK        int `toml:"expansion_k"`
	SecondBM25TopK    int `toml:"second_bm25_top_k"`
	EmbeddingTopK     int `toml:"embedding_top_k"`
	FinalResultsK     int `toml:"final_results_k"`
	ExistingScanLimit int `toml:"existing_scan_limit"`
}

type SyncConfig struct {
	Workers int    `toml:"workers"`
	Source  string `toml:"source"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	stages := search.DefaultStages()
	return &Config{
		DataDir: "./data",
		Graph: GraphConfig{
			Tenant:            "common",
			Scopes:            []string{"openid", "profile", "offline_access", "User.Read", "Files.ReadWrite"},
			RedirectURL:       "http://localhost:6893/auth/callback",
			BaseURL:           "https://graph.microsoft.com/v1.0",
			RequestsPerSecond: 10,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BatchSize: 32,
			CacheSize: 4096,
		},
		CrossEncoder: CrossEncoderConfig{
			URL:       "http://localhost:8080",
			Model:     "cross-encoder/ms-marco-MiniLM-L-6-v2",
			BatchSize: 32,
		},
		Search: SearchConfig{
			BM25TopK:          stages.FirstTopK,
			ExpansionK:        stages.ExpansionK,
			SecondBM25TopK:    stages.SecondTopK,
			EmbeddingTopK:     stages.DenseTopK,
			FinalResultsK:     stages.FinalTopK,
			ExistingScanLimit: search.DefaultScanLimit,
		},
		Sync: SyncConfig{
			Workers: 8,
			Source:  "onedrive",
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 6893,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			dec := toml.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
		}
		*dst = n
		return nil
	}

	str(&c.DataDir, EnvPrefix+"DATA_DIR")
	str(&c.Graph.ClientID, EnvPrefix+"CLIENT_ID", "CLIENT_ID")
	str(&c.Graph.ClientSecret, EnvPrefix+"CLIENT_SECRET", "CLIENT_SECRET")
	str(&c.Graph.Tenant, EnvPrefix+"TENANT_ID", "MS_TENANT_ID")
	str(&c.Graph.RedirectURL, EnvPrefix+"REDIRECT_URL")
	str(&c.Graph.BaseURL, EnvPrefix+"GRAPH_URL")
	if v, ok := lookup(EnvPrefix + "SCOPES"); ok && v != "" {
		c.Graph.Scopes = strings.Fields(v)
	}
	str(&c.Embedding.Provider, EnvPrefix+"EMBEDDING_PROVIDER")
	str(&c.Embedding.URL, EnvPrefix+"EMBEDDING_URL")
	str(&c.Embedding.Model, EnvPrefix+"EMBEDDING_MODEL")
	str(&c.Embedding.Token, EnvPrefix+"EMBEDDING_TOKEN", "OPENAI_API_KEY")
	str(&c.CrossEncoder.URL, EnvPrefix+"CROSS_ENCODER_URL")
	str(&c.CrossEncoder.Model, EnvPrefix+"CROSS_ENCODER_MODEL")
	str(&c.Sync.Source, EnvPrefix+"SOURCE")
	str(&c.Server.Host, EnvPrefix+"HOST")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Search.BM25TopK, "BM25_TOP_K"},
		{&c.Search.ExpansionK, "EXPANSION_K"},
		{&c.Search.SecondBM25TopK, "SECOND_BM25_TOP_K"},
		{&c.Search.EmbeddingTopK, "EMBEDDING_TOP_K"},
		{&c.Search.FinalResultsK, "FINAL_RESULTS_K"},
		{&c.Search.ExistingScanLimit, "EXISTING_SCAN_LIMIT"},
		{&c.Sync.Workers, "WORKERS"},
		{&c.Server.Port, "PORT"},
	}
	for _, i := range ints {
		if err := num(i.dst, EnvPrefix+i.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the search cascade or the sync engine cannot run with
func (c *Config) Validate() error {
	s := c.Search
	for name, v := range map[string]int{
		"bm25_top_k":        s.BM25TopK,
		"expansion_k":       s.ExpansionK,
		"second_bm25_top_k": s.SecondBM25TopK,
		"embedding_top_k":   s.EmbeddingTopK,
		"final_results_k":   s.FinalResultsK,
		"sync.workers":      c.Sync.Workers,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, name, v)
		}
	}

	if s.SecondBM25TopK > s.BM25TopK {
		return fmt.Errorf("%w: second_bm25_top_k (%d) exceeds bm25_top_k (%d)", ErrInvalid, s.SecondBM25TopK, s.BM25TopK)
	}
	if s.EmbeddingTopK > s.SecondBM25TopK {
		return fmt.Errorf("%w: embedding_top_k (%d) exceeds second_bm25_top_k (%d)", ErrInvalid, s.EmbeddingTopK, s.SecondBM25TopK)
	}
	if s.FinalResultsK > s.EmbeddingTopK {
		return fmt.Errorf("%w: final_results_k (%d) exceeds embedding_top_k (%d)", ErrInvalid, s.FinalResultsK, s.EmbeddingTopK)
	}

	if !embeddings.SupportedProvider(c.Embedding.Provider) {
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalid, c.Embedding.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalid, c.Server.Port)
	}
	return nil
}

// Stages converts the search section into pipeline stage sizes
func (c *Config) Stages() search.Stages {
	return search.Stages{
		FirstTopK:  c.Search.BM25TopK,
		ExpansionK: c.Search.ExpansionK,
		SecondTopK: c.Search.SecondBM25TopK,
		DenseTopK:  c.Search.EmbeddingTopK,
		FinalTopK:  c.Search.FinalResultsK,
	}
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "drive.db")
}

// IndexDir is where per-owner bleve indexes live
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "bleve")
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
