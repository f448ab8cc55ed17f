package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	stages := cfg.Stages()
	assert.Equal(t, 500, stages.FirstTopK)
	assert.Equal(t, 3, stages.ExpansionK)
	assert.Equal(t, 200, stages.SecondTopK)
	assert.Equal(t, 100, stages.DenseTopK)
	assert.Equal(t, 10, stages.FinalTopK)
	assert.Equal(t, 10000, cfg.Search.ExistingScanLimit)
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, "onedrive", cfg.Sync.Source)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir = "/var/lib/drive-search"

[graph]
client_id = "app-id"
tenant = "contoso"

[embedding]
provider = "lmstudio"

[search]
final_results_k = 5

[server]
port = 8080
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/drive-search", cfg.DataDir)
	assert.Equal(t, "app-id", cfg.Graph.ClientID)
	assert.Equal(t, "contoso", cfg.Graph.Tenant)
	assert.Equal(t, "lmstudio", cfg.Embedding.Provider)
	assert.Equal(t, 5, cfg.Search.FinalResultsK)
	// untouched keys keep their defaults
	assert.Equal(t, 500, cfg.Search.BM25TopK)
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, filepath.Join("/var/lib/drive-search", "drive.db"), cfg.DBPath())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search, cfg.Search)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[search]\nbm25_topk = 10\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"CLIENT_ID":                  "legacy-id",
		"DRIVE_SEARCH_CLIENT_SECRET": "secret",
		"MS_TENANT_ID":               "tenant-x",
		"DRIVE_SEARCH_SCOPES":        "User.Read Files.Read",
		"DRIVE_SEARCH_BM25_TOP_K":    "300",
		"DRIVE_SEARCH_WORKERS":       "4",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "legacy-id", cfg.Graph.ClientID)
	assert.Equal(t, "secret", cfg.Graph.ClientSecret)
	assert.Equal(t, "tenant-x", cfg.Graph.Tenant)
	assert.Equal(t, []string{"User.Read", "Files.Read"}, cfg.Graph.Scopes)
	assert.Equal(t, 300, cfg.Search.BM25TopK)
	assert.Equal(t, 4, cfg.Sync.Workers)
}

func TestEnvPrefixedWinsOverLegacy(t *testing.T) {
	env := map[string]string{
		"CLIENT_ID":              "legacy-id",
		"DRIVE_SEARCH_CLIENT_ID": "new-id",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "new-id", cfg.Graph.ClientID)
}

func TestEnvRejectsNonInteger(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "DRIVE_SEARCH_PORT" {
			return "eighty", true
		}
		return "", false
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero stage", func(c *Config) { c.Search.ExpansionK = 0 }},
		{"negative final", func(c *Config) { c.Search.FinalResultsK = -1 }},
		{"second widens", func(c *Config) { c.Search.SecondBM25TopK = 600 }},
		{"dense widens", func(c *Config) { c.Search.EmbeddingTopK = 250 }},
		{"final widens", func(c *Config) { c.Search.FinalResultsK = 150 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert-local" }},
		{"no workers", func(c *Config) { c.Sync.Workers = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
