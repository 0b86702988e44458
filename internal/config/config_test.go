package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultMaxFileSizeMB, cfg.Import.MaxFileSizeMB)
	assert.Equal(t, "Development", cfg.Import.DefaultEnvironment)
	assert.Equal(t, int64(100*1024*1024), cfg.Import.MaxFileSizeBytes())
}

func TestLoadReadsFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "server": {"port": 7000},
  "import": {"max_file_size_mb": 5, "default_environment": "Lab"},
  "auth": {"tokens": [{"token": "t1", "username": "alice", "role": "owner", "products": [1, 2]}]}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Import.MaxFileSizeMB)
	assert.Equal(t, "Lab", cfg.Import.DefaultEnvironment)
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, "alice", cfg.Auth.Tokens[0].Username)
	assert.Equal(t, []int64{1, 2}, cfg.Auth.Tokens[0].Products)
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := &Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: "/tmp/x.db"},
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8123},
		Import:   ImportConfig{MaxFileSizeMB: 7, DefaultEnvironment: "Staging"},
	}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.Server.Port)
	assert.Equal(t, "Staging", loaded.Import.DefaultEnvironment)
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{DSN: "user:pw@tcp(db:3306)/dojo"},
		Trackers: TrackersConfig{
			GitHub: []GitHubConfig{{Token: "ghp_real"}},
			Jira:   JiraConfig{Token: "secret"},
		},
		Auth: AuthConfig{Tokens: []TokenConfig{{Token: "abc", Username: "bob"}}},
	}
	out := Redacted(cfg)

	assert.Equal(t, "ghp-***", out.Trackers.GitHub[0].Token)
	assert.Equal(t, "***", out.Trackers.Jira.Token)
	assert.Equal(t, "***", out.Auth.Tokens[0].Token)
	assert.Equal(t, "***@tcp(db:3306)/dojo", out.Database.DSN)
	assert.Equal(t, "ghp_real", cfg.Trackers.GitHub[0].Token, "original must stay intact")
}
