package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".ctrlscan-api"
	DefaultConfigFile = "config.json"
	DefaultDBFile     = ".ctrlscan-api/ctrlscan.db"

	DefaultPort               = 6090
	DefaultMaxFileSizeMB      = 100
	DefaultEnvironmentName    = "Development"
	DefaultConnectTimeoutSecs = 30
)

// Load reads the config file (falling back to defaults if absent) and returns
// a populated Config. The configPath flag may override the default location.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("CTRLSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file exists but is malformed.
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	return &cfg, nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	path, err := ConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Redacted returns a copy of cfg with credentials masked.
func Redacted(cfg *Config) Config {
	out := *cfg
	out.Trackers.GitHub = append([]GitHubConfig(nil), cfg.Trackers.GitHub...)
	for i := range out.Trackers.GitHub {
		if out.Trackers.GitHub[i].Token != "" {
			out.Trackers.GitHub[i].Token = "ghp-***"
		}
	}
	out.Trackers.GitLab = append([]GitLabConfig(nil), cfg.Trackers.GitLab...)
	for i := range out.Trackers.GitLab {
		if out.Trackers.GitLab[i].Token != "" {
			out.Trackers.GitLab[i].Token = "glpat-***"
		}
	}
	if out.Trackers.Jira.Token != "" {
		out.Trackers.Jira.Token = "***"
	}
	if out.Notify.Webhook.Secret != "" {
		out.Notify.Webhook.Secret = "***"
	}
	out.Auth.Tokens = append([]TokenConfig(nil), cfg.Auth.Tokens...)
	for i := range out.Auth.Tokens {
		out.Auth.Tokens[i].Token = "***"
	}
	if strings.Contains(out.Database.DSN, "@") {
		out.Database.DSN = "***@" + out.Database.DSN[strings.LastIndex(out.Database.DSN, "@")+1:]
	}
	return out
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.connect_timeout_seconds", DefaultConnectTimeoutSecs)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.max_upload_mb", 32)

	v.SetDefault("import.max_file_size_mb", DefaultMaxFileSizeMB)
	v.SetDefault("import.default_environment", DefaultEnvironmentName)
	v.SetDefault("import.scan_types_file", "")

	v.SetDefault("trackers.jira.issue_type", "Bug")

	v.SetDefault("notify.events", []string{"scan_added"})
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Import.ScanTypesFile = expandHome(cfg.Import.ScanTypesFile, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
