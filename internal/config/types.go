package config

// Config is the root configuration structure for ctrlscan-api.
// Serialised to ~/.ctrlscan-api/config.json.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Server   ServerConfig   `mapstructure:"server"   json:"server"`
	Import   ImportConfig   `mapstructure:"import"   json:"import"`
	Trackers TrackersConfig `mapstructure:"trackers" json:"trackers"`
	Notify   NotifyConfig   `mapstructure:"notify"   json:"notify"`
	Auth     AuthConfig     `mapstructure:"auth"     json:"auth"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
	// ConnectTimeoutSeconds bounds the MySQL connect retry loop.
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds" json:"connect_timeout_seconds"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	// Port is the HTTP port the API listens on (default: 6090).
	Port int `mapstructure:"port" json:"port"`
	// MaxUploadMB is the in-memory budget for multipart form parsing.
	MaxUploadMB int `mapstructure:"max_upload_mb" json:"max_upload_mb"`
}

// ImportConfig controls scan import and reimport.
type ImportConfig struct {
	// MaxFileSizeMB is the largest accepted report file.
	MaxFileSizeMB int `mapstructure:"max_file_size_mb" json:"max_file_size_mb"`
	// DefaultEnvironment names the environment used when a request omits one.
	DefaultEnvironment string `mapstructure:"default_environment" json:"default_environment"`
	// ScanTypesFile optionally replaces the built-in scan type registry.
	ScanTypesFile string `mapstructure:"scan_types_file" json:"scan_types_file"`
}

// MaxFileSizeBytes converts MaxFileSizeMB to bytes.
func (c ImportConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// TrackersConfig holds credentials for each supported issue tracker.
type TrackersConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
	Jira   JiraConfig     `mapstructure:"jira"   json:"jira"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"`
	// Host allows enterprise GitHub (e.g. github.mycompany.com).
	Host string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"`
	Host  string `mapstructure:"host"  json:"host"`
}

// JiraConfig holds credentials for a Jira instance.
type JiraConfig struct {
	URL      string `mapstructure:"url"      json:"url"`
	Username string `mapstructure:"username" json:"username"`
	Token    string `mapstructure:"token"    json:"token"`
	// IssueType is the Jira issue type used for new issues (default "Bug").
	IssueType string `mapstructure:"issue_type" json:"issue_type"`
}

// NotifyConfig controls outbound notifications.
type NotifyConfig struct {
	// Events lists the event types to send; empty means the defaults.
	Events      []string            `mapstructure:"events"       json:"events"`
	MinSeverity string              `mapstructure:"min_severity" json:"min_severity"`
	Slack       SlackNotifyConfig   `mapstructure:"slack"        json:"slack"`
	Webhook     WebhookNotifyConfig `mapstructure:"webhook"      json:"webhook"`
}

// SlackNotifyConfig configures a Slack incoming webhook.
type SlackNotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// WebhookNotifyConfig configures a generic HTTP webhook with optional HMAC signing.
type WebhookNotifyConfig struct {
	URL    string `mapstructure:"url"    json:"url"`
	Secret string `mapstructure:"secret" json:"secret"`
}

// AuthConfig lists the API tokens accepted by the server.
type AuthConfig struct {
	Tokens []TokenConfig `mapstructure:"tokens" json:"tokens"`
}

// TokenConfig maps one API token to a user and role.
type TokenConfig struct {
	Token    string `mapstructure:"token"    json:"token"`
	Username string `mapstructure:"username" json:"username"`
	// Role is "reader", "writer", "maintainer" or "owner".
	Role string `mapstructure:"role" json:"role"`
	// Products restricts the token to these product IDs; empty means all.
	Products []int64 `mapstructure:"products" json:"products"`
}
