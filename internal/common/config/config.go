// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	HTTP          HTTPConfig         `mapstructure:"http"`
	Database      DatabaseConfig     `mapstructure:"database"`
	AMQP          AMQPConfig         `mapstructure:"amqp"`
	Calendar      CalendarConfig     `mapstructure:"calendar"`
	CRM           CRMConfig          `mapstructure:"crm"`
	AWS           AWSConfig          `mapstructure:"aws"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AMQPConfig holds the inbound message queue settings. The consumer is
// optional; with Enabled false the coalescing buffer is only reachable
// through direct calls.
type AMQPConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	URL              string `mapstructure:"url"`
	InboundQueue     string `mapstructure:"inbound_queue"`
	OutboundExchange string `mapstructure:"outbound_exchange"`
	OutboundKey      string `mapstructure:"outbound_key"`
}

// CalendarConfig holds the appointments source settings.
type CalendarConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// CRMConfig holds the best-effort contact name resolver settings.
type CRMConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	CacheTTL int    `mapstructure:"cache_ttl"` // milliseconds
}

// AWSConfig holds the transport adapter settings.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	SNS    struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"ses"`
}

// NotificationConfig holds the engine's scheduling and gating defaults.
type NotificationConfig struct {
	GlobalEnabled       bool   `mapstructure:"global_enabled"`
	PreviewMode         bool   `mapstructure:"preview_mode"`
	DefaultTimezone     string `mapstructure:"default_timezone"`
	DefaultLanguage     string `mapstructure:"default_language"`
	DebounceSeconds     int    `mapstructure:"debounce_seconds"`
	DispatchInterval    int    `mapstructure:"dispatch_interval"`    // seconds
	TransportTimeout    int    `mapstructure:"transport_timeout"`    // milliseconds
	SettingsTTL         int    `mapstructure:"settings_ttl"`         // milliseconds
	LedgerRetentionDays int    `mapstructure:"ledger_retention_days"`
	TemplateRegistry    string `mapstructure:"template_registry"` // optional JSON file
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
