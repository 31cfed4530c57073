package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Store          StoreConfig          `mapstructure:"store"`
	Lalamove       LalamoveConfig       `mapstructure:"lalamove"`
	Asaas          AsaasConfig          `mapstructure:"asaas"`
	Lark           LarkConfig           `mapstructure:"lark"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	Billing        BillingConfig        `mapstructure:"billing"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Logger         LoggerConfig         `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StoreConfig describes the rental store that ships and receives equipment
type StoreConfig struct {
	Name    string `mapstructure:"name"`
	Phone   string `mapstructure:"phone"`
	Address string `mapstructure:"address"`
}

// LalamoveConfig holds delivery provider configuration
type LalamoveConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	Market      string        `mapstructure:"market"`
	ServiceType string        `mapstructure:"service_type"`
	Language    string        `mapstructure:"language"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AsaasConfig holds payment gateway configuration
type AsaasConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LarkConfig holds operator alert configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
}

// RedisConfig holds the distributed lock store. An empty Addr keeps locks in process.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// KafkaConfig holds the event stream. No brokers disables publishing.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WebhookConfig holds inbound callback credentials
type WebhookConfig struct {
	LalamoveSecret string `mapstructure:"lalamove_secret"`
	AsaasToken     string `mapstructure:"asaas_token"`
}

// BillingConfig holds damage billing defaults
type BillingConfig struct {
	DefaultDueDays    int    `mapstructure:"default_due_days"`
	OfflinePaymentURL string `mapstructure:"offline_payment_url"`
}

// ReconciliationConfig holds the background poller schedule. An empty schedule disables it.
type ReconciliationConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	BatchSize  int           `mapstructure:"batch_size"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from a .env file, the YAML file and environment variables
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/rental.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("lalamove.base_url", "https://rest.sandbox.lalamove.com")
	v.SetDefault("lalamove.market", "BR")
	v.SetDefault("lalamove.service_type", "VAN")
	v.SetDefault("lalamove.language", "pt_BR")
	v.SetDefault("lalamove.timeout", 10*time.Second)

	v.SetDefault("asaas.base_url", "https://sandbox.asaas.com/api")
	v.SetDefault("asaas.timeout", 10*time.Second)

	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("kafka.topic", "rental.events")
	v.SetDefault("kafka.write_timeout", 5*time.Second)

	v.SetDefault("billing.default_due_days", 3)

	v.SetDefault("reconciliation.schedule", "@every 1m")
	v.SetDefault("reconciliation.batch_size", 50)
	v.SetDefault("reconciliation.run_timeout", 30*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	v.BindEnv("lalamove.api_key", "LALAMOVE_API_KEY")
	v.BindEnv("lalamove.api_secret", "LALAMOVE_API_SECRET")
	v.BindEnv("asaas.api_key", "ASAAS_API_KEY")
	v.BindEnv("lark.app_id", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	v.BindEnv("lark.chat_id", "LARK_CHAT_ID")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("webhook.lalamove_secret", "WEBHOOK_SECRET")
	v.BindEnv("webhook.asaas_token", "ASAAS_WEBHOOK_TOKEN")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Store.Address == "" {
		return fmt.Errorf("store.address is required")
	}

	// Validate provider credentials
	if c.Lalamove.APIKey == "" || c.Lalamove.APISecret == "" {
		return fmt.Errorf("lalamove.api_key and lalamove.api_secret are required")
	}
	if c.Asaas.APIKey == "" {
		return fmt.Errorf("asaas.api_key is required")
	}

	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}
	if c.Lark.AppID != "" && c.Lark.ChatID == "" {
		return fmt.Errorf("lark.chat_id is required when lark is configured")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are configured")
	}
	if c.Billing.DefaultDueDays <= 0 {
		return fmt.Errorf("billing.default_due_days must be positive")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	return nil
}
