// Package container provides dependency injection and lifecycle management
// for the rental workflow service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database       DatabaseConfig
	Store          StoreConfig
	Lalamove       LalamoveConfig
	Asaas          AsaasConfig
	Lark           LarkConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Webhook        WebhookConfig
	Billing        BillingConfig
	Server         ServerConfig
	Reconciliation ReconciliationConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// StoreConfig identifies the dispatching store.
type StoreConfig struct {
	Name    string
	Phone   string
	Address string
}

// LalamoveConfig holds delivery provider settings.
type LalamoveConfig struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Market      string
	ServiceType string
	Language    string
	Timeout     time.Duration
}

// AsaasConfig holds payment gateway settings.
type AsaasConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LarkConfig holds operator alert settings. Empty credentials log alerts instead.
type LarkConfig struct {
	AppID     string
	AppSecret string
	ChatID    string
}

// RedisConfig holds lock store settings. An empty Addr selects the in-process locker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// KafkaConfig holds event stream settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// WebhookConfig holds inbound callback credentials.
type WebhookConfig struct {
	LalamoveSecret string
	AsaasToken     string
}

// BillingConfig holds billing defaults.
type BillingConfig struct {
	DefaultDueDays    int
	OfflinePaymentURL string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// ReconciliationConfig holds the background poller settings.
type ReconciliationConfig struct {
	// Schedule is a cron spec; empty disables the worker
	Schedule   string
	BatchSize  int
	RunTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/rental.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Lalamove: LalamoveConfig{
			BaseURL:     "https://rest.sandbox.lalamove.com",
			Market:      "BR",
			ServiceType: "VAN",
			Language:    "pt_BR",
			Timeout:     10 * time.Second,
		},
		Asaas: AsaasConfig{
			BaseURL: "https://sandbox.asaas.com/api",
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			LockTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:        "rental.events",
			WriteTimeout: 5 * time.Second,
		},
		Billing: BillingConfig{
			DefaultDueDays: 3,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Version:      "dev",
		},
		Reconciliation: ReconciliationConfig{
			Schedule:   "@every 1m",
			BatchSize:  50,
			RunTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Store.Address == "" {
		return fmt.Errorf("store.address is required")
	}
	if c.Lalamove.BaseURL == "" {
		return fmt.Errorf("lalamove.base_url is required")
	}
	if c.Asaas.BaseURL == "" {
		return fmt.Errorf("asaas.base_url is required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are configured")
	}

	return nil
}
