package config

import (
	"github.com/equiprent/rental-workflow/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig(version string) *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Store: container.StoreConfig{
			Name:    c.Store.Name,
			Phone:   c.Store.Phone,
			Address: c.Store.Address,
		},
		Lalamove: container.LalamoveConfig{
			BaseURL:     c.Lalamove.BaseURL,
			APIKey:      c.Lalamove.APIKey,
			APISecret:   c.Lalamove.APISecret,
			Market:      c.Lalamove.Market,
			ServiceType: c.Lalamove.ServiceType,
			Language:    c.Lalamove.Language,
			Timeout:     c.Lalamove.Timeout,
		},
		Asaas: container.AsaasConfig{
			BaseURL: c.Asaas.BaseURL,
			APIKey:  c.Asaas.APIKey,
			Timeout: c.Asaas.Timeout,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			ChatID:    c.Lark.ChatID,
		},
		Redis: container.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			LockTTL:  c.Redis.LockTTL,
		},
		Kafka: container.KafkaConfig{
			Brokers:      c.Kafka.Brokers,
			Topic:        c.Kafka.Topic,
			WriteTimeout: c.Kafka.WriteTimeout,
		},
		Webhook: container.WebhookConfig{
			LalamoveSecret: c.Webhook.LalamoveSecret,
			AsaasToken:     c.Webhook.AsaasToken,
		},
		Billing: container.BillingConfig{
			DefaultDueDays:    c.Billing.DefaultDueDays,
			OfflinePaymentURL: c.Billing.OfflinePaymentURL,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
			Version:      version,
		},
		Reconciliation: container.ReconciliationConfig{
			Schedule:   c.Reconciliation.Schedule,
			BatchSize:  c.Reconciliation.BatchSize,
			RunTimeout: c.Reconciliation.RunTimeout,
		},
	}
}
