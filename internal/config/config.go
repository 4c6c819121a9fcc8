package config

import (
	"fmt"
	"time"

	"github.com/campbook/service-reservation/pkg/config"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// GatewayConfig selects and configures the payment gateway.
type GatewayConfig struct {
	Provider      string
	WebhookSecret string
	OmisePublic   string
	OmiseSecret   string
	SourceType    string
	ReturnURI     string
}

// WorkerConfig holds the background job schedule.
type WorkerConfig struct {
	ReaperInterval     time.Duration
	PendingGracePeriod time.Duration
	PayoutInterval     time.Duration
}

// ServiceConfig holds all configuration for the reservation service.
type ServiceConfig struct {
	Port                 string
	AppEnv               string
	DBConfig             config.DatabaseConfig
	JWTConfig            config.JWTConfig
	KafkaConfig          config.KafkaConfig
	RedisConfig          config.RedisConfig
	GatewayConfig        GatewayConfig
	WorkerConfig         WorkerConfig
	PlatformSharePercent decimal.Decimal
	Currency             string
	OTLPEndpoint         string
}

// Load reads configuration from environment variables and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("reservation")
	if err != nil {
		return nil, err
	}
	v.SetDefault("DB_NAME", "campbook_reservation")
	v.SetDefault("GATEWAY_PROVIDER", "mock")
	v.SetDefault("OMISE_SOURCE_TYPE", "promptpay")
	v.SetDefault("PLATFORM_SHARE_PERCENT", "20")
	v.SetDefault("CURRENCY", "USD")

	share, err := decimal.NewFromString(v.GetString("PLATFORM_SHARE_PERCENT"))
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_SHARE_PERCENT: %w", err)
	}
	if share.IsNegative() || share.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("PLATFORM_SHARE_PERCENT must be between 0 and 100, got %s", share)
	}

	gw := loadGatewayConfig(v)
	if gw.Provider != "mock" && gw.Provider != "omise" {
		return nil, fmt.Errorf("GATEWAY_PROVIDER must be mock or omise, got %q", gw.Provider)
	}
	appEnv := config.GetAppEnv(v)
	if appEnv == "production" && gw.Provider == "mock" {
		return nil, fmt.Errorf("GATEWAY_PROVIDER mock is not allowed when APP_ENV is production")
	}

	return &ServiceConfig{
		Port:                 config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:               appEnv,
		DBConfig:             config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:            config.LoadJWTConfig(v),
		KafkaConfig:          config.LoadKafkaConfig(v),
		RedisConfig:          config.LoadRedisConfig(v),
		GatewayConfig:        gw,
		WorkerConfig:         loadWorkerConfig(v),
		PlatformSharePercent: share,
		Currency:             v.GetString("CURRENCY"),
		OTLPEndpoint:         v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

// loadGatewayConfig extracts gateway configuration from Viper.
func loadGatewayConfig(v *viper.Viper) GatewayConfig {
	return GatewayConfig{
		Provider:      v.GetString("GATEWAY_PROVIDER"),
		WebhookSecret: v.GetString("GATEWAY_WEBHOOK_SECRET"),
		OmisePublic:   v.GetString("OMISE_PUBLIC_KEY"),
		OmiseSecret:   v.GetString("OMISE_SECRET_KEY"),
		SourceType:    v.GetString("OMISE_SOURCE_TYPE"),
		ReturnURI:     v.GetString("OMISE_RETURN_URI"),
	}
}

func loadWorkerConfig(v *viper.Viper) WorkerConfig {
	return WorkerConfig{
		ReaperInterval:     config.GetDuration(v, "REAPER_INTERVAL", 15*time.Minute),
		PendingGracePeriod: config.GetDuration(v, "PENDING_GRACE_PERIOD", 15*time.Minute),
		PayoutInterval:     config.GetDuration(v, "PAYOUT_INTERVAL", 24*time.Hour),
	}
}
