/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string  `mapstructure:"DATABASE_URL"`
	RabbitMQURL                 string  `mapstructure:"RABBITMQ_URL"`
	RedisURL                    string  `mapstructure:"REDIS_URL"`
	RedisLockPrefix             string  `mapstructure:"REDIS_LOCK_PREFIX"`
	AdminJWKSURL                string  `mapstructure:"ADMIN_JWKS_URL"`
	InternalAPIKey              string  `mapstructure:"INTERNAL_API_KEY"`
	SettlementEventExchange     string  `mapstructure:"SETTLEMENT_EVENT_EXCHANGE"`
	OrderEventExchange          string  `mapstructure:"ORDER_EVENT_EXCHANGE"`
	OrderEventQueue             string  `mapstructure:"ORDER_EVENT_QUEUE"`
	ReleaseSweepIntervalSeconds int     `mapstructure:"RELEASE_SWEEP_INTERVAL_SECONDS"`
	D1FeePercent                float64 `mapstructure:"D1_FEE_PERCENT"`
	D1FeeFixed                  float64 `mapstructure:"D1_FEE_FIXED"`
	D15FeePercent               float64 `mapstructure:"D15_FEE_PERCENT"`
	D15FeeFixed                 float64 `mapstructure:"D15_FEE_FIXED"`
	D30FeePercent               float64 `mapstructure:"D30_FEE_PERCENT"`
	D30FeeFixed                 float64 `mapstructure:"D30_FEE_FIXED"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values. Seed fees follow the usual marketplace pricing:
	// faster settlement costs a higher percentage.
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("REDIS_LOCK_PREFIX", "settlement:lock")
	viper.SetDefault("SETTLEMENT_EVENT_EXCHANGE", "settlement_events")
	viper.SetDefault("ORDER_EVENT_EXCHANGE", "marketplace_events")
	viper.SetDefault("ORDER_EVENT_QUEUE", "settlement_service.order_placed")
	viper.SetDefault("RELEASE_SWEEP_INTERVAL_SECONDS", 60)
	viper.SetDefault("D1_FEE_PERCENT", 8.0)
	viper.SetDefault("D1_FEE_FIXED", 0.50)
	viper.SetDefault("D15_FEE_PERCENT", 5.0)
	viper.SetDefault("D15_FEE_FIXED", 0.50)
	viper.SetDefault("D30_FEE_PERCENT", 2.5)
	viper.SetDefault("D30_FEE_FIXED", 0.50)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SETTLEMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("ORDER_EVENT_EXCHANGE")
	_ = viper.BindEnv("ORDER_EVENT_QUEUE")
	_ = viper.BindEnv("RELEASE_SWEEP_INTERVAL_SECONDS")
	_ = viper.BindEnv("D1_FEE_PERCENT")
	_ = viper.BindEnv("D1_FEE_FIXED")
	_ = viper.BindEnv("D15_FEE_PERCENT")
	_ = viper.BindEnv("D15_FEE_FIXED")
	_ = viper.BindEnv("D30_FEE_PERCENT")
	_ = viper.BindEnv("D30_FEE_FIXED")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SETTLEMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = "settlement:lock"
	}
	if config.ReleaseSweepIntervalSeconds <= 0 {
		config.ReleaseSweepIntervalSeconds = 60
	}

	config.D1FeePercent, config.D1FeeFixed = normalizeFee("D1", config.D1FeePercent, config.D1FeeFixed)
	config.D15FeePercent, config.D15FeeFixed = normalizeFee("D15", config.D15FeePercent, config.D15FeeFixed)
	config.D30FeePercent, config.D30FeeFixed = normalizeFee("D30", config.D30FeePercent, config.D30FeeFixed)

	return
}

// normalizeFee coerces out-of-range seed fee values into the valid range.
func normalizeFee(modality string, percent, fixed float64) (float64, float64) {
	if percent < 0 {
		log.Printf("level=warn component=config msg=\"negative seed fee percent configured; coercing to zero\" modality=%s percent=%f", modality, percent)
		percent = 0
	}
	if percent > 100 {
		log.Printf("level=warn component=config msg=\"seed fee percent too high; capping at 100\" modality=%s percent=%f", modality, percent)
		percent = 100
	}
	if fixed < 0 {
		log.Printf("level=warn component=config msg=\"negative seed fixed fee configured; coercing to zero\" modality=%s fixed=%f", modality, fixed)
		fixed = 0
	}
	return percent, fixed
}
