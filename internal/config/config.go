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

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	EventExchange         string `mapstructure:"EVENT_EXCHANGE"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix  string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	JWTSecret             string `mapstructure:"JWT_SECRET"`
	Currency              string `mapstructure:"CURRENCY"`
	MinOperationAmount    int64  `mapstructure:"MIN_OPERATION_AMOUNT"`
	MaxOperationAmount    int64  `mapstructure:"MAX_OPERATION_AMOUNT"`
	DailyDebitLimit       int64  `mapstructure:"DAILY_DEBIT_LIMIT"`
	OpsRateLimitPerMinute int    `mapstructure:"OPS_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("EVENT_EXCHANGE", "bank.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "sunubank:rate_limit")
	viper.SetDefault("CURRENCY", "XOF")
	viper.SetDefault("MIN_OPERATION_AMOUNT", 100)
	viper.SetDefault("MAX_OPERATION_AMOUNT", 1000000)
	viper.SetDefault("DAILY_DEBIT_LIMIT", 2000000)
	viper.SetDefault("OPS_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("MIN_OPERATION_AMOUNT")
	_ = viper.BindEnv("MAX_OPERATION_AMOUNT")
	_ = viper.BindEnv("DAILY_DEBIT_LIMIT")
	_ = viper.BindEnv("OPS_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "sunubank:rate_limit"
	}
	if config.Currency == "" {
		config.Currency = "XOF"
	}

	if config.MinOperationAmount < 0 {
		log.Printf("level=warn component=config msg=\"negative minimum amount configured; coercing to zero\" min=%d", config.MinOperationAmount)
		config.MinOperationAmount = 0
	}
	if config.MaxOperationAmount < 0 {
		log.Printf("level=warn component=config msg=\"negative per-transaction limit configured; disabling\" max=%d", config.MaxOperationAmount)
		config.MaxOperationAmount = 0
	}
	if config.DailyDebitLimit < 0 {
		log.Printf("level=warn component=config msg=\"negative daily debit limit configured; disabling\" limit=%d", config.DailyDebitLimit)
		config.DailyDebitLimit = 0
	}
	if config.MaxOperationAmount > 0 && config.MinOperationAmount > config.MaxOperationAmount {
		log.Printf("level=warn component=config msg=\"minimum amount above per-transaction limit; coercing to limit\" min=%d max=%d", config.MinOperationAmount, config.MaxOperationAmount)
		config.MinOperationAmount = config.MaxOperationAmount
	}
	if config.OpsRateLimitPerMinute < 0 {
		config.OpsRateLimitPerMinute = 0
	}

	return
}
