/**
 * @description
 * This package handles the configuration management for the payment-service.
 * It uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	RazorpayAPIBaseURL    string `mapstructure:"RAZORPAY_API_BASE_URL"`
	RazorpayKeyID         string `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `mapstructure:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `mapstructure:"RAZORPAY_WEBHOOK_SECRET"`

	PhonePeSaltKey   string `mapstructure:"PHONEPE_SALT_KEY"`
	PhonePeSaltIndex string `mapstructure:"PHONEPE_SALT_INDEX"`

	JWTSecret       string `mapstructure:"API_SECRET"`
	PlanCatalogPath string `mapstructure:"PLAN_CATALOG_PATH"`

	FreeTierLimit              int   `mapstructure:"FREE_TIER_GENERATION_LIMIT"`
	TopUpPricePaise            int64 `mapstructure:"TOP_UP_PRICE_PAISE"`
	InitiateRateLimitPerMinute int   `mapstructure:"INITIATE_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "payments:rate_limit")
	viper.SetDefault("RAZORPAY_API_BASE_URL", "https://api.razorpay.com")
	viper.SetDefault("PHONEPE_SALT_INDEX", "1")
	viper.SetDefault("FREE_TIER_GENERATION_LIMIT", 3)
	viper.SetDefault("TOP_UP_PRICE_PAISE", 10000)
	viper.SetDefault("INITIATE_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RAZORPAY_API_BASE_URL")
	_ = viper.BindEnv("RAZORPAY_KEY_ID")
	_ = viper.BindEnv("RAZORPAY_KEY_SECRET")
	_ = viper.BindEnv("RAZORPAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("PHONEPE_SALT_KEY")
	_ = viper.BindEnv("PHONEPE_SALT_INDEX")
	_ = viper.BindEnv("API_SECRET", "API_SECRET", "JWT_SECRET")
	_ = viper.BindEnv("PLAN_CATALOG_PATH")
	_ = viper.BindEnv("FREE_TIER_GENERATION_LIMIT")
	_ = viper.BindEnv("TOP_UP_PRICE_PAISE")
	_ = viper.BindEnv("TOP_UP_PRICE_RUPEES")
	_ = viper.BindEnv("INITIATE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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
	if strings.TrimSpace(config.JWTSecret) == "" {
		config.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "payments:rate_limit"
	}

	// Allow specifying the top-up price in whole rupees via TOP_UP_PRICE_RUPEES.
	if viper.IsSet("TOP_UP_PRICE_RUPEES") {
		priceStr := strings.TrimSpace(viper.GetString("TOP_UP_PRICE_RUPEES"))
		if priceStr != "" {
			priceValue, parseErr := strconv.ParseFloat(priceStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid TOP_UP_PRICE_RUPEES\" value=%q err=%v", priceStr, parseErr)
			} else {
				config.TopUpPricePaise = int64(math.Round(priceValue * 100))
			}
		}
	}

	if config.TopUpPricePaise <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive top-up price configured; using default\" price_paise=%d", config.TopUpPricePaise)
		config.TopUpPricePaise = 10000
	}
	if config.FreeTierLimit < 0 {
		config.FreeTierLimit = 0
	}
	if config.InitiateRateLimitPerMinute <= 0 {
		config.InitiateRateLimitPerMinute = 10
	}

	return
}
