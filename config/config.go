package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Consultation backend endpoints.
	ChannelURL string `mapstructure:"CHANNEL_URL"`
	APIBaseURL string `mapstructure:"API_BASE_URL"`

	// Redis configuration (durable client-side store).
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisSessionDB int    `mapstructure:"REDIS_SESSION_DB"`

	// Reconnection policy.
	ReconnectBaseMs     int `mapstructure:"RECONNECT_BASE_MS"`
	ReconnectCapMs      int `mapstructure:"RECONNECT_CAP_MS"`
	ReconnectMaxRetries int `mapstructure:"RECONNECT_MAX_RETRIES"`

	// Protocol deadlines.
	BookingTimeoutMs int `mapstructure:"BOOKING_TIMEOUT_MS"`
	SendAckTimeoutMs int `mapstructure:"SEND_ACK_TIMEOUT_MS"`
	RoomJoinGraceMs  int `mapstructure:"ROOM_JOIN_GRACE_MS"`

	// Transcript persistence.
	TranscriptDebounceMs int `mapstructure:"TRANSCRIPT_DEBOUNCE_MS"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("CHANNEL_URL", "wss://localhost:8443/consult")
	viper.SetDefault("API_BASE_URL", "https://localhost:8443/api")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_SESSION_DB", 0)
	viper.SetDefault("RECONNECT_BASE_MS", 1000)
	viper.SetDefault("RECONNECT_CAP_MS", 30000)
	viper.SetDefault("RECONNECT_MAX_RETRIES", 10)
	viper.SetDefault("BOOKING_TIMEOUT_MS", 60000)
	viper.SetDefault("SEND_ACK_TIMEOUT_MS", 5000)
	viper.SetDefault("ROOM_JOIN_GRACE_MS", 2000)
	viper.SetDefault("TRANSCRIPT_DEBOUNCE_MS", 1000)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// ReconnectBase returns the initial reconnect backoff delay.
func ReconnectBase() time.Duration {
	return time.Duration(AppConfig.ReconnectBaseMs) * time.Millisecond
}

// ReconnectCap returns the maximum reconnect backoff delay.
func ReconnectCap() time.Duration {
	return time.Duration(AppConfig.ReconnectCapMs) * time.Millisecond
}
