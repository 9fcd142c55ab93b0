package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Orders        OrdersConfig
	Notifications NotificationsConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// IsDevelopment reports whether the server runs outside production.
func (s ServerConfig) IsDevelopment() bool {
	return s.Env != "production"
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
	SSLMode  string
}

// DSN renders a pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&search_path=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.Schema,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr is host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type OrdersConfig struct {
	FreeShippingThreshold string // decimal string
	FlatShippingFee       string // decimal string
	RestockOnCancel       bool
	DeleteWindow          time.Duration
}

type NotificationsConfig struct {
	Driver    string // redis | log
	Workers   int
	QueueSize int
	Timeout   time.Duration
	RedisList string
}

// Load reads configuration from .env and the environment
func Load() *Config {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("RATE_LIMIT_WINDOW", "1m")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("ORDERS_FREE_SHIPPING_THRESHOLD", "500")
	viper.SetDefault("ORDERS_FLAT_SHIPPING_FEE", "50")
	viper.SetDefault("ORDERS_RESTOCK_ON_CANCEL", true)
	viper.SetDefault("ORDERS_DELETE_WINDOW", "24h")
	viper.SetDefault("NOTIFY_DRIVER", "redis")
	viper.SetDefault("NOTIFY_WORKERS", 2)
	viper.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	viper.SetDefault("NOTIFY_TIMEOUT", "10s")
	viper.SetDefault("NOTIFY_REDIS_LIST", "pantry:notifications")

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
			Env:  viper.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		RateLimit: RateLimitConfig{
			Requests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			Window:   viper.GetDuration("RATE_LIMIT_WINDOW"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Orders: OrdersConfig{
			FreeShippingThreshold: viper.GetString("ORDERS_FREE_SHIPPING_THRESHOLD"),
			FlatShippingFee:       viper.GetString("ORDERS_FLAT_SHIPPING_FEE"),
			RestockOnCancel:       viper.GetBool("ORDERS_RESTOCK_ON_CANCEL"),
			DeleteWindow:          viper.GetDuration("ORDERS_DELETE_WINDOW"),
		},
		Notifications: NotificationsConfig{
			Driver:    viper.GetString("NOTIFY_DRIVER"),
			Workers:   viper.GetInt("NOTIFY_WORKERS"),
			QueueSize: viper.GetInt("NOTIFY_QUEUE_SIZE"),
			Timeout:   viper.GetDuration("NOTIFY_TIMEOUT"),
			RedisList: viper.GetString("NOTIFY_REDIS_LIST"),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
