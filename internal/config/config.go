package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the cart API server settings.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	AppPort     string `env:"APP_PORT" envDefault:"8080"`
	DBURL       string `env:"DB_URL,required,notEmpty"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	RateLimitGeneral float64 `env:"RATE_LIMIT_GENERAL" envDefault:"10"`
	RateBurstGeneral int     `env:"RATE_BURST_GENERAL" envDefault:"20"`
	RateLimitMerge   float64 `env:"RATE_LIMIT_MERGE" envDefault:"2"`
	RateBurstMerge   int     `env:"RATE_BURST_MERGE" envDefault:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ClientConfig holds the settings of an embedded cart sync layer (cartctl).
type ClientConfig struct {
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	APIURL         string        `env:"CART_API_URL" envDefault:"http://localhost:8080"`
	StorePath      string        `env:"CART_STORE_PATH" envDefault:"cartctl.db"`
	CacheTTL       time.Duration `env:"CART_CACHE_TTL" envDefault:"30s"`
	CacheCapacity  int           `env:"CART_CACHE_CAPACITY" envDefault:"1024"`
	SweepInterval  time.Duration `env:"CART_SWEEP_INTERVAL" envDefault:"1m"`
	RequestTimeout time.Duration `env:"CART_REQUEST_TIMEOUT" envDefault:"8s"`
	JWTSecret      string        `env:"JWT_SECRET"`
}

// Load reads .env (if any) and parses the server configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadConfig is Load for main packages: a broken environment is fatal.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Environment variables not loaded properly: %v", err)
	}
	return cfg
}

// LoadClient reads .env (if any) and parses the client configuration.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
