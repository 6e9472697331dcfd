// Package config предоставляет структуры и функции для загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env:"APP_ENV" env-default:"local"`
	LogLevel        string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Module          `yaml:"module"`
	Remote          `yaml:"remote"`
	Storage         `yaml:"storage"`
	RedisConnection `yaml:"redis_connection"`
	RabbitMQ        `yaml:"rabbitmq"`
	HTTPServer      `yaml:"http_server"`
	Sync            `yaml:"sync"`
	Network         `yaml:"network"`
	Locks           `yaml:"locks"`
}

// Module описывает лицензируемый модуль
type Module struct {
	ModuleID    int64  `yaml:"id" env:"MODULE_ID"`
	Slug        string `yaml:"slug" env:"MODULE_SLUG"`
	PublicKey   string `yaml:"public_key" env:"MODULE_PUBLIC_KEY"`
	Version     string `yaml:"version" env-default:"1.0.0"`
	IsPremium   bool   `yaml:"is_premium" env:"MODULE_IS_PREMIUM"`
	HasFreePlan bool   `yaml:"has_free_plan" env-default:"true"`
}

// Remote настройки клиента удалённого сервера лицензий
type Remote struct {
	BaseURL       string        `yaml:"base_url" env:"REMOTE_BASE_URL" env-default:"https://api.freemius.com/v1"`
	Timeout       time.Duration `yaml:"timeout" env-default:"30s"`
	RatePerSecond float64       `yaml:"rate_per_second" env-default:"5"`
	Burst         int           `yaml:"burst" env-default:"5"`
}

// Storage настройки хранилища опций
type Storage struct {
	Driver                  string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"redis"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"migrations"`
	KeyPrefix               string `yaml:"key_prefix" env-default:"fs"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ настройки брокера для пересылки событий
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	Exchange           string        `yaml:"exchange" env-default:"license_events"`
	RabbitMQMaxRetries int           `yaml:"retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"delay" env-default:"2s"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP    string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP    time.Duration `yaml:"timeouthttp" env-default:"30s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	AdminTokenHash string        `yaml:"admin_token_hash" env:"ADMIN_TOKEN_HASH"`
	RateLimit      float64       `yaml:"rate_limit" env-default:"10"`
	RateBurst      int           `yaml:"rate_burst" env-default:"20"`
}

// Sync настройки фоновой синхронизации
type Sync struct {
	Interval            time.Duration `yaml:"interval" env-default:"1m"`
	FirstSyncWindow     time.Duration `yaml:"first_sync_window" env-default:"1m"`
	BackoffBase         time.Duration `yaml:"backoff_base" env-default:"1h"`
	BackoffMax          time.Duration `yaml:"backoff_max" env-default:"24h"`
	SyncPeriod          time.Duration `yaml:"sync_period" env-default:"24h"`
	NoticeThreshold     int           `yaml:"notice_threshold" env-default:"3"`
	SoftExpiryInterval  time.Duration `yaml:"soft_expiry_interval" env-default:"336h"`
	CloneResolutionTime time.Duration `yaml:"clone_resolution_window" env-default:"48h"`
}

// Blog описывает один сайт сети
type Blog struct {
	ID    int64  `yaml:"id"`
	URL   string `yaml:"url"`
	Title string `yaml:"title"`
}

// Network настройки мультисайта
type Network struct {
	IsNetwork       bool   `yaml:"is_network"`
	IsNetworkActive bool   `yaml:"network_active"`
	MainBlogID      int64  `yaml:"main_blog_id" env-default:"1"`
	Blogs           []Blog `yaml:"blogs"`
}

// Locks настройки рекомендательных блокировок
type Locks struct {
	TTL time.Duration `yaml:"ttl" env-default:"60s"`
}

// MustLoad функция для загрузки конфига из CONFIG_PATH, завершает процесс при ошибке
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ModuleID <= 0 {
		return fmt.Errorf("module.id is required")
	}
	if c.Slug == "" {
		return fmt.Errorf("module.slug is required")
	}
	if c.Module.PublicKey == "" {
		return fmt.Errorf("module.public_key is required")
	}
	switch c.Driver {
	case "redis", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Module: %d (%s)\n"+
			"Remote: %s timeout=%s\n"+
			"Storage: %s\n"+
			"Redis: %s db=%d\n"+
			"HTTPServer: %s\n"+
			"Network: %t blogs=%d\n",
		c.Env,
		c.ModuleID,
		c.Slug,
		c.BaseURL,
		c.Remote.Timeout,
		c.Driver,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.IsNetwork,
		len(c.Blogs),
	)
}
