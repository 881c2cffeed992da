package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StoreConfig struct {
	Driver string      `yaml:"driver"` // redis, mysql, sqlite
	DSN    string      `yaml:"dsn"`
	Redis  RedisConfig `yaml:"redis"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`

	// Static credentials; empty falls back to the default AWS chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type StorageConfig struct {
	Driver string   `yaml:"driver"` // disk, http, s3
	Dir    string   `yaml:"dir"`
	URL    string   `yaml:"url"`
	S3     S3Config `yaml:"s3"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"` // empty disables the event bus
	GroupID string `yaml:"group_id"`
}

type PublishConfig struct {
	Concurrency int  `yaml:"concurrency"`
	FailOnError bool `yaml:"fail_on_error"`
}

type Config struct {
	Port          string        `yaml:"port"`
	WorkDir       string        `yaml:"work_dir"`
	JWTSecret     string        `yaml:"jwt_secret"`
	WebhookSecret string        `yaml:"webhook_secret"`
	SiteDomain    string        `yaml:"site_domain"` // published sites answer on <domain_name>.<site_domain>
	Store         StoreConfig   `yaml:"store"`
	Storage       StorageConfig `yaml:"storage"`
	Kafka         KafkaConfig   `yaml:"kafka"`
	Publish       PublishConfig `yaml:"publish"`
}

func Default() Config {
	return Config{
		Port:    "8080",
		WorkDir: "/app/work",
		Store: StoreConfig{
			Driver: "redis",
			Redis:  RedisConfig{Addr: "redis:6379"},
		},
		Storage: StorageConfig{
			Driver: "disk",
			Dir:    "/app/artifacts",
			URL:    "http://storage:8084",
			S3:     S3Config{Bucket: "godeploy", Region: "auto"},
		},
		Kafka:   KafkaConfig{GroupID: "deployer"},
		Publish: PublishConfig{Concurrency: 4},
	}
}

// DefaultPath returns GODEPLOY_CONFIG or config.yaml.
func DefaultPath() string {
	return getEnv("GODEPLOY_CONFIG", "config.yaml")
}

// Load reads the YAML file at path on top of Default. A missing file is not an
// error. Environment variables always win over file values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "redis", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "redis" && c.Store.DSN == "" {
		return fmt.Errorf("store driver %s requires a dsn", c.Store.Driver)
	}
	switch c.Storage.Driver {
	case "disk", "http", "s3":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func applyEnvOverrides(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.WorkDir = getEnv("WORK_DIR", cfg.WorkDir)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.SiteDomain = getEnv("SITE_DOMAIN", cfg.SiteDomain)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnv("DATABASE_DSN", cfg.Store.DSN)
	cfg.Store.Redis.Addr = getEnv("REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Dir = getEnv("STORAGE_DIR", cfg.Storage.Dir)
	cfg.Storage.URL = getEnv("STORAGE_URL", cfg.Storage.URL)
	cfg.Storage.S3.Bucket = getEnv("S3_BUCKET", cfg.Storage.S3.Bucket)
	cfg.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.Region = getEnv("S3_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", cfg.Storage.S3.SecretAccessKey)
	cfg.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Kafka.Brokers)
	if v, err := strconv.Atoi(os.Getenv("PUBLISH_CONCURRENCY")); err == nil && v > 0 {
		cfg.Publish.Concurrency = v
	}
	if v := strings.ToLower(os.Getenv("PUBLISH_FAIL_ON_ERROR")); v != "" {
		cfg.Publish.FailOnError = v == "1" || v == "true" || v == "yes"
	}
}
