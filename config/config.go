package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Otel     OtelConfig     `mapstructure:"otel"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// RedisConfig 用户变更事件流（reactive 触发源）
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Stream   string `mapstructure:"stream" validate:"required"`
	Group    string `mapstructure:"group" validate:"required"`
	Consumer string `mapstructure:"consumer"`
	Workers  int    `mapstructure:"workers" validate:"gte=0"`
}

// SyncConfig 冗余字段同步参数
type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size" validate:"gte=1,lte=500"`
	CommitRate      float64       `mapstructure:"commit_rate" validate:"gte=0"`
	GracePeriod     time.Duration `mapstructure:"grace_period" validate:"gte=0"`
	CostPerWrite    float64       `mapstructure:"cost_per_write" validate:"gte=0"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

type AdminConfig struct {
	Secret string `mapstructure:"secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=namesync port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.stream", "user.changed")
	v.SetDefault("redis.group", "namesync")
	v.SetDefault("redis.consumer", "")
	v.SetDefault("redis.workers", 4)
	v.SetDefault("sync.batch_size", 499)
	v.SetDefault("sync.commit_rate", 0)
	v.SetDefault("sync.grace_period", 5*time.Second)
	v.SetDefault("sync.cost_per_write", 0.0000018)
	v.SetDefault("sync.continue_on_error", false)
	v.SetDefault("admin.secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "namesync")
}

// Load 读取配置：.env -> config.yaml -> NAMESYNC_* 环境变量
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("NAMESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
