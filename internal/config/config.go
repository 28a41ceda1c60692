package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// QueueConfig tunes the delivery worker loop. PollInterval and BatchLimit
// trade delivery latency against load; they are not correctness knobs.
type QueueConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchLimit        int           `mapstructure:"batch_limit"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	StuckAfter        time.Duration `mapstructure:"stuck_after"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RetentionConfig struct {
	DeliveryTTL time.Duration `mapstructure:"delivery_ttl"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("wagate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/wagate")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WAGATE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/wagate.db")

	viper.SetDefault("queue.poll_interval", 5*time.Second)
	viper.SetDefault("queue.batch_limit", 25)
	viper.SetDefault("queue.concurrency", 5)
	viper.SetDefault("queue.request_timeout", 10*time.Second)
	viper.SetDefault("queue.base_backoff", 30*time.Second)
	viper.SetDefault("queue.max_backoff", 1*time.Hour)
	viper.SetDefault("queue.default_max_retries", 3)
	viper.SetDefault("queue.stuck_after", 5*time.Minute)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("retention.delivery_ttl", 30*24*time.Hour)
}
