// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Worker tunes the queue adapter's worker pool (see internal/adapter.Config).
type Worker struct {
	MaxWorkers        int           `mapstructure:"max_workers"`
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout"`
	LeaseDuration     time.Duration `mapstructure:"lease_duration"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BaseRetryBackoff  time.Duration `mapstructure:"base_retry_backoff"`
	MaxRetryBackoff   time.Duration `mapstructure:"max_retry_backoff"`
	ExecuteNowTimeout time.Duration `mapstructure:"execute_now_timeout"`
	Queues            []string      `mapstructure:"queues"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
	Insecure         bool    `mapstructure:"insecure"`
}

// Tracing is a backwards-compatible alias.
type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFilePath         string        `mapstructure:"log_file_path"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

// Observability is a backwards-compatible alias.
type Observability = ObservabilityConfig

// Adaptive tunes internal/adaptive's Controller: concurrency bounds,
// sampling interval, target load and the admission rate limiter. None of
// these fields reach the backpressure detector.
type Adaptive struct {
	MinConcurrency      int64         `mapstructure:"min_concurrency"`
	MaxConcurrency      int64         `mapstructure:"max_concurrency"`
	SampleInterval      time.Duration `mapstructure:"sample_interval"`
	TargetErrorRate     float64       `mapstructure:"target_error_rate"`
	TargetP95Latency    time.Duration `mapstructure:"target_p95_latency"`
	AdmissionRatePerSec float64       `mapstructure:"admission_rate_per_sec"`
	AdmissionBurst      int           `mapstructure:"admission_burst"`
}

type Config struct {
	Redis         Redis         `mapstructure:"redis"`
	Worker        Worker        `mapstructure:"worker"`
	Observability Observability `mapstructure:"observability"`
	Adaptive      Adaptive      `mapstructure:"adaptive"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Worker: Worker{
			MaxWorkers:        10,
			WorkerIdleTimeout: 60 * time.Second,
			LeaseDuration:     5 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			BaseRetryBackoff:  time.Second,
			MaxRetryBackoff:   time.Hour,
			ExecuteNowTimeout: 5 * time.Minute,
			Queues:            []string{"default"},
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             Tracing{Enabled: false, SamplingStrategy: "probabilistic", SamplingRate: 0.1},
			QueueSampleInterval: 2 * time.Second,
		},
		Adaptive: Adaptive{
			MinConcurrency:      4,
			MaxConcurrency:      64,
			SampleInterval:      5 * time.Second,
			TargetErrorRate:     0.05,
			TargetP95Latency:    500 * time.Millisecond,
			AdmissionRatePerSec: 200,
			AdmissionBurst:      50,
		},
	}
}

// Load reads configuration from a YAML file (if it exists) plus env
// overrides, falling back to defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("worker.max_workers", def.Worker.MaxWorkers)
	v.SetDefault("worker.worker_idle_timeout", def.Worker.WorkerIdleTimeout)
	v.SetDefault("worker.lease_duration", def.Worker.LeaseDuration)
	v.SetDefault("worker.heartbeat_interval", def.Worker.HeartbeatInterval)
	v.SetDefault("worker.base_retry_backoff", def.Worker.BaseRetryBackoff)
	v.SetDefault("worker.max_retry_backoff", def.Worker.MaxRetryBackoff)
	v.SetDefault("worker.execute_now_timeout", def.Worker.ExecuteNowTimeout)
	v.SetDefault("worker.queues", def.Worker.Queues)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_file_path", def.Observability.LogFilePath)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sampling_strategy", def.Observability.Tracing.SamplingStrategy)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("adaptive.min_concurrency", def.Adaptive.MinConcurrency)
	v.SetDefault("adaptive.max_concurrency", def.Adaptive.MaxConcurrency)
	v.SetDefault("adaptive.sample_interval", def.Adaptive.SampleInterval)
	v.SetDefault("adaptive.target_error_rate", def.Adaptive.TargetErrorRate)
	v.SetDefault("adaptive.target_p95_latency", def.Adaptive.TargetP95Latency)
	v.SetDefault("adaptive.admission_rate_per_sec", def.Adaptive.AdmissionRatePerSec)
	v.SetDefault("adaptive.admission_burst", def.Adaptive.AdmissionBurst)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Worker.MaxWorkers < 1 {
		return fmt.Errorf("worker.max_workers must be >= 1")
	}
	if len(cfg.Worker.Queues) == 0 {
		return fmt.Errorf("worker.queues must be non-empty")
	}
	if cfg.Worker.LeaseDuration < 5*time.Second {
		return fmt.Errorf("worker.lease_duration must be >= 5s")
	}
	if cfg.Worker.HeartbeatInterval <= 0 || cfg.Worker.HeartbeatInterval > cfg.Worker.LeaseDuration/2 {
		return fmt.Errorf("worker.heartbeat_interval must be >0 and <= lease_duration/2")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Adaptive.MinConcurrency < 1 || cfg.Adaptive.MinConcurrency > cfg.Adaptive.MaxConcurrency {
		return fmt.Errorf("adaptive.min_concurrency must be >=1 and <= max_concurrency")
	}
	return nil
}
