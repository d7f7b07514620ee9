// Package config loads the runtime configuration shared by the worker and
// webhook processes.
package config

import (
	"time"
)

// Config is the top-level configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Queue       QueueConfig       `mapstructure:"queue"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Encryption  EncryptionConfig  `mapstructure:"encryption"`
	Mail        MailConfig        `mapstructure:"mail"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Otel        OtelConfig        `mapstructure:"otel"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Suppression SuppressionConfig `mapstructure:"suppression"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// DatabaseConfig selects the risk ledger and failed-job store backend.
type DatabaseConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=postgres memory"`
	DSN           string `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	MaxConns      int32  `mapstructure:"max_conns" validate:"gte=0"`
	MinConns      int32  `mapstructure:"min_conns" validate:"gte=0"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// QueueConfig selects the job queue and its retry policy.
type QueueConfig struct {
	Backend         string        `mapstructure:"backend" validate:"oneof=kafka memory"`
	Brokers         []string      `mapstructure:"brokers" validate:"required_if=Backend kafka"`
	Topic           string        `mapstructure:"topic" validate:"required"`
	GroupID         string        `mapstructure:"group_id" validate:"required"`
	ClientID        string        `mapstructure:"client_id"`
	MemorySize      int           `mapstructure:"memory_size" validate:"gte=1"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	FailedRetention int           `mapstructure:"failed_retention" validate:"gte=1"`
}

type GitHubConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryMax  int           `mapstructure:"retry_max" validate:"gte=0"`
	RateLimit float64       `mapstructure:"rate_limit" validate:"gt=0"`
	RateBurst int           `mapstructure:"rate_burst" validate:"gte=1"`
}

// ScannerConfig selects the detection engine. The cli mode runs an external
// gitleaks binary; embedded links the detector in process.
type ScannerConfig struct {
	Mode             string        `mapstructure:"mode" validate:"oneof=cli embedded"`
	BinaryPath       string        `mapstructure:"binary_path"`
	ConfigPath       string        `mapstructure:"config_path"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gte=0"`
	FindingsExitCode int           `mapstructure:"findings_exit_code" validate:"gte=2,lte=255"`
	FileConcurrency  int           `mapstructure:"file_concurrency" validate:"gte=1"`
	ExcludePaths     []string      `mapstructure:"exclude_paths"`
}

// EncryptionConfig holds the base64 encoded 32-byte key sealing stored
// secrets.
type EncryptionConfig struct {
	Key string `mapstructure:"key" validate:"required,base64"`
}

// MailConfig configures incident mail. An empty host logs mail instead of
// sending it.
type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	From     string `mapstructure:"from" validate:"required_with=Host,omitempty,email"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Template string `mapstructure:"template"`
}

// TelemetryConfig configures the analytics sink. An empty API key disables it.
type TelemetryConfig struct {
	Host   string `mapstructure:"host" validate:"omitempty,url"`
	APIKey string `mapstructure:"api_key"`
}

type WebhookConfig struct {
	Addr   string `mapstructure:"addr" validate:"required,hostname_port"`
	Secret string `mapstructure:"secret"`
}

type DirectoryConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=postgres static"`
	File string `mapstructure:"file" validate:"required_if=Mode static"`
}

type OtelConfig struct {
	Endpoint      string  `mapstructure:"endpoint"`
	Insecure      bool    `mapstructure:"insecure"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type SuppressionConfig struct {
	File string `mapstructure:"file" validate:"required"`
}
