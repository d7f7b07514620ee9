package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override, for example
// PUSHWATCH_DATABASE_DSN.
const EnvPrefix = "PUSHWATCH"

// ConfigFileEnv names the variable pointing at an optional YAML config file.
const ConfigFileEnv = EnvPrefix + "_CONFIG"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

var _ Loader = (*ViperLoader)(nil)

// ViperLoader layers defaults, an optional YAML file and environment
// variables, in increasing precedence.
type ViperLoader struct {
	path   string
	lookup func(string) (string, bool)
}

// NewViperLoader creates a loader. An empty path falls back to the file named
// by PUSHWATCH_CONFIG, if any.
func NewViperLoader(path string) *ViperLoader {
	return &ViperLoader{path: path, lookup: os.LookupEnv}
}

// Load reads and validates the configuration.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := l.path
	if path == "" {
		path, _ = l.lookup(ConfigFileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setDefaults registers every key so environment overrides are picked up by
// Unmarshal even when no file sets them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("database.backend", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.migrations_dir", "db/migrations")

	v.SetDefault("queue.backend", "kafka")
	v.SetDefault("queue.brokers", []string{})
	v.SetDefault("queue.topic", "secret-scanning-jobs")
	v.SetDefault("queue.group_id", "pushwatch-worker")
	v.SetDefault("queue.client_id", "pushwatch")
	v.SetDefault("queue.memory_size", 1024)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.initial_backoff", "5s")
	v.SetDefault("queue.failed_retention", 20)

	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.token", "")
	v.SetDefault("github.timeout", "30s")
	v.SetDefault("github.retry_max", 3)
	v.SetDefault("github.rate_limit", 1.25)
	v.SetDefault("github.rate_burst", 5)

	v.SetDefault("scanner.mode", "cli")
	v.SetDefault("scanner.binary_path", "gitleaks")
	v.SetDefault("scanner.config_path", "")
	v.SetDefault("scanner.timeout", "2m")
	v.SetDefault("scanner.findings_exit_code", 77)
	v.SetDefault("scanner.file_concurrency", 1)
	v.SetDefault("scanner.exclude_paths", []string{})

	v.SetDefault("encryption.key", "")

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.template", "")

	v.SetDefault("telemetry.host", "")
	v.SetDefault("telemetry.api_key", "")

	v.SetDefault("webhook.addr", "0.0.0.0:8080")
	v.SetDefault("webhook.secret", "")

	v.SetDefault("directory.mode", "postgres")
	v.SetDefault("directory.file", "")

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sampling_ratio", 0.1)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("suppression.file", ".infisicalignore")
}
