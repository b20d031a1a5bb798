package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "changeguard.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("CHANGEGUARD_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHANGEGUARD_PORT")
	setString(&cfg.Server.CORSOrigin, "CHANGEGUARD_CORS_ORIGIN")
	setString(&cfg.Server.IngressMode, "CHANGEGUARD_INGRESS_MODE")
	setString(&cfg.Server.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	setInt64(&cfg.Server.BodyLimit, "CHANGEGUARD_BODY_LIMIT")
	setDuration(&cfg.Server.ShutdownTimeout, "CHANGEGUARD_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHANGEGUARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHANGEGUARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHANGEGUARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHANGEGUARD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHANGEGUARD_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "CHANGEGUARD_NATS_STREAM")
	setString(&cfg.NATS.KVBucket, "CHANGEGUARD_NATS_KV_BUCKET")
	setString(&cfg.NATS.Consumer, "CHANGEGUARD_NATS_CONSUMER")

	setString(&cfg.GitHub.APIURL, "GITHUB_API_URL")
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setInt64(&cfg.GitHub.AppID, "GITHUB_APP_ID")
	setString(&cfg.GitHub.PrivateKeyPath, "GITHUB_PRIVATE_KEY_PATH")
	setDuration(&cfg.GitHub.Timeout, "CHANGEGUARD_GITHUB_TIMEOUT")
	setFloat64(&cfg.GitHub.RequestsPerSecond, "CHANGEGUARD_GITHUB_RPS")
	setInt(&cfg.GitHub.Burst, "CHANGEGUARD_GITHUB_BURST")
	setString(&cfg.GitHub.CheckName, "CHANGEGUARD_CHECK_NAME")
	setString(&cfg.GitHub.PolicyPath, "CHANGEGUARD_POLICY_PATH")
	setString(&cfg.GitHub.DetailsURL, "CHANGEGUARD_DETAILS_URL")

	setBool(&cfg.LLM.Enabled, "CHANGEGUARD_LLM_ENABLED")
	setString(&cfg.LLM.BaseURL, "LITELLM_URL")
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.Model, "CHANGEGUARD_LLM_MODEL")
	setDuration(&cfg.LLM.Timeout, "CHANGEGUARD_LLM_TIMEOUT")
	setInt(&cfg.LLM.MaxDiffBytes, "CHANGEGUARD_LLM_MAX_DIFF_BYTES")
	setInt(&cfg.LLM.MaxTokens, "CHANGEGUARD_LLM_MAX_TOKENS")

	setString(&cfg.Policy.Source, "CHANGEGUARD_POLICY_SOURCE")
	setString(&cfg.Policy.Dir, "CHANGEGUARD_POLICY_DIR")

	setDuration(&cfg.Evaluation.Timeout, "CHANGEGUARD_EVAL_TIMEOUT")
	setInt(&cfg.Evaluation.MaxAttempts, "CHANGEGUARD_EVAL_MAX_ATTEMPTS")
	setInt64(&cfg.Evaluation.MaxConcurrent, "CHANGEGUARD_EVAL_MAX_CONCURRENT")

	setInt64(&cfg.Cache.L1MaxBytes, "CHANGEGUARD_CACHE_L1_MAX_BYTES")

	setString(&cfg.Logging.Level, "CHANGEGUARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHANGEGUARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CHANGEGUARD_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "CHANGEGUARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHANGEGUARD_BREAKER_TIMEOUT")

	setUint(&cfg.Retry.MaxAttempts, "CHANGEGUARD_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.InitialInterval, "CHANGEGUARD_RETRY_INITIAL_INTERVAL")
	setDuration(&cfg.Retry.MaxInterval, "CHANGEGUARD_RETRY_MAX_INTERVAL")

	setFloat64(&cfg.Rate.RequestsPerSecond, "CHANGEGUARD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CHANGEGUARD_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CHANGEGUARD_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CHANGEGUARD_RATE_MAX_IDLE_TIME")

	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")

	setString(&cfg.Alerts.SlackWebhookURL, "CHANGEGUARD_SLACK_WEBHOOK_URL")
	setString(&cfg.Alerts.DiscordWebhookURL, "CHANGEGUARD_DISCORD_WEBHOOK_URL")
	setDuration(&cfg.Alerts.Timeout, "CHANGEGUARD_ALERTS_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Server.IngressMode {
	case IngressSync:
	case IngressQueue:
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for queue ingress")
		}
	default:
		return fmt.Errorf("server.ingress_mode %q must be %q or %q", cfg.Server.IngressMode, IngressSync, IngressQueue)
	}
	switch cfg.Policy.Source {
	case PolicySourceFile:
		if cfg.Policy.Dir == "" {
			return errors.New("policy.dir is required for file policy source")
		}
	case PolicySourceGitHub:
	default:
		return fmt.Errorf("policy.source %q must be %q or %q", cfg.Policy.Source, PolicySourceFile, PolicySourceGitHub)
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Evaluation.MaxAttempts < 1 {
		return errors.New("evaluation.max_attempts must be >= 1")
	}
	if cfg.Evaluation.MaxConcurrent < 1 {
		return errors.New("evaluation.max_concurrent must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.GitHub.Burst < 1 {
		return errors.New("github.burst must be >= 1")
	}
	if cfg.GitHub.AppID != 0 && cfg.GitHub.PrivateKeyPath == "" {
		return errors.New("github.private_key_path is required when github.app_id is set")
	}
	if cfg.LLM.Enabled && cfg.LLM.Model == "" {
		return errors.New("llm.model is required when llm.enabled is true")
	}
	for _, st := range cfg.Alerts.Statuses {
		switch st {
		case "ACTION_REQUIRED", "COMPLIANT", "ERROR", "STALE":
		default:
			return fmt.Errorf("alerts.statuses: %q is not a terminal status", st)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint(n)
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
