// Package config provides hierarchical configuration loading for ChangeGuard.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the ChangeGuard service.
type Config struct {
	Server     Server     `yaml:"server"`
	Postgres   Postgres   `yaml:"postgres"`
	NATS       NATS       `yaml:"nats"`
	GitHub     GitHub     `yaml:"github"`
	LLM        LLM        `yaml:"llm"`
	Policy     Policy     `yaml:"policy"`
	Evaluation Evaluation `yaml:"evaluation"`
	Cache      Cache      `yaml:"cache"`
	Logging    Logging    `yaml:"logging"`
	Breaker    Breaker    `yaml:"breaker"`
	Retry      Retry      `yaml:"retry"`
	Rate       Rate       `yaml:"rate"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Alerts     Alerts     `yaml:"alerts"`
}

// Ingress modes.
const (
	IngressSync  = "sync"  // webhook handler runs the evaluation and returns the outcome
	IngressQueue = "queue" // webhook handler enqueues to NATS and returns 202
)

// Policy sources.
const (
	PolicySourceFile   = "file"
	PolicySourceGitHub = "github"
)

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	IngressMode     string        `yaml:"ingress_mode"`
	WebhookSecret   string        `yaml:"webhook_secret"` //nolint:gosec // config field name, not a secret
	BodyLimit       int64         `yaml:"body_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN selects
// the in-memory store.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS connection configuration. An empty URL disables the
// queue, completion events and the L2 policy cache.
type NATS struct {
	URL      string `yaml:"url"`
	Stream   string `yaml:"stream"`
	KVBucket string `yaml:"kv_bucket"`
	Consumer string `yaml:"consumer"`
}

// GitHub holds source-control client configuration. Either Token or the
// app credentials (AppID + PrivateKeyPath) authenticate requests.
type GitHub struct {
	APIURL            string        `yaml:"api_url"`
	Token             string        `yaml:"token"` //nolint:gosec // config field name, not a secret
	AppID             int64         `yaml:"app_id"`
	PrivateKeyPath    string        `yaml:"private_key_path"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CheckName         string        `yaml:"check_name"`
	PolicyPath        string        `yaml:"policy_path"`
	// DetailsURL is the base of the per-evaluation link shown on check runs,
	// e.g. https://changeguard.example.com/api/v1/evaluations/.
	DetailsURL string `yaml:"details_url"`
}

// LLM holds the optional risk classifier configuration. BaseURL may point
// at an OpenAI-compatible proxy such as LiteLLM.
type LLM struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"` //nolint:gosec // config field name, not a secret
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxDiffBytes int           `yaml:"max_diff_bytes"`
	MaxTokens    int           `yaml:"max_tokens"`
}

// Policy selects where policy documents come from.
type Policy struct {
	Source string `yaml:"source"`
	Dir    string `yaml:"dir"`
}

// Evaluation holds pipeline limits.
type Evaluation struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
}

// Cache holds policy cache configuration.
type Cache struct {
	L1MaxBytes int64 `yaml:"l1_max_bytes"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// Breaker holds circuit breaker configuration for external calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Retry holds bounded retry configuration for external calls. MaxAttempts
// of 1 disables retries.
type Retry struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Rate holds per-IP rate limiting configuration for the HTTP API.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Telemetry holds OpenTelemetry configuration. An empty OTLPEndpoint keeps
// only the Prometheus exporter.
type Telemetry struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Alerts holds chat notifications sent when a pull request's projected
// status changes to one of Statuses. Empty webhook URLs disable a provider.
type Alerts struct {
	Statuses          []string      `yaml:"statuses"`
	SlackWebhookURL   string        `yaml:"slack_webhook_url"`
	DiscordWebhookURL string        `yaml:"discord_webhook_url"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			IngressMode:     IngressSync,
			BodyLimit:       5 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: Postgres{
			MaxConns:        15,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream:   "CHANGEGUARD",
			KVBucket: "changeguard-policies",
			Consumer: "changeguard-evaluator",
		},
		GitHub: GitHub{
			APIURL:            "https://api.github.com/",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			CheckName:         "changeguard",
			PolicyPath:        ".github/changeguard.yaml",
		},
		LLM: LLM{
			Model:        "gpt-4o-mini",
			Timeout:      30 * time.Second,
			MaxDiffBytes: 24 << 10,
			MaxTokens:    512,
		},
		Policy: Policy{
			Source: PolicySourceFile,
			Dir:    "policies",
		},
		Evaluation: Evaluation{
			Timeout:       2 * time.Minute,
			MaxAttempts:   3,
			MaxConcurrent: 16,
		},
		Cache: Cache{
			L1MaxBytes: 16 << 20,
		},
		Logging: Logging{
			Level:        "info",
			Service:      "changeguard",
			AsyncBuffer:  4096,
			AsyncWorkers: 2,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Retry: Retry{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Telemetry: Telemetry{
			ServiceName: "changeguard",
		},
		Alerts: Alerts{
			Statuses: []string{"ACTION_REQUIRED", "ERROR"},
			Timeout:  5 * time.Second,
		},
	}
}
