package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/uddoktapay-gateway/internal/gateway"
)

// Credentials holds the provider settings of one gateway variant.
type Credentials struct {
	APIKey string
	APIURL string
}

// Obs groups logging, metrics and tracing switches.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnablePrometheus bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	EnablePprof      bool
	PprofUser        string
	PprofPass        string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv          string
	Port            string
	DatabaseURL     string
	DatabaseMigrate bool
	RedisURL        string

	BillingSystemURL   string
	BillingInvoicePath string
	CheckoutPublicURL  string

	// Gateways lists the enabled variants; a variant is enabled when its
	// section carries credentials.
	Gateways map[gateway.Variant]Credentials

	ProviderConnectTimeout time.Duration
	ProviderTimeout        time.Duration
	BreakerMinRequests     int
	BreakerFailureRatio    float64
	BreakerOpenFor         time.Duration

	ReconcileLockTTL    time.Duration
	RateLimit           string
	RejectLogRate       string
	WebhookMaxBodyBytes int64
	AuditEnabled        bool
	AdminAPIToken       string

	SecurityHeaders bool
	EnableHSTS      bool
	ShutdownTimeout time.Duration

	HealthDBTimeout    time.Duration
	HealthRedisTimeout time.Duration

	Obs Obs
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	r := &envReader{k: k}
	cfg := &Config{
		AppEnv:          valueOrDefault(k.String("APP_ENV"), "development"),
		Port:            valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:     strings.TrimSpace(k.String("DATABASE_URL")),
		DatabaseMigrate: r.boolean("DATABASE_MIGRATE", false),
		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),

		BillingSystemURL:   strings.TrimSpace(k.String("BILLING_SYSTEM_URL")),
		BillingInvoicePath: valueOrDefault(k.String("BILLING_INVOICE_PATH"), "viewinvoice.php"),
		CheckoutPublicURL:  strings.TrimSpace(k.String("CHECKOUT_PUBLIC_URL")),
		Gateways:           map[gateway.Variant]Credentials{},

		ProviderConnectTimeout: r.duration("PROVIDER_CONNECT_TIMEOUT", "10s"),
		ProviderTimeout:        r.duration("PROVIDER_TIMEOUT", "30s"),
		BreakerMinRequests:     r.integer("PROVIDER_BREAKER_MIN_REQUESTS", 5),
		BreakerFailureRatio:    r.float("PROVIDER_BREAKER_FAILURE_RATIO", 0.5),
		BreakerOpenFor:         r.duration("PROVIDER_BREAKER_OPEN_FOR", "30s"),

		ReconcileLockTTL:    r.duration("RECONCILE_LOCK_TTL", "30s"),
		RateLimit:           valueOrDefault(k.String("RATE_LIMIT"), "60-M"),
		RejectLogRate:       valueOrDefault(k.String("WEBHOOK_REJECT_LOG_RATE"), "30-M"),
		WebhookMaxBodyBytes: int64(r.integer("WEBHOOK_MAX_BODY_BYTES", 64<<10)),
		AuditEnabled:        r.boolean("AUDIT_ENABLED", true),
		AdminAPIToken:       strings.TrimSpace(k.String("ADMIN_API_TOKEN")),

		SecurityHeaders: r.boolean("SECURITY_HEADERS_ENABLED", true),
		EnableHSTS:      r.boolean("SECURITY_HSTS_ENABLED", false),
		ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", "15s"),

		HealthDBTimeout:    r.duration("HEALTH_READY_DB_TIMEOUT", "500ms"),
		HealthRedisTimeout: r.duration("HEALTH_READY_REDIS_TIMEOUT", "300ms"),

		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "uddoktapay"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus: r.boolean("OBS_ENABLE_PROMETHEUS", true),
			EnableTracing:    r.boolean("OBS_ENABLE_TRACING", false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    r.float("OBS_TRACING_SAMPLING_RATIO", 1.0),
			EnablePprof:      r.boolean("OBS_ENABLE_PPROF", false),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		},
	}

	problems := r.problems
	for _, v := range gateway.All() {
		section := strings.ToUpper(v.Section())
		creds := Credentials{
			APIKey: strings.TrimSpace(k.String(section + "_API_KEY")),
			APIURL: strings.TrimSpace(k.String(section + "_API_URL")),
		}
		switch {
		case creds.APIKey == "" && creds.APIURL == "":
			continue
		case creds.APIKey == "":
			problems = append(problems, fmt.Errorf("%s_API_KEY is required when %s_API_URL is set", section, section))
		case creds.APIURL == "":
			problems = append(problems, fmt.Errorf("%s_API_URL is required when %s_API_KEY is set", section, section))
		default:
			cfg.Gateways[v] = creds
		}
	}

	if err := cfg.validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	v := validator.New()
	var problems []error
	if c.DatabaseURL == "" {
		problems = append(problems, errors.New("DATABASE_URL is required"))
	}
	for key, value := range map[string]string{
		"BILLING_SYSTEM_URL":  c.BillingSystemURL,
		"CHECKOUT_PUBLIC_URL": c.CheckoutPublicURL,
	} {
		if value == "" {
			problems = append(problems, fmt.Errorf("%s is required", key))
			continue
		}
		if err := v.Var(value, "http_url"); err != nil {
			problems = append(problems, fmt.Errorf("%s must be an http(s) URL", key))
		}
	}
	for variant, creds := range c.Gateways {
		if err := v.Var(creds.APIURL, "http_url"); err != nil {
			problems = append(problems, fmt.Errorf("%s_API_URL must be an http(s) URL", strings.ToUpper(variant.Section())))
		}
	}
	if len(c.Gateways) == 0 && len(problems) == 0 {
		problems = append(problems, errors.New("at least one gateway variant must be configured"))
	}
	if c.ProviderConnectTimeout <= 0 || c.ProviderTimeout <= 0 {
		problems = append(problems, errors.New("PROVIDER_CONNECT_TIMEOUT and PROVIDER_TIMEOUT must be positive"))
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		problems = append(problems, errors.New("PROVIDER_BREAKER_FAILURE_RATIO must be in (0, 1]"))
	}
	if c.WebhookMaxBodyBytes <= 0 {
		problems = append(problems, errors.New("WEBHOOK_MAX_BODY_BYTES must be positive"))
	}
	return errors.Join(problems...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// envReader parses typed values and records malformed ones instead of
// falling back silently.
type envReader struct {
	k        *koanf.Koanf
	problems []error
}

func (r *envReader) raw(key string) string {
	return strings.TrimSpace(r.k.String(key))
}

func (r *envReader) invalid(key, value, want string) {
	r.problems = append(r.problems, fmt.Errorf("%s=%q is not a valid %s", key, value, want))
}

func (r *envReader) duration(key, fallback string) time.Duration {
	value := r.raw(key)
	if value == "" {
		value = fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid(key, value, "duration")
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func (r *envReader) boolean(key string, fallback bool) bool {
	value := r.raw(key)
	switch strings.ToLower(value) {
	case "":
		return fallback
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		r.invalid(key, value, "boolean")
		return fallback
	}
}

func (r *envReader) integer(key string, fallback int) int {
	value := r.raw(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(key, value, "integer")
		return fallback
	}
	return parsed
}

func (r *envReader) float(key string, fallback float64) float64 {
	value := r.raw(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.invalid(key, value, "number")
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
