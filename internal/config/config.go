package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gymapp/main-service/internal/circuitbreaker"
	"github.com/gymapp/main-service/internal/platform/env"
)

// Workload transports. Exactly one is active per deployment.
const (
	TransportHTTP  = "http"
	TransportQueue = "queue"
)

const insecureDevSecret = "dev-insecure-change-me"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the main-service configuration, loaded from environment variables.
type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	NATSURL         string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
	MetricsEnabled  bool

	// WorkloadTransport selects the notifier: "http" (direct call behind the
	// circuit breaker) or "queue" (JetStream publish).
	WorkloadTransport       string
	WorkloadServiceURL      string
	WorkloadTimeout         time.Duration
	WorkloadDispatchTimeout time.Duration

	ServiceName        string
	ServiceTokenSecret string
	ServiceTokenIssuer string
	ServiceTokenTTL    time.Duration

	Breaker circuitbreaker.Config
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	defaults := circuitbreaker.DefaultConfig()
	return Config{
		HTTPAddr:        env.String("HTTP_ADDR", env.DefaultHTTPAddr),
		DatabaseURL:     env.String("DATABASE_URL", env.DefaultDatabaseURL),
		NATSURL:         env.String("NATS_URL", env.DefaultNATSURL),
		ShutdownTimeout: env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        env.String("LOG_LEVEL", "info"),
		LogFormat:       env.String("LOG_FORMAT", "json"),
		MetricsEnabled:  env.Bool("METRICS_ENABLED", true),

		WorkloadTransport:       strings.ToLower(strings.TrimSpace(env.String("WORKLOAD_TRANSPORT", TransportHTTP))),
		WorkloadServiceURL:      env.String("WORKLOAD_SERVICE_URL", env.DefaultWorkloadURL),
		WorkloadTimeout:         env.Duration("WORKLOAD_TIMEOUT", 5*time.Second),
		WorkloadDispatchTimeout: env.Duration("WORKLOAD_DISPATCH_TIMEOUT", 15*time.Second),

		ServiceName:        env.String("SERVICE_NAME", "main-service"),
		ServiceTokenSecret: env.String("SERVICE_TOKEN_SECRET", insecureDevSecret),
		ServiceTokenIssuer: env.String("SERVICE_TOKEN_ISSUER", ""),
		ServiceTokenTTL:    env.Duration("SERVICE_TOKEN_TTL", 5*time.Minute),

		Breaker: circuitbreaker.Config{
			MinimumCalls:         env.Int("CB_MINIMUM_CALLS", defaults.MinimumCalls),
			FailureRateThreshold: env.Float("CB_FAILURE_RATE", defaults.FailureRateThreshold),
			Window:               env.Duration("CB_WINDOW", defaults.Window),
			Cooldown:             env.Duration("CB_COOLDOWN", defaults.Cooldown),
			HalfOpenMaxCalls:     env.Int("CB_HALF_OPEN_CALLS", defaults.HalfOpenMaxCalls),
		},
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(c.DatabaseURL) == "" {
		add("DATABASE_URL is required")
	}
	switch c.WorkloadTransport {
	case TransportHTTP:
		u, err := url.Parse(c.WorkloadServiceURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			add("WORKLOAD_SERVICE_URL %q is not an absolute URL", c.WorkloadServiceURL)
		}
		if strings.TrimSpace(c.ServiceTokenSecret) == "" {
			add("SERVICE_TOKEN_SECRET is required for the http transport")
		}
		if c.ServiceTokenTTL > time.Hour {
			add("SERVICE_TOKEN_TTL %s is too long for a service token", c.ServiceTokenTTL)
		}
	case TransportQueue:
		if strings.TrimSpace(c.NATSURL) == "" {
			add("NATS_URL is required for the queue transport")
		}
	default:
		add("WORKLOAD_TRANSPORT must be %q or %q, got %q", TransportHTTP, TransportQueue, c.WorkloadTransport)
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		add("SERVICE_NAME is required")
	}
	if c.WorkloadTimeout > c.WorkloadDispatchTimeout {
		add("WORKLOAD_TIMEOUT %s exceeds WORKLOAD_DISPATCH_TIMEOUT %s", c.WorkloadTimeout, c.WorkloadDispatchTimeout)
	}
	if r := c.Breaker.FailureRateThreshold; r <= 0 || r > 1 {
		add("CB_FAILURE_RATE must be in (0,1], got %v", r)
	}
	if c.Breaker.MinimumCalls <= 0 {
		add("CB_MINIMUM_CALLS must be positive, got %d", c.Breaker.MinimumCalls)
	}
	if c.Breaker.Window < time.Second {
		add("CB_WINDOW must be at least 1s, got %s", c.Breaker.Window)
	}
	return errors.Join(errs...)
}

// InsecureSecret reports whether the development default secret is in use.
func (c Config) InsecureSecret() bool {
	return c.ServiceTokenSecret == insecureDevSecret
}
