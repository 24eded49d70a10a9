package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	pstrings "medgate/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Log       Log
	Redis     RedisConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	Audit     AuditConfig
	Health    HealthConfig
	Reports   ReportsConfig
	Breaker   BreakerConfig
	Targets   []TargetConfig
	Providers ProvidersConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr               string
	JWTSigningKey      string
	JWTIssuer          string
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	MetricsPermission  string
	AdminToken         string
}

// Log configures the process logger.
type Log struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RedisConfig configures the optional Redis client. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the audit database. An empty URL selects the
// in-memory audit store.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// KafkaConfig configures the optional audit stream.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
}

// AuditConfig configures the audit sink and its read side.
type AuditConfig struct {
	BufferSize        int
	EnqueueTimeout    time.Duration
	ExportLimit       int
	Retention         time.Duration
	RetentionSchedule string
	PrivilegedRoles   []string
	HashKey           string
}

// HealthConfig configures the health aggregator.
type HealthConfig struct {
	ProbeTimeout time.Duration
}

// ReportsConfig configures report generation.
type ReportsConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// BreakerConfig holds circuit breaker settings. Zero fields inherit defaults.
type BreakerConfig struct {
	ErrorThresholdPercentage int           `yaml:"errorThresholdPercentage"`
	ResetTimeout             time.Duration `yaml:"resetTimeout"`
	RollingCountTimeout      time.Duration `yaml:"rollingCountTimeout"`
	RollingCountBuckets      int           `yaml:"rollingCountBuckets"`
	VolumeThreshold          int           `yaml:"volumeThreshold"`
}

// Merge fills zero fields of b from defaults.
func (b BreakerConfig) Merge(defaults BreakerConfig) BreakerConfig {
	if b.ErrorThresholdPercentage == 0 {
		b.ErrorThresholdPercentage = defaults.ErrorThresholdPercentage
	}
	if b.ResetTimeout == 0 {
		b.ResetTimeout = defaults.ResetTimeout
	}
	if b.RollingCountTimeout == 0 {
		b.RollingCountTimeout = defaults.RollingCountTimeout
	}
	if b.RollingCountBuckets == 0 {
		b.RollingCountBuckets = defaults.RollingCountBuckets
	}
	if b.VolumeThreshold == 0 {
		b.VolumeThreshold = defaults.VolumeThreshold
	}
	return b
}

// TargetConfig describes one downstream service.
type TargetConfig struct {
	Name                string        `yaml:"name"`
	BaseURL             string        `yaml:"baseURL"`
	RoutePrefix         string        `yaml:"routePrefix"`
	HealthPath          string        `yaml:"healthPath"`
	Timeout             time.Duration `yaml:"timeout"`
	RequiredPermissions []string      `yaml:"requiredPermissions"`
	Breaker             BreakerConfig `yaml:"breaker"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	APIKey  string        `yaml:"apiKey"`
	BaseURL string        `yaml:"baseURL"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProvidersConfig configures report generation providers.
type ProvidersConfig struct {
	Ranking     []string       `yaml:"ranking"`
	LocalTarget string         `yaml:"localTarget"`
	Local       ProviderConfig `yaml:"local"`
	Claude      ProviderConfig `yaml:"claude"`
	Gemini      ProviderConfig `yaml:"gemini"`
	OpenAI      ProviderConfig `yaml:"openai"`
}

type fileConfig struct {
	Targets   []TargetConfig   `yaml:"targets"`
	Providers *ProvidersConfig `yaml:"providers"`
}

const defaultJWTSigningKey = "dev-secret-key-change-in-production"

// Load reads an optional .env file, then the environment, then the optional
// TARGETS_FILE, and validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var errs []error
	p := envParser{errs: &errs}

	cfg := &Config{
		Server: Server{
			Addr:               p.str("MEDGATE_ADDR", ":8080"),
			JWTSigningKey:      p.str("JWT_SIGNING_KEY", defaultJWTSigningKey),
			JWTIssuer:          p.str("JWT_ISSUER", ""),
			ShutdownTimeout:    p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSAllowedOrigins: p.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MetricsPermission:  p.str("METRICS_PERMISSION", "metrics:read"),
			AdminToken:         p.str("ADMIN_TOKEN", ""),
		},
		Log: Log{
			Level:      p.str("LOG_LEVEL", "info"),
			Format:     p.str("LOG_FORMAT", "json"),
			File:       p.str("LOG_FILE", ""),
			MaxSizeMB:  p.int("LOG_MAX_SIZE_MB", 100),
			MaxBackups: p.int("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: p.int("LOG_MAX_AGE_DAYS", 28),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          p.str("DATABASE_URL", ""),
			MaxOpenConns: p.int("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: p.int("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Kafka: KafkaConfig{
			Brokers:           p.list("KAFKA_BROKERS", nil),
			Topic:             p.str("AUDIT_KAFKA_TOPIC", "medgate.audit"),
			Partitions:        int32(p.int("AUDIT_KAFKA_PARTITIONS", 3)),
			ReplicationFactor: int16(p.int("AUDIT_KAFKA_REPLICATION", 1)),
		},
		Audit: AuditConfig{
			BufferSize:        p.int("AUDIT_BUFFER_SIZE", 1024),
			EnqueueTimeout:    p.duration("AUDIT_ENQUEUE_TIMEOUT", 50*time.Millisecond),
			ExportLimit:       p.int("AUDIT_EXPORT_LIMIT", 10000),
			Retention:         p.duration("AUDIT_RETENTION", 52560*time.Hour),
			RetentionSchedule: p.str("AUDIT_RETENTION_SCHEDULE", "@daily"),
			PrivilegedRoles:   p.list("AUDIT_PRIVILEGED_ROLES", []string{"admin", "compliance_officer"}),
			HashKey:           p.str("AUDIT_HASH_KEY", ""),
		},
		Health: HealthConfig{
			ProbeTimeout: p.duration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		},
		Reports: ReportsConfig{
			CacheTTL:  p.duration("REPORT_CACHE_TTL", 24*time.Hour),
			CacheSize: p.int("REPORT_CACHE_SIZE", 1024),
		},
		Breaker: BreakerConfig{
			ErrorThresholdPercentage: p.int("CB_ERROR_THRESHOLD_PERCENTAGE", 50),
			ResetTimeout:             p.duration("CB_RESET_TIMEOUT", 30*time.Second),
			RollingCountTimeout:      p.duration("CB_ROLLING_COUNT_TIMEOUT", 10*time.Second),
			RollingCountBuckets:      p.int("CB_ROLLING_COUNT_BUCKETS", 10),
			VolumeThreshold:          p.int("CB_VOLUME_THRESHOLD", 10),
		},
	}

	targetTimeout := p.duration("TARGET_TIMEOUT", 30*time.Second)
	cfg.Targets = []TargetConfig{
		{Name: "transcription", BaseURL: p.str("TRANSCRIPTION_SERVICE_URL", "http://localhost:8001"), RoutePrefix: "/transcription", Timeout: targetTimeout, RequiredPermissions: []string{"transcription:read", "transcription:write"}},
		{Name: "reports", BaseURL: p.str("REPORT_SERVICE_URL", "http://localhost:8002"), RoutePrefix: "/reports", Timeout: targetTimeout, RequiredPermissions: []string{"reports:read", "reports:write"}},
		{Name: "summaries", BaseURL: p.str("SUMMARY_SERVICE_URL", "http://localhost:8003"), RoutePrefix: "/summaries", Timeout: targetTimeout, RequiredPermissions: []string{"summaries:read", "summaries:write"}},
		{Name: "local-ai", BaseURL: p.str("LOCAL_AI_URL", "http://localhost:11434"), HealthPath: p.str("LOCAL_AI_HEALTH_PATH", "/api/tags"), Timeout: targetTimeout},
	}

	cfg.Providers = ProvidersConfig{
		Ranking:     p.list("PROVIDER_RANKING", []string{"claude", "openai", "gemini"}),
		LocalTarget: "local-ai",
		Local: ProviderConfig{
			BaseURL: p.str("LOCAL_AI_OPENAI_URL", ""),
			Model:   p.str("LOCAL_AI_MODEL", "llama3.1:8b"),
			Timeout: p.duration("LOCAL_AI_TIMEOUT", 120*time.Second),
		},
		Claude: ProviderConfig{
			APIKey:  p.str("ANTHROPIC_API_KEY", ""),
			BaseURL: p.str("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Model:   p.str("CLAUDE_MODEL", "claude-sonnet-4-5"),
			Timeout: p.duration("CLAUDE_TIMEOUT", 60*time.Second),
		},
		Gemini: ProviderConfig{
			APIKey:  p.str("GEMINI_API_KEY", ""),
			BaseURL: p.str("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			Model:   p.str("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout: p.duration("GEMINI_TIMEOUT", 60*time.Second),
		},
		OpenAI: ProviderConfig{
			APIKey:  p.str("OPENAI_API_KEY", ""),
			BaseURL: p.str("OPENAI_BASE_URL", ""),
			Model:   p.str("OPENAI_MODEL", "gpt-4o"),
			Timeout: p.duration("OPENAI_TIMEOUT", 60*time.Second),
		},
	}

	if path := os.Getenv("TARGETS_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		errs = append(errs, cfg.validate()...)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// applyFile overlays targets and providers from a YAML file. A file that lists
// targets replaces the environment defaults entirely.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read targets file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse targets file %s: %w", path, err)
	}
	if len(fc.Targets) > 0 {
		c.Targets = fc.Targets
	}
	if fc.Providers != nil {
		c.Providers = mergeProviders(*fc.Providers, c.Providers)
	}
	return nil
}

func mergeProviders(file, env ProvidersConfig) ProvidersConfig {
	if len(file.Ranking) > 0 {
		env.Ranking = file.Ranking
	}
	if file.LocalTarget != "" {
		env.LocalTarget = file.LocalTarget
	}
	env.Local = mergeProvider(file.Local, env.Local)
	env.Claude = mergeProvider(file.Claude, env.Claude)
	env.Gemini = mergeProvider(file.Gemini, env.Gemini)
	env.OpenAI = mergeProvider(file.OpenAI, env.OpenAI)
	return env
}

func mergeProvider(file, env ProviderConfig) ProviderConfig {
	if file.APIKey != "" {
		env.APIKey = file.APIKey
	}
	if file.BaseURL != "" {
		env.BaseURL = file.BaseURL
	}
	if file.Model != "" {
		env.Model = file.Model
	}
	if file.Timeout != 0 {
		env.Timeout = file.Timeout
	}
	return env
}

func (c *Config) validate() []error {
	var errs []error
	seen := make(map[string]bool, len(c.Targets))
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("target %d: name is required", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("target %s: duplicate name", t.Name))
		}
		seen[t.Name] = true
		u, err := url.Parse(t.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("target %s: invalid base URL %q", t.Name, t.BaseURL))
		}
		if t.RoutePrefix != "" && !strings.HasPrefix(t.RoutePrefix, "/") {
			errs = append(errs, fmt.Errorf("target %s: route prefix must start with /", t.Name))
		}
		if t.HealthPath == "" {
			t.HealthPath = "/health"
		}
		if t.Timeout <= 0 {
			t.Timeout = 30 * time.Second
		}
		t.Breaker = t.Breaker.Merge(c.Breaker)
		if p := t.Breaker.ErrorThresholdPercentage; p < 1 || p > 100 {
			errs = append(errs, fmt.Errorf("target %s: error threshold %d outside 1..100", t.Name, p))
		}
	}
	if c.Providers.LocalTarget != "" && !seen[c.Providers.LocalTarget] {
		errs = append(errs, fmt.Errorf("providers: local target %q is not configured", c.Providers.LocalTarget))
	}
	if c.Audit.Retention <= 0 {
		errs = append(errs, errors.New("AUDIT_RETENTION must be positive"))
	}
	if c.Health.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("HEALTH_PROBE_TIMEOUT must be positive"))
	}
	if c.Server.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	return errs
}

// UsesDefaultSigningKey reports whether the development JWT key is in use.
func (c *Config) UsesDefaultSigningKey() bool {
	return c.Server.JWTSigningKey == defaultJWTSigningKey
}

type envParser struct {
	errs *[]error
}

func (p envParser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p envParser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p envParser) list(key string, def []string) []string {
	if out := pstrings.SplitList(os.Getenv(key)); len(out) > 0 {
		return out
	}
	return def
}
