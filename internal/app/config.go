package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/dgnl-backend/internal/clients/irt"
	"github.com/yungbote/dgnl-backend/internal/clients/redis"
	"github.com/yungbote/dgnl-backend/internal/data/db"
	"github.com/yungbote/dgnl-backend/internal/jobs/scheduler"
	"github.com/yungbote/dgnl-backend/internal/observability"
	"github.com/yungbote/dgnl-backend/internal/platform/envutil"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

const configPathEnv = "DGNL_CONFIG_PATH"

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	AdminJWTSecret  string        `yaml:"admin_jwt_secret"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type IRTConfig struct {
	APIURL            string        `yaml:"api_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	ScheduleCron      string        `yaml:"schedule_cron"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	InFlightStale     time.Duration `yaml:"inflight_stale"`
	WorkerConcurrency int           `yaml:"worker_concurrency"`
}

type ScoringConfig struct {
	WorkerConcurrency int     `yaml:"worker_concurrency"`
	RatePerSec        float64 `yaml:"rate_per_sec"`
}

type QueueConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	Endpoint    string  `yaml:"endpoint"`
	Headers     string  `yaml:"headers"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type Config struct {
	LogMode          string         `yaml:"log_mode"`
	Version          string         `yaml:"version"`
	HTTP             HTTPConfig     `yaml:"http"`
	Postgres         PostgresConfig `yaml:"postgres"`
	Redis            RedisConfig    `yaml:"redis"`
	IRT              IRTConfig      `yaml:"irt"`
	Scoring          ScoringConfig  `yaml:"scoring"`
	Queue            QueueConfig    `yaml:"queue"`
	OTel             OTelConfig     `yaml:"otel"`
	WorkersEnabled   bool           `yaml:"workers_enabled"`
	SchedulerEnabled bool           `yaml:"scheduler_enabled"`
}

func defaultConfig() Config {
	return Config{
		LogMode: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Name:            "dgnl",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		IRT: IRTConfig{
			Timeout:           5 * time.Minute,
			MaxRetries:        2,
			BreakerThreshold:  5,
			BreakerCooldown:   time.Minute,
			ScheduleCron:      "* * * * *",
			LockTTL:           50 * time.Second,
			InFlightStale:     30 * time.Minute,
			WorkerConcurrency: 1,
		},
		Scoring: ScoringConfig{
			WorkerConcurrency: 5,
			RatePerSec:        10,
		},
		Queue: QueueConfig{
			MaxAttempts:  5,
			BackoffBase:  5 * time.Second,
			PollInterval: time.Second,
			LeaseTTL:     20 * time.Minute,
		},
		OTel: OTelConfig{
			ServiceName: "dgnl-backend",
			SampleRatio: 1,
		},
		WorkersEnabled:   true,
		SchedulerEnabled: true,
	}
}

// LoadConfig starts from defaults, overlays the YAML file named by
// DGNL_CONFIG_PATH and then the environment. Environment values win.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	if path := envutil.String(configPathEnv, ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.LogMode = envutil.String("LOG_MODE", c.LogMode)
	c.Version = envutil.String("APP_VERSION", c.Version)

	c.HTTP.Addr = envutil.String("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ShutdownTimeout = envutil.Duration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)
	if envutil.Set("CORS_ALLOWED_ORIGINS") {
		c.HTTP.AllowedOrigins = splitList(envutil.String("CORS_ALLOWED_ORIGINS", ""))
	}
	c.HTTP.AdminJWTSecret = envutil.String("ADMIN_JWT_SECRET", c.HTTP.AdminJWTSecret)

	c.Postgres.DSN = envutil.String("POSTGRES_DSN", c.Postgres.DSN)
	c.Postgres.Host = envutil.String("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = envutil.String("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = envutil.String("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = envutil.String("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.Name = envutil.String("POSTGRES_NAME", c.Postgres.Name)
	c.Postgres.SSLMode = envutil.String("POSTGRES_SSLMODE", c.Postgres.SSLMode)
	c.Postgres.MaxOpenConns = envutil.Int("POSTGRES_MAX_OPEN_CONNS", c.Postgres.MaxOpenConns)
	c.Postgres.MaxIdleConns = envutil.Int("POSTGRES_MAX_IDLE_CONNS", c.Postgres.MaxIdleConns)

	c.Redis.URL = envutil.String("REDIS_URL", c.Redis.URL)
	c.Redis.Addr = envutil.String("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envutil.String("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envutil.Int("REDIS_DB", c.Redis.DB)

	c.IRT.APIURL = envutil.String("IRT_API_URL", c.IRT.APIURL)
	c.IRT.APIKey = envutil.String("IRT_API_KEY", c.IRT.APIKey)
	c.IRT.Timeout = envutil.Duration("IRT_TIMEOUT", c.IRT.Timeout)
	c.IRT.MaxRetries = envutil.Int("IRT_MAX_RETRIES", c.IRT.MaxRetries)
	c.IRT.BreakerThreshold = envutil.Int("IRT_BREAKER_THRESHOLD", c.IRT.BreakerThreshold)
	c.IRT.BreakerCooldown = envutil.Duration("IRT_BREAKER_COOLDOWN", c.IRT.BreakerCooldown)
	c.IRT.ScheduleCron = envutil.String("IRT_SCHEDULE_CRON", c.IRT.ScheduleCron)
	c.IRT.LockTTL = envutil.Duration("IRT_LOCK_TTL", c.IRT.LockTTL)
	c.IRT.InFlightStale = envutil.Duration("IRT_INFLIGHT_STALE", c.IRT.InFlightStale)
	c.IRT.WorkerConcurrency = envutil.Int("IRT_WORKER_CONCURRENCY", c.IRT.WorkerConcurrency)

	c.Scoring.WorkerConcurrency = envutil.Int("SCORING_WORKER_CONCURRENCY", c.Scoring.WorkerConcurrency)
	c.Scoring.RatePerSec = envutil.Float("SCORING_RATE_PER_SEC", c.Scoring.RatePerSec)

	c.Queue.MaxAttempts = envutil.Int("QUEUE_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.BackoffBase = envutil.Duration("QUEUE_BACKOFF_BASE", c.Queue.BackoffBase)
	c.Queue.PollInterval = envutil.Duration("QUEUE_POLL_INTERVAL", c.Queue.PollInterval)
	c.Queue.LeaseTTL = envutil.Duration("QUEUE_LEASE_TTL", c.Queue.LeaseTTL)

	c.OTel.Enabled = envutil.Bool("OTEL_ENABLED", c.OTel.Enabled)
	c.OTel.ServiceName = envutil.String("OTEL_SERVICE_NAME", c.OTel.ServiceName)
	c.OTel.Environment = envutil.String("OTEL_ENVIRONMENT", c.OTel.Environment)
	c.OTel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTel.Endpoint)
	c.OTel.Headers = envutil.String("OTEL_EXPORTER_OTLP_HEADERS", c.OTel.Headers)
	c.OTel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", c.OTel.Insecure)
	c.OTel.SampleRatio = envutil.Float("OTEL_SAMPLE_RATIO", c.OTel.SampleRatio)

	c.WorkersEnabled = envutil.Bool("WORKERS_ENABLED", c.WorkersEnabled)
	c.SchedulerEnabled = envutil.Bool("SCHEDULER_ENABLED", c.SchedulerEnabled)
}

// Validate rejects configurations that would misbehave at runtime rather
// than at startup.
func (c Config) Validate() error {
	var errs []error
	schedule, err := scheduler.ParseSchedule(c.IRT.ScheduleCron)
	if err != nil {
		errs = append(errs, err)
	} else if tick := scheduler.MinInterval(schedule, time.Now().UTC()); tick > 0 && c.IRT.LockTTL >= tick {
		errs = append(errs, fmt.Errorf("IRT_LOCK_TTL %s must be shorter than the scheduler tick %s", c.IRT.LockTTL, tick))
	}
	if c.IRT.LockTTL <= 0 {
		errs = append(errs, errors.New("IRT_LOCK_TTL must be positive"))
	}
	if c.IRT.Timeout <= 0 {
		errs = append(errs, errors.New("IRT_TIMEOUT must be positive"))
	}
	if c.IRT.WorkerConcurrency < 1 || c.Scoring.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("worker concurrency must be at least 1"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Queue.LeaseTTL <= 0 || c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("QUEUE_LEASE_TTL and QUEUE_POLL_INTERVAL must be positive"))
	} else if budget := c.irtConfig().CallBudget(); c.Queue.LeaseTTL <= budget {
		errs = append(errs, fmt.Errorf("QUEUE_LEASE_TTL %s must exceed the IRT call budget %s ((IRT_MAX_RETRIES+1) x (IRT_TIMEOUT + backoff))", c.Queue.LeaseTTL, budget))
	}
	return errors.Join(errs...)
}

func (c Config) postgresConfig() db.PostgresConfig {
	p := c.Postgres
	return db.PostgresConfig{
		DSN:             p.DSN,
		Host:            p.Host,
		Port:            p.Port,
		User:            p.User,
		Password:        p.Password,
		Name:            p.Name,
		SSLMode:         p.SSLMode,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
	}
}

func (c Config) redisConfig() redis.Config {
	return redis.Config{URL: c.Redis.URL, Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB}
}

func (c Config) irtConfig() irt.Config {
	return irt.Config{
		BaseURL:          c.IRT.APIURL,
		APIKey:           c.IRT.APIKey,
		Timeout:          c.IRT.Timeout,
		MaxRetries:       c.IRT.MaxRetries,
		BreakerThreshold: c.IRT.BreakerThreshold,
		BreakerCooldown:  c.IRT.BreakerCooldown,
	}
}

// leaseHeartbeat renews a running job's lease three times per TTL.
func (c Config) leaseHeartbeat() time.Duration {
	return c.Queue.LeaseTTL / 3
}

func (c Config) queueOptions() queue.Options {
	return queue.Options{
		MaxAttempts: c.Queue.MaxAttempts,
		BackoffBase: c.Queue.BackoffBase,
		LeaseTTL:    c.Queue.LeaseTTL,
	}
}

func (c Config) otelConfig() observability.OtelConfig {
	return observability.OtelConfig{
		Enabled:     c.OTel.Enabled,
		ServiceName: c.OTel.ServiceName,
		Environment: c.OTel.Environment,
		Version:     c.Version,
		Endpoint:    c.OTel.Endpoint,
		Headers:     observability.ParseHeaders(c.OTel.Headers),
		Insecure:    c.OTel.Insecure,
		SampleRatio: c.OTel.SampleRatio,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
