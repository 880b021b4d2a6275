package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/activitylog-backend/internal/data/db"
	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/data/repos/backlog"
	"github.com/yungbote/activitylog-backend/internal/dispatch"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/envutil"
	"github.com/yungbote/activitylog-backend/internal/platform/redisstream"
	"github.com/yungbote/activitylog-backend/internal/search"
)

// ConfigFileEnv names the optional YAML file whose values env vars override.
const ConfigFileEnv = "ACTIVITYLOG_CONFIG"

type PostgresConfig struct {
	DSN              string        `yaml:"dsn"`
	Host             string        `yaml:"host"`
	Port             string        `yaml:"port"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	Name             string        `yaml:"name"`
	MaxConns         int           `yaml:"max_conns"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	AutoMigrate      bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

type OpenSearchConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

type MirrorConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	QueueSize  int           `yaml:"queue_size"`
	BatchSize  int           `yaml:"batch_size"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type WriterConfig struct {
	RowsPerStatement   int `yaml:"rows_per_statement"`
	MaxDeadlockRetries int `yaml:"max_deadlock_retries"`
}

type BackfillConfig struct {
	Concurrency int           `yaml:"concurrency"`
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	QuietFrom   string        `yaml:"quiet_from"`
	QuietUntil  string        `yaml:"quiet_until"`
}

type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type Config struct {
	LogMode       string           `yaml:"log_mode"`
	TimestampZone string           `yaml:"timestamp_zone"`
	Postgres      PostgresConfig   `yaml:"postgres"`
	Redis         RedisConfig      `yaml:"redis"`
	OpenSearch    OpenSearchConfig `yaml:"opensearch"`
	Mirror        MirrorConfig     `yaml:"mirror"`
	HTTP          HTTPConfig       `yaml:"http"`
	Writer        WriterConfig     `yaml:"writer"`
	Backfill      BackfillConfig   `yaml:"backfill"`
	Otel          OtelConfig       `yaml:"otel"`

	zone *time.Location
}

func defaultConfig() Config {
	return Config{
		LogMode:       "development",
		TimestampZone: "Europe/Oslo",
		Postgres: PostgresConfig{
			Host:        "localhost",
			Port:        "5432",
			User:        "postgres",
			Name:        "activitylog",
			MaxConns:    10,
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Stream: "aktivitetslogg",
			Group:  "activitylog",
		},
		OpenSearch: OpenSearchConfig{Index: search.DefaultIndex},
		Mirror: MirrorConfig{
			MaxRetries: 10,
			RetryDelay: time.Second,
			QueueSize:  1024,
			BatchSize:  500,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Writer: WriterConfig{
			RowsPerStatement:   activitylog.DefaultRowsPerStatement,
			MaxDeadlockRetries: activitylog.DefaultMaxDeadlockRetries,
		},
		Backfill: BackfillConfig{
			Concurrency: 4,
			ClaimTTL:    time.Hour,
			MaxAttempts: 5,
			QuietFrom:   "05:00",
			QuietUntil:  "18:00",
		},
		Otel: OtelConfig{
			ServiceName: "activitylog",
			SampleRatio: 1,
		},
	}
}

// LoadConfig reads defaults, then the YAML file at path when path is set, then env vars.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogMode = envutil.String("LOG_MODE", c.LogMode)
	c.TimestampZone = envutil.String("TIMESTAMP_ZONE", c.TimestampZone)

	pg := &c.Postgres
	pg.DSN = envutil.String("POSTGRES_DSN", pg.DSN)
	pg.Host = envutil.String("POSTGRES_HOST", pg.Host)
	pg.Port = envutil.String("POSTGRES_PORT", pg.Port)
	pg.User = envutil.String("POSTGRES_USER", pg.User)
	pg.Password = envutil.String("POSTGRES_PASSWORD", pg.Password)
	pg.Name = envutil.String("POSTGRES_NAME", pg.Name)
	pg.MaxConns = envutil.Int("POSTGRES_MAX_CONNS", pg.MaxConns)
	pg.StatementTimeout = envutil.Duration("POSTGRES_STATEMENT_TIMEOUT", pg.StatementTimeout)
	pg.AutoMigrate = envutil.Bool("POSTGRES_AUTO_MIGRATE", pg.AutoMigrate)

	rd := &c.Redis
	rd.Addr = envutil.String("REDIS_ADDR", rd.Addr)
	rd.Stream = envutil.String("REDIS_STREAM", rd.Stream)
	rd.Group = envutil.String("REDIS_GROUP", rd.Group)
	rd.Consumer = envutil.String("REDIS_CONSUMER", rd.Consumer)

	sc := &c.OpenSearch
	sc.URL = envutil.String("OPENSEARCH_URL", sc.URL)
	sc.Username = envutil.String("OPENSEARCH_USERNAME", sc.Username)
	sc.Password = envutil.String("OPENSEARCH_PASSWORD", sc.Password)
	sc.Index = envutil.String("OPENSEARCH_INDEX", sc.Index)

	m := &c.Mirror
	m.MaxRetries = envutil.Int("MIRROR_MAX_RETRIES", m.MaxRetries)
	m.RetryDelay = envutil.Duration("MIRROR_RETRY_DELAY", m.RetryDelay)
	m.QueueSize = envutil.Int("MIRROR_QUEUE_SIZE", m.QueueSize)
	m.BatchSize = envutil.Int("MIRROR_BATCH_SIZE", m.BatchSize)

	c.HTTP.Addr = envutil.String("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.CORSOrigins = envutil.List("HTTP_CORS_ORIGINS", c.HTTP.CORSOrigins)

	c.Writer.RowsPerStatement = envutil.Int("WRITER_ROWS_PER_STATEMENT", c.Writer.RowsPerStatement)
	c.Writer.MaxDeadlockRetries = envutil.Int("WRITER_MAX_DEADLOCK_RETRIES", c.Writer.MaxDeadlockRetries)

	b := &c.Backfill
	b.Concurrency = envutil.Int("BACKFILL_CONCURRENCY", b.Concurrency)
	b.ClaimTTL = envutil.Duration("BACKFILL_CLAIM_TTL", b.ClaimTTL)
	b.MaxAttempts = envutil.Int("BACKFILL_MAX_ATTEMPTS", b.MaxAttempts)
	b.QuietFrom = envutil.String("BACKFILL_QUIET_FROM", b.QuietFrom)
	b.QuietUntil = envutil.String("BACKFILL_QUIET_UNTIL", b.QuietUntil)

	o := &c.Otel
	o.Enabled = envutil.Bool("OTEL_ENABLED", o.Enabled)
	o.ServiceName = envutil.String("OTEL_SERVICE_NAME", o.ServiceName)
	o.Environment = envutil.String("OTEL_ENVIRONMENT", o.Environment)
	o.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", o.Endpoint)
	o.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", o.Insecure)
	o.SampleRatio = envutil.Float("OTEL_SAMPLE_RATIO", o.SampleRatio)
}

func (c *Config) validate() error {
	zone, err := time.LoadLocation(c.TimestampZone)
	if err != nil {
		return fmt.Errorf("TIMESTAMP_ZONE: %w", err)
	}
	c.zone = zone
	if _, err := dispatch.ParseQuietHours(c.Backfill.QuietFrom, c.Backfill.QuietUntil, zone); err != nil {
		return fmt.Errorf("backfill quiet hours: %w", err)
	}
	if c.Backfill.Concurrency <= 0 {
		return errors.New("BACKFILL_CONCURRENCY must be positive")
	}
	if c.Writer.RowsPerStatement <= 0 {
		return errors.New("WRITER_ROWS_PER_STATEMENT must be positive")
	}
	return nil
}

// Zone is the location used for timestamps without an offset.
func (c Config) Zone() *time.Location {
	if c.zone == nil {
		return time.UTC
	}
	return c.zone
}

func (c Config) DBConfig() db.PostgresConfig {
	return db.PostgresConfig{
		DSN:              c.Postgres.DSN,
		Host:             c.Postgres.Host,
		Port:             c.Postgres.Port,
		User:             c.Postgres.User,
		Password:         c.Postgres.Password,
		Name:             c.Postgres.Name,
		MaxOpenConns:     c.Postgres.MaxConns,
		StatementTimeout: c.Postgres.StatementTimeout,
	}
}

func (c Config) WriterOptions() activitylog.Options {
	return activitylog.Options{
		RowsPerStatement:   c.Writer.RowsPerStatement,
		MaxDeadlockRetries: c.Writer.MaxDeadlockRetries,
	}
}

func (c Config) ClaimPolicy() backlog.ClaimPolicy {
	return backlog.ClaimPolicy{ClaimTTL: c.Backfill.ClaimTTL, MaxAttempts: c.Backfill.MaxAttempts}
}

func (c Config) Gate() (dispatch.Gate, error) {
	return dispatch.ParseQuietHours(c.Backfill.QuietFrom, c.Backfill.QuietUntil, c.Zone())
}

// MirrorEnabled reports whether a search index is configured.
func (c Config) MirrorEnabled() bool { return strings.TrimSpace(c.OpenSearch.URL) != "" }

func (c Config) SearchConfig() (search.OpenSearchConfig, search.MirrorConfig) {
	return search.OpenSearchConfig{
			URL:      c.OpenSearch.URL,
			Username: c.OpenSearch.Username,
			Password: c.OpenSearch.Password,
			Index:    c.OpenSearch.Index,
		}, search.MirrorConfig{
			MaxRetries: c.Mirror.MaxRetries,
			RetryDelay: c.Mirror.RetryDelay,
			QueueSize:  c.Mirror.QueueSize,
			BatchSize:  c.Mirror.BatchSize,
		}
}

func (c Config) StreamConfig() redisstream.Config {
	consumer := c.Redis.Consumer
	if consumer == "" {
		consumer, _ = os.Hostname()
	}
	return redisstream.Config{
		Addr:     c.Redis.Addr,
		Stream:   c.Redis.Stream,
		Group:    c.Redis.Group,
		Consumer: consumer,
	}
}

func (c Config) OtelSettings(version string) observability.OtelConfig {
	return observability.OtelConfig{
		Enabled:     c.Otel.Enabled,
		ServiceName: c.Otel.ServiceName,
		Environment: c.Otel.Environment,
		Version:     version,
		Endpoint:    c.Otel.Endpoint,
		Insecure:    c.Otel.Insecure,
		SampleRatio: c.Otel.SampleRatio,
	}
}
