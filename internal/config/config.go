package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Worker    WorkerConfig    `yaml:"worker"`
	Events    EventsConfig    `yaml:"events"`
	Mail      MailConfig      `yaml:"mail"`
	Log       LogConfig       `yaml:"log"`
	Migration MigrationConfig `yaml:"migration"`
}

type PostgresConfig struct {
	AppName  string `yaml:"app_name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

func (c PostgresConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: fmt.Sprintf("sslmode=%s", sslmode),
	}
	return u.String()
}

type RedisConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

func (c RabbitMQConfig) URL() string {
	u := &url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + strings.TrimPrefix(c.VHost, "/"),
	}
	return u.String()
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// WorkerConfig controls the consuming side. Transport is "redis" or "rabbitmq".
type WorkerConfig struct {
	Transport       string `yaml:"transport"`
	Workers         int    `yaml:"workers"`
	PrefetchCount   int    `yaml:"prefetch_count"`
	CallTimeoutSecs int    `yaml:"call_timeout_secs"`
	Stream          string `yaml:"stream"`
	Group           string `yaml:"group"`
	DLQ             string `yaml:"dlq"`
	Queue           string `yaml:"queue"`
	ConsumerName    string `yaml:"consumer_name"`
}

type EventsConfig struct {
	Stream         string `yaml:"stream"`
	StreamMaxLen   int64  `yaml:"stream_max_len"`
	StreamEnabled  bool   `yaml:"stream_enabled"`
	AuditEnabled   bool   `yaml:"audit_enabled"`
	ArchiveEnabled bool   `yaml:"archive_enabled"`
}

// MailConfig drives mailer jobs. SendLimit of 0 disables per-domain
// throttling.
type MailConfig struct {
	From           string `yaml:"from"`
	BaseURL        string `yaml:"base_url"`
	SendLimit      int    `yaml:"send_limit"`
	SendWindowSecs int    `yaml:"send_window_secs"`
	SentTTLHours   int    `yaml:"sent_ttl_hours"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MigrationConfig struct {
	Path string `yaml:"path"`
}

const (
	TransportRedis    = "redis"
	TransportRabbitMQ = "rabbitmq"
)

const (
	defaultPostgresHost     = "localhost"
	defaultPostgresPort     = 5432
	defaultPostgresUser     = "nimbus"
	defaultPostgresDB       = "nimbus"
	defaultPostgresMaxConns = 20
	defaultRedisHost        = "localhost"
	defaultRedisPort        = 6379
	defaultRedisPoolSize    = 20
	defaultRabbitMQHost     = "localhost"
	defaultRabbitMQPort     = 5672
	defaultRabbitMQUser     = "guest"
	defaultRabbitMQPassword = "guest"
	defaultMinIOEndpoint    = "localhost:9000"
	defaultMinIOBucket      = "dispatch-rejected"
	defaultWorkers          = 4
	defaultPrefetchCount    = 10
	defaultCallTimeoutSecs  = 300
	defaultStream           = "stream:jobs"
	defaultGroup            = "dispatch-workers"
	defaultDLQ              = "stream:jobs:dlq"
	defaultQueue            = "jobs_queue"
	defaultEventsStream     = "stream:dispatch:events"
	defaultEventsMaxLen     = 10000
	defaultMailFrom         = "noreply@localhost"
	defaultSendWindowSecs   = 60
	defaultSentTTLHours     = 24
	defaultLogLevel         = "info"
	defaultMigrationPath    = "file://internal/database/migrations"
)

func LoadFromEnv() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Postgres.Host == "" {
		c.Postgres.Host = defaultPostgresHost
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = defaultPostgresPort
	}
	if c.Postgres.User == "" {
		c.Postgres.User = defaultPostgresUser
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = defaultPostgresDB
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = defaultPostgresMaxConns
	}
	if c.Redis.Host == "" {
		c.Redis.Host = defaultRedisHost
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = defaultRedisPort
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = defaultRedisPoolSize
	}
	if c.RabbitMQ.Host == "" {
		c.RabbitMQ.Host = defaultRabbitMQHost
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = defaultRabbitMQPort
	}
	if c.RabbitMQ.User == "" {
		c.RabbitMQ.User = defaultRabbitMQUser
	}
	if c.RabbitMQ.Password == "" {
		c.RabbitMQ.Password = defaultRabbitMQPassword
	}
	if c.MinIO.Endpoint == "" {
		c.MinIO.Endpoint = defaultMinIOEndpoint
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = defaultMinIOBucket
	}
	if c.Worker.Transport == "" {
		c.Worker.Transport = TransportRedis
	}
	if c.Worker.Workers == 0 {
		c.Worker.Workers = defaultWorkers
	}
	if c.Worker.PrefetchCount == 0 {
		c.Worker.PrefetchCount = defaultPrefetchCount
	}
	if c.Worker.CallTimeoutSecs == 0 {
		c.Worker.CallTimeoutSecs = defaultCallTimeoutSecs
	}
	if c.Worker.Stream == "" {
		c.Worker.Stream = defaultStream
	}
	if c.Worker.Group == "" {
		c.Worker.Group = defaultGroup
	}
	if c.Worker.DLQ == "" {
		c.Worker.DLQ = defaultDLQ
	}
	if c.Worker.Queue == "" {
		c.Worker.Queue = defaultQueue
	}
	if c.Events.Stream == "" {
		c.Events.Stream = defaultEventsStream
	}
	if c.Events.StreamMaxLen == 0 {
		c.Events.StreamMaxLen = defaultEventsMaxLen
	}
	if c.Mail.From == "" {
		c.Mail.From = defaultMailFrom
	}
	if c.Mail.SendWindowSecs == 0 {
		c.Mail.SendWindowSecs = defaultSendWindowSecs
	}
	if c.Mail.SentTTLHours == 0 {
		c.Mail.SentTTLHours = defaultSentTTLHours
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Migration.Path == "" {
		c.Migration.Path = defaultMigrationPath
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate rejects settings the worker cannot start with.
func (c *Config) Validate() error {
	switch c.Worker.Transport {
	case TransportRedis, TransportRabbitMQ:
	default:
		return fmt.Errorf("unknown worker transport %q", c.Worker.Transport)
	}
	if c.Worker.Workers < 1 {
		return fmt.Errorf("worker.workers must be positive, got %d", c.Worker.Workers)
	}
	if c.Mail.SendLimit < 0 {
		return fmt.Errorf("mail.send_limit must not be negative, got %d", c.Mail.SendLimit)
	}
	if c.Worker.CallTimeoutSecs < 0 {
		return fmt.Errorf("worker.call_timeout_secs must not be negative, got %d", c.Worker.CallTimeoutSecs)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Postgres.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_SSLMODE"); v != "" {
		c.Postgres.SSLMode = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("RABBITMQ_HOST"); v != "" {
		c.RabbitMQ.Host = v
	}
	if v := os.Getenv("RABBITMQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.RabbitMQ.Port = p
		}
	}
	if v := os.Getenv("RABBITMQ_USER"); v != "" {
		c.RabbitMQ.User = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.MinIO.SecretKey = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		c.MinIO.UseSSL = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		c.MinIO.Bucket = v
	}
	if v := os.Getenv("WORKER_TRANSPORT"); v != "" {
		c.Worker.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if w, err := strconv.Atoi(v); err == nil {
			c.Worker.Workers = w
		}
	}
	if v := os.Getenv("WORKER_CALL_TIMEOUT_SECS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			c.Worker.CallTimeoutSecs = s
		}
	}
	if v := os.Getenv("WORKER_STREAM"); v != "" {
		c.Worker.Stream = v
	}
	if v := os.Getenv("WORKER_GROUP"); v != "" {
		c.Worker.Group = v
	}
	if v := os.Getenv("WORKER_CONSUMER_NAME"); v != "" {
		c.Worker.ConsumerName = v
	}
	if v := os.Getenv("EVENTS_STREAM_ENABLED"); v != "" {
		c.Events.StreamEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EVENTS_AUDIT_ENABLED"); v != "" {
		c.Events.AuditEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EVENTS_ARCHIVE_ENABLED"); v != "" {
		c.Events.ArchiveEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		c.Mail.From = v
	}
	if v := os.Getenv("MAIL_BASE_URL"); v != "" {
		c.Mail.BaseURL = v
	}
	if v := os.Getenv("MAIL_SEND_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Mail.SendLimit = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MIGRATION_PATH"); v != "" {
		c.Migration.Path = v
	}
}
