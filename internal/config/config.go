package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"entitysync/internal/canonical"
	"entitysync/internal/retry"
)

const EnvPrefix = "PIPELINE"

// Broker client implementations.
const (
	BrokerKafkaGo   = "kafka-go"
	BrokerConfluent = "confluent"
	BrokerFile      = "file"
)

type Config struct {
	App     AppConfig
	Kafka   KafkaConfig
	DB      DBConfig
	Retry   RetryConfig
	Batch   BatchConfig
	Workers WorkersConfig
	Ops     OpsConfig
}

// Load reads the full configuration; the database settings are required.
func Load() (*Config, error) { return load(true) }

// LoadWithoutDB is Load for tools that never touch the database.
func LoadWithoutDB() (*Config, error) { return load(false) }

func load(requireDB bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if requireDB {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	LogLevel     string `envconfig:"PIPELINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PIPELINE_LOG_WARN_STACK" default:"false"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"PIPELINE_KAFKA_BROKERS" default:"localhost:9092"`
	Client        string   `envconfig:"PIPELINE_BROKER_CLIENT" default:"kafka-go"`
	TopicPrefix   string   `envconfig:"PIPELINE_TOPIC_PREFIX"`
	ConsumerGroup string   `envconfig:"PIPELINE_CONSUMER_GROUP" default:"entity-sync"`
	FileSinkDir   string   `envconfig:"PIPELINE_FILE_SINK_DIR" default:"./channels"`
}

// BrokerList returns the trimmed, non-empty broker addresses.
func (k KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, b := range k.Brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	return brokers
}

type DBConfig struct {
	DSN string `envconfig:"PIPELINE_DB_DSN"`

	Host     string `envconfig:"PIPELINE_DB_HOST"`
	Port     int    `envconfig:"PIPELINE_DB_PORT" default:"5432"`
	User     string `envconfig:"PIPELINE_DB_USER"`
	Password string `envconfig:"PIPELINE_DB_PASSWORD"`
	Name     string `envconfig:"PIPELINE_DB_NAME"`
	SSLMode  string `envconfig:"PIPELINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PIPELINE_DB_MAX_OPEN_CONNS" default:"6"`
	MaxIdleConns    int           `envconfig:"PIPELINE_DB_MAX_IDLE_CONNS" default:"3"`
	ConnMaxLifetime time.Duration `envconfig:"PIPELINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PIPELINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	AutoMigrate     bool          `envconfig:"PIPELINE_DB_AUTO_MIGRATE" default:"true"`
}

type RetryConfig struct {
	MaxAttempts int           `envconfig:"PIPELINE_RETRY_MAX_ATTEMPTS" default:"10"`
	Interval    time.Duration `envconfig:"PIPELINE_RETRY_INTERVAL" default:"10s"`
	Jitter      time.Duration `envconfig:"PIPELINE_RETRY_JITTER" default:"0s"`
}

// Policy is the connection/publish retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, Interval: r.Interval, Jitter: r.Jitter}
}

type BatchConfig struct {
	Size               int           `envconfig:"PIPELINE_BATCH_SIZE" default:"500"`
	Window             time.Duration `envconfig:"PIPELINE_BATCH_WINDOW" default:"5s"`
	WriteTimeout       time.Duration `envconfig:"PIPELINE_WRITE_TIMEOUT" default:"30s"`
	WriteMaxAttempts   int           `envconfig:"PIPELINE_WRITE_MAX_ATTEMPTS" default:"5"`
	WriteRetryInterval time.Duration `envconfig:"PIPELINE_WRITE_RETRY_INTERVAL" default:"2s"`
}

// WritePolicy is the per-batch store write retry policy.
func (b BatchConfig) WritePolicy() retry.Policy {
	return retry.Policy{MaxAttempts: b.WriteMaxAttempts, Interval: b.WriteRetryInterval}
}

type WorkersConfig struct {
	Kinds []string `envconfig:"PIPELINE_WORKER_KINDS" default:"products,carts,users"`
}

// ParsedKinds resolves the configured kinds, dropping duplicates.
func (w WorkersConfig) ParsedKinds() ([]canonical.Kind, error) {
	seen := map[canonical.Kind]struct{}{}
	var kinds []canonical.Kind
	for _, raw := range w.Kinds {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		kind, err := canonical.ParseKind(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%s_WORKER_KINDS selects no entity kind", EnvPrefix)
	}
	return kinds, nil
}

type OpsConfig struct {
	MetricsAddr   string `envconfig:"PIPELINE_METRICS_ADDR" default:":8080"`
	DeadLetterDir string `envconfig:"PIPELINE_DEADLETTER_DIR" default:"./data/deadletter"`
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Batch.Size <= 0 {
		problems = append(problems, "batch size must be positive")
	}
	if c.Batch.Window <= 0 {
		problems = append(problems, "batch window must be positive")
	}
	if c.Batch.WriteTimeout <= 0 {
		problems = append(problems, "write timeout must be positive")
	}
	if c.Batch.WriteMaxAttempts < 1 {
		problems = append(problems, "write attempts must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry attempts must be at least 1")
	}
	if c.Retry.Interval < 0 || c.Retry.Jitter < 0 {
		problems = append(problems, "retry interval and jitter must not be negative")
	}
	switch c.Kafka.Client {
	case BrokerKafkaGo, BrokerConfluent, BrokerFile:
	default:
		problems = append(problems, fmt.Sprintf("unknown broker client %q", c.Kafka.Client))
	}
	if c.Kafka.Client != BrokerFile && len(c.Kafka.BrokerList()) == 0 {
		problems = append(problems, "at least one kafka broker is required")
	}
	if _, err := c.Workers.ParsedKinds(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	for env, value := range map[string]string{
		"PIPELINE_DB_HOST": db.Host,
		"PIPELINE_DB_USER": db.User,
		"PIPELINE_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("either PIPELINE_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}
	db.DSN = u.String()
	return nil
}
