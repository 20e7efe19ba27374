// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Bus, Kafka, Postgres, Redis, the candidate stores, Search,
// Curation, Gateway, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bus      BusConfig      `yaml:"bus"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Elastic  ElasticConfig  `yaml:"elastic"`
	Meili    MeiliConfig    `yaml:"meili"`
	Bleve    BleveConfig    `yaml:"bleve"`
	Search   SearchConfig   `yaml:"search"`
	Curation CurationConfig `yaml:"curation"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings shared by every binary.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SP_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"SP_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"SP_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SP_SERVER_SHUTDOWN_TIMEOUT"`
}

// BusConfig selects the message bus implementation.
type BusConfig struct {
	// Driver is "kafka" or "memory". The memory bus only connects stages
	// running in the same process.
	Driver            string        `yaml:"driver" env:"SP_BUS_DRIVER"`
	RedeliveryTimeout time.Duration `yaml:"redeliveryTimeout" env:"SP_BUS_REDELIVERY_TIMEOUT"`
}

// KafkaConfig holds Kafka broker, topic and consumer-group settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers" env:"SP_KAFKA_BROKERS"`
	Topics  KafkaTopics `yaml:"topics"`
	Groups  KafkaGroups `yaml:"groups"`
	// PerInstanceGatewayGroup suffixes the gateway group with a random id so
	// every gateway instance sees every terminal message.
	PerInstanceGatewayGroup bool `yaml:"perInstanceGatewayGroup" env:"SP_KAFKA_PER_INSTANCE_GATEWAY_GROUP"`
}

// KafkaTopics maps the pipeline hops to topic names.
type KafkaTopics struct {
	Entry     string `yaml:"entry" env:"SP_KAFKA_TOPIC_ENTRY"`
	Mid       string `yaml:"mid" env:"SP_KAFKA_TOPIC_MID"`
	Terminal  string `yaml:"terminal" env:"SP_KAFKA_TOPIC_TERMINAL"`
	Analytics string `yaml:"analytics" env:"SP_KAFKA_TOPIC_ANALYTICS"`
}

// KafkaGroups names the shared subscription of each consumer.
type KafkaGroups struct {
	Search    string `yaml:"search" env:"SP_KAFKA_GROUP_SEARCH"`
	Curation  string `yaml:"curation" env:"SP_KAFKA_GROUP_CURATION"`
	Gateway   string `yaml:"gateway" env:"SP_KAFKA_GROUP_GATEWAY"`
	Analytics string `yaml:"analytics" env:"SP_KAFKA_GROUP_ANALYTICS"`
}

// PostgresConfig holds PostgreSQL connection parameters for the metadata store.
type PostgresConfig struct {
	// Driver is the database/sql driver name: "postgres" (lib/pq) or "pgx".
	Driver          string        `yaml:"driver" env:"SP_POSTGRES_DRIVER"`
	Host            string        `yaml:"host" env:"SP_POSTGRES_HOST"`
	Port            int           `yaml:"port" env:"SP_POSTGRES_PORT"`
	Database        string        `yaml:"database" env:"SP_POSTGRES_DATABASE"`
	User            string        `yaml:"user" env:"SP_POSTGRES_USER"`
	Password        string        `yaml:"password" env:"SP_POSTGRES_PASSWORD"`
	SSLMode         string        `yaml:"sslMode" env:"SP_POSTGRES_SSLMODE"`
	MaxOpenConns    int           `yaml:"maxOpenConns" env:"SP_POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"maxIdleConns" env:"SP_POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" env:"SP_POSTGRES_CONN_MAX_LIFETIME"`
	Table           string        `yaml:"table" env:"SP_POSTGRES_TABLE"`
}

// DSN returns a keyword/value data source name understood by both lib/pq
// and pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"SP_REDIS_ENABLED"`
	Addr     string        `yaml:"addr" env:"SP_REDIS_ADDR"`
	Password string        `yaml:"password" env:"SP_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"SP_REDIS_DB"`
	PoolSize int           `yaml:"poolSize" env:"SP_REDIS_POOL_SIZE"`
	CacheTTL time.Duration `yaml:"cacheTTL" env:"SP_REDIS_CACHE_TTL"`
}

// ElasticConfig points at an Elasticsearch cluster.
type ElasticConfig struct {
	Addresses []string `yaml:"addresses" env:"SP_ELASTIC_ADDRESSES"`
	Username  string   `yaml:"username" env:"SP_ELASTIC_USERNAME"`
	Password  string   `yaml:"password" env:"SP_ELASTIC_PASSWORD"`
}

// MeiliConfig points at a Meilisearch instance.
type MeiliConfig struct {
	URL    string `yaml:"url" env:"SP_MEILI_URL"`
	APIKey string `yaml:"apiKey" env:"SP_MEILI_API_KEY"`
}

// BleveConfig locates on-disk Bleve indexes, one directory per index name.
type BleveConfig struct {
	DataDir string `yaml:"dataDir" env:"SP_BLEVE_DATA_DIR"`
}

// SearchConfig controls the search stage.
type SearchConfig struct {
	Backend      string            `yaml:"backend" env:"SP_SEARCH_BACKEND"`
	DefaultIndex string            `yaml:"defaultIndex" env:"SP_SEARCH_DEFAULT_INDEX"`
	Field        string            `yaml:"field" env:"SP_SEARCH_FIELD"`
	MatchMode    string            `yaml:"matchMode" env:"SP_SEARCH_MATCH_MODE"`
	Limit        int               `yaml:"limit" env:"SP_SEARCH_LIMIT"`
	Timeout      time.Duration     `yaml:"timeout" env:"SP_SEARCH_TIMEOUT"`
	SiteIndexes  map[string]string `yaml:"siteIndexes" env:"SP_SEARCH_SITE_INDEXES"`
	Breaker      BreakerConfig     `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker placed in front of a store.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold" env:"SP_BREAKER_FAILURE_THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"resetTimeout" env:"SP_BREAKER_RESET_TIMEOUT"`
}

// CurationConfig controls the curation stage.
type CurationConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"SP_CURATION_TIMEOUT"`
}

// GatewayConfig controls the client-facing gateway.
type GatewayConfig struct {
	Port              int      `yaml:"port" env:"SP_GATEWAY_PORT"`
	Loopback          bool     `yaml:"loopback" env:"SP_GATEWAY_LOOPBACK"`
	LoopbackCount     int      `yaml:"loopbackCount" env:"SP_GATEWAY_LOOPBACK_COUNT"`
	LoopbackLink      string   `yaml:"loopbackLink" env:"SP_GATEWAY_LOOPBACK_LINK"`
	MaxTextLength     int      `yaml:"maxTextLength" env:"SP_GATEWAY_MAX_TEXT_LENGTH"`
	RequestEvent      string   `yaml:"requestEvent" env:"SP_GATEWAY_REQUEST_EVENT"`
	ResponseEvent     string   `yaml:"responseEvent" env:"SP_GATEWAY_RESPONSE_EVENT"`
	AllowOrigins      []string `yaml:"allowOrigins" env:"SP_GATEWAY_ALLOW_ORIGINS"`
	RequestsPerMinute int      `yaml:"requestsPerMinute" env:"SP_GATEWAY_REQUESTS_PER_MINUTE"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SP_LOGGING_LEVEL"`
	Format string `yaml:"format" env:"SP_LOGGING_FORMAT"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"SP_METRICS_ENABLED"`
	Port    int  `yaml:"port" env:"SP_METRICS_PORT"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used for local development. Topic names
// and search defaults match the deployed pipeline.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Bus: BusConfig{
			Driver:            "kafka",
			RedeliveryTimeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				Entry:     "suggest-topic",
				Mid:       "curate-topic",
				Terminal:  "suggestions-topic",
				Analytics: "latency-topic",
			},
			Groups: KafkaGroups{
				Search:    "search-stage",
				Curation:  "curation-stage",
				Gateway:   "gateway",
				Analytics: "latency-aggregator",
			},
		},
		Postgres: PostgresConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "suggestions",
			User:            "suggestions",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Table:           "questions",
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Elastic: ElasticConfig{
			Addresses: []string{"http://localhost:9200"},
		},
		Meili: MeiliConfig{
			URL: "http://localhost:7700",
		},
		Bleve: BleveConfig{
			DataDir: "data/bleve",
		},
		Search: SearchConfig{
			Backend:      "elastic",
			DefaultIndex: "so-questions",
			Field:        "body",
			MatchMode:    "match",
			Limit:        10,
			Timeout:      2 * time.Second,
			SiteIndexes:  map[string]string{},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Curation: CurationConfig{
			Timeout: 2 * time.Second,
		},
		Gateway: GatewayConfig{
			Port:              8082,
			LoopbackCount:     10,
			LoopbackLink:      "https://google.com",
			MaxTextLength:     2048,
			RequestEvent:      "get-suggestions",
			ResponseEvent:     "suggestions-list",
			AllowOrigins:      []string{"*"},
			RequestsPerMinute: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// ValidateBus checks the settings every bus-attached binary needs.
func (c *Config) ValidateBus() error {
	var errs []error
	switch c.Bus.Driver {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is empty; set SP_KAFKA_BROKERS"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("bus.driver %q must be kafka or memory", c.Bus.Driver))
	}
	t := c.Kafka.Topics
	if t.Entry == "" || t.Mid == "" || t.Terminal == "" {
		errs = append(errs, errors.New("kafka.topics entry, mid and terminal are required"))
	}
	return errors.Join(errs...)
}

// ValidateSearch checks the search stage settings.
func (c *Config) ValidateSearch() error {
	var errs []error
	if strings.TrimSpace(c.Search.DefaultIndex) == "" {
		errs = append(errs, errors.New("search.defaultIndex is empty; set SP_SEARCH_DEFAULT_INDEX"))
	}
	if c.Search.Field == "" {
		errs = append(errs, errors.New("search.field is required"))
	}
	switch c.Search.MatchMode {
	case "match", "mlt":
	default:
		errs = append(errs, fmt.Errorf("search.matchMode %q must be match or mlt", c.Search.MatchMode))
	}
	switch c.Search.Backend {
	case "elastic":
		if len(c.Elastic.Addresses) == 0 {
			errs = append(errs, errors.New("elastic.addresses is empty; set SP_ELASTIC_ADDRESSES"))
		}
	case "meili":
		if c.Meili.URL == "" {
			errs = append(errs, errors.New("meili.url is empty; set SP_MEILI_URL"))
		}
	case "bleve":
		if c.Bleve.DataDir == "" {
			errs = append(errs, errors.New("bleve.dataDir is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("search.backend %q must be elastic, bleve or meili", c.Search.Backend))
	}
	if c.Search.Limit <= 0 {
		errs = append(errs, errors.New("search.limit must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateCuration checks the curation stage and its metadata database.
func (c *Config) ValidateCuration() error {
	var errs []error
	switch c.Postgres.Driver {
	case "postgres", "pq", "pgx":
	default:
		errs = append(errs, fmt.Errorf("postgres.driver %q must be postgres or pgx", c.Postgres.Driver))
	}
	if c.Postgres.Host == "" || c.Postgres.Database == "" {
		errs = append(errs, errors.New("postgres.host and postgres.database are required"))
	}
	if c.Postgres.Table == "" {
		errs = append(errs, errors.New("postgres.table is required"))
	}
	if c.Curation.Timeout <= 0 {
		errs = append(errs, errors.New("curation.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateGateway checks the gateway settings.
func (c *Config) ValidateGateway() error {
	var errs []error
	if c.Gateway.RequestEvent == "" || c.Gateway.ResponseEvent == "" {
		errs = append(errs, errors.New("gateway.requestEvent and gateway.responseEvent are required"))
	}
	if c.Gateway.MaxTextLength < 0 {
		errs = append(errs, errors.New("gateway.maxTextLength must not be negative"))
	}
	if c.Gateway.Loopback && c.Gateway.LoopbackCount <= 0 {
		errs = append(errs, errors.New("gateway.loopbackCount must be positive in loopback mode"))
	}
	return errors.Join(errs...)
}
