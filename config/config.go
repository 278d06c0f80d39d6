package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string        `mapstructure:"app_name"`
	Version                       string        `mapstructure:"app_version"`
	Port                          int           `mapstructure:"port"`
	LogLevel                      string        `mapstructure:"log_level"`
	PrettyLogs                    bool          `mapstructure:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int           `mapstructure:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int           `mapstructure:"http_server_read_timeout_seconds"`
	HttpServerIdleTimeoutSeconds  int           `mapstructure:"http_server_idle_timeout_seconds"`
	AllowOrigins                  []string      `mapstructure:"http_server_allow_origins"`
	StartupMaxAttempts            int           `mapstructure:"startup_max_attempts"`
	ShutdownTimeout               time.Duration `mapstructure:"shutdown_timeout"`

	// Store
	StoreDriver string `mapstructure:"store_driver"` // memory | postgres

	// PostgreSQL
	DatabaseHost                  string        `mapstructure:"db_host"`
	DatabasePort                  string        `mapstructure:"db_port"`
	DatabaseUserName              string        `mapstructure:"db_user_name"`
	DatabasePassword              string        `mapstructure:"db_password"`
	DatabaseName                  string        `mapstructure:"db_name"`
	DatabaseSSLMode               string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns          int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns          int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath   string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      int           `mapstructure:"db_migration_version"`
	DatabaseMigrationForce        int           `mapstructure:"db_migration_force"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"db_migration_auto_rollback"`

	// Redis (distributed blocking key lock)
	RedisEnabled  bool          `mapstructure:"redis_enabled"`
	RedisHost     string        `mapstructure:"redis_host"`
	RedisPort     int           `mapstructure:"redis_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`

	// Graph projection (Memgraph/Neo4j)
	GraphEnabled    bool   `mapstructure:"graph_enabled"`
	GraphDBHost     string `mapstructure:"graph_db_host"`
	GraphDBPort     int    `mapstructure:"graph_db_port"`
	GraphDBUser     string `mapstructure:"graph_db_user"`
	GraphDBPassword string `mapstructure:"graph_db_password"`

	// Kafka
	KafkaBrokers         []string `mapstructure:"kafka_brokers"`
	KafkaConsumerEnabled bool     `mapstructure:"kafka_consumer_enabled"`
	KafkaIngestTopic     string   `mapstructure:"kafka_ingest_topic"`
	KafkaConsumerGroup   string   `mapstructure:"kafka_consumer_group"`
	KafkaProducerEnabled bool     `mapstructure:"kafka_producer_enabled"`
	KafkaProgressTopic   string   `mapstructure:"kafka_progress_topic"`
	KafkaBatchSize       int      `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeoutMs  int      `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks    int      `mapstructure:"kafka_required_acks"`
	KafkaCompression     string   `mapstructure:"kafka_compression"`

	// Tracing
	OtelEnabled  bool   `mapstructure:"otel_enabled"`
	OtelEndpoint string `mapstructure:"otel_endpoint"`
	OtelProtocol string `mapstructure:"otel_protocol"`
	OtelInsecure bool   `mapstructure:"otel_insecure"`

	// Matching
	NameWeight         float64 `mapstructure:"match_name_weight"`
	BirthDateWeight    float64 `mapstructure:"match_birth_date_weight"`
	BirthPlaceWeight   float64 `mapstructure:"match_birth_place_weight"`
	BirthCountryWeight float64 `mapstructure:"match_birth_country_weight"`
	AutoMergeThreshold float64 `mapstructure:"auto_merge_threshold"`
	ReviewThreshold    float64 `mapstructure:"review_threshold"`
	DateProximityYears int     `mapstructure:"date_proximity_years"`
	NeutralScore       float64 `mapstructure:"match_neutral_score"`
	ResolveMaxRetries  int     `mapstructure:"resolve_max_retries"`

	// Pipeline
	PipelineWorkerCount int `mapstructure:"pipeline_worker_count"`
	PipelineQueueSize   int `mapstructure:"pipeline_queue_size"`

	// Leads
	LeadMinScore        int    `mapstructure:"lead_min_score"`
	LeadAncestorCountry string `mapstructure:"lead_ancestor_country"`
	DestinationCountry  string `mapstructure:"destination_country"`
	SampleDataDir       string `mapstructure:"sample_data_dir"`
}

var defaults = map[string]any{
	"app_name":                          "rowan-api",
	"app_version":                       "dev",
	"port":                              3005,
	"log_level":                         "info",
	"pretty_logs":                       false,
	"http_server_write_timeout_seconds": 10,
	"http_server_read_timeout_seconds":  10,
	"http_server_idle_timeout_seconds":  10,
	"http_server_allow_origins":         []string{"*"},
	"startup_max_attempts":              5,
	"shutdown_timeout":                  "15s",

	"store_driver": "postgres",

	"db_host":                    "localhost",
	"db_port":                    "5432",
	"db_user_name":               "",
	"db_password":                "",
	"db_name":                    "rowan",
	"db_ssl_mode":                "disable",
	"db_max_open_conns":          25,
	"db_max_idle_conns":          10,
	"db_conn_max_lifetime":       "10m",
	"db_migration_folder_path":   "db/pg",
	"db_migration_version":       0,
	"db_migration_force":         0,
	"db_migration_auto_rollback": true,

	"redis_enabled":  false,
	"redis_host":     "localhost",
	"redis_port":     6379,
	"redis_password": "",
	"redis_db":       0,
	"lock_ttl":       "30s",
	"lock_timeout":   "10s",

	"graph_enabled":     false,
	"graph_db_host":     "localhost",
	"graph_db_port":     7687,
	"graph_db_user":     "",
	"graph_db_password": "",

	"kafka_brokers":          []string{"localhost:9092"},
	"kafka_consumer_enabled": false,
	"kafka_ingest_topic":     "genealogy-records",
	"kafka_consumer_group":   "rowan-ingest",
	"kafka_producer_enabled": false,
	"kafka_progress_topic":   "pipeline-progress",
	"kafka_batch_size":       100,
	"kafka_batch_timeout_ms": 100,
	"kafka_required_acks":    1,
	"kafka_compression":      "snappy",

	"otel_enabled":  false,
	"otel_endpoint": "localhost:4317",
	"otel_protocol": "grpc",
	"otel_insecure": true,

	"match_name_weight":          0.40,
	"match_birth_date_weight":    0.30,
	"match_birth_place_weight":   0.20,
	"match_birth_country_weight": 0.10,
	"auto_merge_threshold":       0.90,
	"review_threshold":           0.70,
	"date_proximity_years":       2,
	"match_neutral_score":        0.5,
	"resolve_max_retries":        3,

	"pipeline_worker_count": 4,
	"pipeline_queue_size":   100,

	"lead_min_score":        70,
	"lead_ancestor_country": "Germany",
	"destination_country":   "United States",
	"sample_data_dir":       "sample_data",
}

// Load reads an optional .env file and the process environment
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent matching and pipeline settings
func (c *Config) Validate() error {
	var errs []error

	weights := []float64{c.NameWeight, c.BirthDateWeight, c.BirthPlaceWeight, c.BirthCountryWeight}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("match weights must not be negative, got %v", w))
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("match weights must sum to 1, got %.4f", sum))
	}
	for name, t := range map[string]float64{
		"auto_merge_threshold": c.AutoMergeThreshold,
		"review_threshold":     c.ReviewThreshold,
		"match_neutral_score":  c.NeutralScore,
	} {
		if t < 0 || t > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, t))
		}
	}
	if c.ReviewThreshold > c.AutoMergeThreshold {
		errs = append(errs, errors.New("review_threshold must not exceed auto_merge_threshold"))
	}
	if c.DateProximityYears <= 0 {
		errs = append(errs, errors.New("date_proximity_years must be positive"))
	}
	if c.StoreDriver != "memory" && c.StoreDriver != "postgres" {
		errs = append(errs, fmt.Errorf("store_driver must be memory or postgres, got %q", c.StoreDriver))
	}

	return errors.Join(errs...)
}
