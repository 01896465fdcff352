package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// KafkaConfig holds broker and topic details.
type KafkaConfig struct {
	Brokers      string `envconfig:"KAFKA_BROKER" default:"localhost:9092" validate:"required"`
	GroupID      string `envconfig:"KAFKA_GROUP" default:"market-bars" validate:"required"`
	TickTopic    string `envconfig:"TICK_TOPIC" default:"ticks" validate:"required"`
	BarTopic     string `envconfig:"BAR_TOPIC" default:"bars.1m"`
	ProducerAcks string `envconfig:"KAFKA_ACKS" default:"all" validate:"oneof=all one none"`
	LingerMS     int    `envconfig:"KAFKA_LINGER_MS" default:"5" validate:"gte=0"`
	BatchBytes   int    `envconfig:"KAFKA_BATCH_BYTES" default:"1048576" validate:"gt=0"` // 1MB
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// PostgresConfig holds DB connection details.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432" validate:"gt=0,lte=65535"`
	Database string `envconfig:"POSTGRES_DB" default:"market"`
	User     string `envconfig:"POSTGRES_USER" default:"market"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"market"`
	PoolMax  int    `envconfig:"PG_POOL_MAX" default:"8" validate:"gt=0"`
}

// MetricsConfig controls Prometheus listener.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000" validate:"gt=0,lte=65535"`
}

// GraceConfig holds timing knobs.
type GraceConfig struct {
	FlushGrace time.Duration `envconfig:"FLUSH_GRACE_SEC" default:"2s"`
	BatchSize  int           `envconfig:"BATCH_SIZE" default:"2000" validate:"gt=0"`
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Backend    string `envconfig:"STORE_BACKEND" default:"file" validate:"oneof=file sqlite postgres"`
	Root       string `envconfig:"STORE_ROOT" default:"./data" validate:"required_if=Backend file"`
	SQLitePath string `envconfig:"STORE_SQLITE_PATH" default:"./data/market.db" validate:"required_if=Backend sqlite"`
	Retries    uint64 `envconfig:"STORE_RETRIES" default:"3"`
}

// MarketConfig points at optional exchange and holiday definition files.
type MarketConfig struct {
	Definitions string `envconfig:"MARKET_DEFINITIONS"`
	Holidays    string `envconfig:"MARKET_HOLIDAYS"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Validate checks validate tags on cfg, including nested structs.
func Validate(cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load fills the given struct from environment and validates it.
func Load[T any](prefix string) (T, error) {
	var cfg T
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(&cfg)
}
