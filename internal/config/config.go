package config

import (
	"time"

	pkgconfig "github.com/thetvman/couchsync/pkg/config"
	"github.com/thetvman/couchsync/pkg/pubsub"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	PubSub   pubsub.Config `mapstructure:"pubsub"`
	Cache    CacheConfig
	Session  SessionConfig
	Sync     SyncConfig
	Feed     FeedConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Prefix string
	TTL    time.Duration
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	HostTokenSecret string        `mapstructure:"host_token_secret"`
}

// SyncConfig tunes the playback sync engine. Values are shared protocol
// constants: every participant should run the same tolerances or they will
// fight each other's corrections.
type SyncConfig struct {
	DriftTolerance time.Duration `mapstructure:"drift_tolerance"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	EchoWindow     time.Duration `mapstructure:"echo_window"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
}

type FeedConfig struct {
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8087)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "couchsync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/couchsync.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "couchsync-feed")
	v.SetDefault("cache.prefix", "couchsync:session")
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.sweep_interval", 15*time.Minute)
	v.SetDefault("session.host_token_secret", "")
	v.SetDefault("sync.drift_tolerance", 2*time.Second)
	v.SetDefault("sync.settle_delay", 500*time.Millisecond)
	v.SetDefault("sync.echo_window", time.Second)
	v.SetDefault("sync.debounce_window", 500*time.Millisecond)
	v.SetDefault("sync.tick_interval", 5*time.Second)
	v.SetDefault("feed.backoff_base", time.Second)
	v.SetDefault("feed.backoff_max", 30*time.Second)
	v.SetDefault("feed.max_attempts", 10)
	v.SetDefault("log.level", "info")

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "PUBSUB_REDIS_ADDRESS")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("session.ttl", "SESSION_TTL")
	v.BindEnv("session.host_token_secret", "HOST_TOKEN_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
