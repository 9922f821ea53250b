package config

import (
	"time"

	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-match-chat/pkg/config"
	"github.com/weiawesome/wes-match-chat/pkg/database"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"github.com/weiawesome/wes-match-chat/pkg/pubsub"
)

type Config struct {
	Server   ServerConfig
	GRPC     GRPCConfig
	Chat     ChatConfig
	PubSub   pubsub.Config `mapstructure:"pubsub"`
	Database database.Config
	Cache    CacheConfig
	JWT      JWTConfig
	Log      log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Host string
	Port int
}

// ChatConfig bounds the realtime chat subsystem.
type ChatConfig struct {
	MaxConnections     int           `mapstructure:"max_connections"`
	MaxQueue           int           `mapstructure:"max_queue"`
	RateNumber         int           `mapstructure:"rate_number"`
	RatePeriod         time.Duration `mapstructure:"rate_period"`
	InactivityMax      time.Duration `mapstructure:"inactivity_max"`
	CloseInactiveEvery time.Duration `mapstructure:"close_inactive_every"`
	UnreadBackfill     int           `mapstructure:"unread_backfill"`
	MaxMessageSize     int64         `mapstructure:"max_message_size"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	SendBuffer         int           `mapstructure:"send_buffer"`
}

// CacheConfig configures the redis cache in front of profile name lookups.
// An empty address disables it.
type CacheConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessLifetime time.Duration `mapstructure:"access_lifetime"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("chat.max_connections", 2500)
	v.SetDefault("chat.max_queue", 20)
	v.SetDefault("chat.rate_number", 100)
	v.SetDefault("chat.rate_period", "60s")
	v.SetDefault("chat.inactivity_max", "300s")
	v.SetDefault("chat.close_inactive_every", "30s")
	v.SetDefault("chat.unread_backfill", 20)
	v.SetDefault("chat.max_message_size", 1<<20)
	v.SetDefault("chat.write_wait", "10s")
	v.SetDefault("chat.send_buffer", 256)
	v.SetDefault("pubsub.driver", pubsub.DriverRedis)
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "chat-service")
	v.SetDefault("pubsub.kafka.partitions", 8)
	v.SetDefault("pubsub.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("pubsub.nats.name", "chat-service")
	v.SetDefault("pubsub.nats.reconnect_wait", "2s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.access_lifetime", "15m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.nats.url", "NATS_URL")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("cache.address", "CACHE_REDIS_ADDRESS")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.instance", "CHAT_INSTANCE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.Chat.RatePeriod = parseDuration(v, "chat.rate_period", 60*time.Second)
	cfg.Chat.InactivityMax = parseDuration(v, "chat.inactivity_max", 300*time.Second)
	cfg.Chat.CloseInactiveEvery = parseDuration(v, "chat.close_inactive_every", 30*time.Second)
	cfg.Chat.WriteWait = parseDuration(v, "chat.write_wait", 10*time.Second)
	cfg.PubSub.Redis.ReadTimeout = parseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = parseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.PubSub.NATS.ReconnectWait = parseDuration(v, "pubsub.nats.reconnect_wait", 2*time.Second)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", 5*time.Minute)
	cfg.JWT.AccessLifetime = parseDuration(v, "jwt.access_lifetime", 15*time.Minute)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
