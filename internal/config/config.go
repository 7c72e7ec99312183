package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	pkgconfig "github.com/parlorhq/parlor/pkg/config"
	"github.com/parlorhq/parlor/pkg/database"
	"github.com/parlorhq/parlor/pkg/log"
)

type Config struct {
	Server      ServerConfig
	Database    database.Config
	Chat        ChatConfig
	WebSocket   WebSocketConfig
	Liveness    LivenessConfig
	Webhook     WebhookConfig
	Mirror      MirrorConfig
	Maintenance MaintenanceConfig
	Bootstrap   BootstrapConfig
	Log         LogConfig

	v *viper.Viper
}

type ServerConfig struct {
	Host string
	Port int
}

type ChatConfig struct {
	MessageHistoryLimit int `mapstructure:"message_history_limit"`
}

type WebSocketConfig struct {
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

type LivenessConfig struct {
	ProbeInterval      time.Duration `mapstructure:"probe_interval"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	// ProbeAckWait is accepted for config compatibility. Staleness
	// detection alone decides disconnects; nothing reads this value.
	ProbeAckWait time.Duration `mapstructure:"probe_ack_wait"`
}

type WebhookConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type MirrorConfig struct {
	Driver      string // redis, kafka, or disabled
	URL         string
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	Redis       MirrorRedisConfig
	Kafka       MirrorKafkaConfig
}

type MirrorRedisConfig struct {
	Address  string
	Password string
	DB       int
}

type MirrorKafkaConfig struct {
	Brokers string
	Topic   string
}

type MaintenanceConfig struct {
	ReceiptSweepSpec string `mapstructure:"receipt_sweep_spec"`
}

type BootstrapConfig struct {
	AdminUsername string `mapstructure:"admin_username"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "parlor")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "parlor")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./parlor.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("chat.message_history_limit", 100)
	v.SetDefault("websocket.send_timeout", "5s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.rate_limit", 20.0)
	v.SetDefault("websocket.rate_burst", 40)
	v.SetDefault("liveness.probe_interval", "30s")
	v.SetDefault("liveness.staleness_threshold", "90s")
	v.SetDefault("liveness.probe_ack_wait", "10s")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("mirror.driver", "disabled")
	v.SetDefault("mirror.url", "")
	v.SetDefault("mirror.token_secret", "")
	v.SetDefault("mirror.token_ttl", "24h")
	v.SetDefault("mirror.redis.address", "localhost:6379")
	v.SetDefault("mirror.redis.password", "")
	v.SetDefault("mirror.redis.db", 0)
	v.SetDefault("mirror.kafka.brokers", "localhost:9092")
	v.SetDefault("mirror.kafka.topic", "parlor-messages")
	v.SetDefault("maintenance.receipt_sweep_spec", "@hourly")
	v.SetDefault("bootstrap.admin_username", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")
	v.BindEnv("database.file_path", "DATABASE_FILE_PATH")
	v.BindEnv("chat.message_history_limit", "MESSAGE_HISTORY_LIMIT")
	v.BindEnv("mirror.driver", "MIRROR_DRIVER")
	v.BindEnv("mirror.url", "MIRROR_URL")
	v.BindEnv("mirror.token_secret", "MIRROR_TOKEN_SECRET")
	v.BindEnv("mirror.redis.address", "REDIS_ADDRESS")
	v.BindEnv("mirror.redis.password", "REDIS_PASSWORD")
	v.BindEnv("mirror.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("mirror.kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("bootstrap.admin_username", "BOOTSTRAP_ADMIN_USERNAME")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.SendTimeout = parseDuration(v, "websocket.send_timeout", 5*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Liveness.ProbeInterval = parseDuration(v, "liveness.probe_interval", 30*time.Second)
	cfg.Liveness.StalenessThreshold = parseDuration(v, "liveness.staleness_threshold", 90*time.Second)
	cfg.Liveness.ProbeAckWait = parseDuration(v, "liveness.probe_ack_wait", 10*time.Second)
	cfg.Webhook.Timeout = parseDuration(v, "webhook.timeout", 10*time.Second)
	cfg.Mirror.TokenTTL = parseDuration(v, "mirror.token_ttl", 24*time.Hour)

	cfg.v = v
	return &cfg, nil
}

// WatchLogLevel applies log-level changes from the config file at
// runtime without a restart.
func (c *Config) WatchLogLevel() {
	v := c.v
	if v == nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("log.level")
		if level == c.Log.Level {
			return
		}
		c.Log.Level = level
		log.SetLevel(level)
		l := log.L()
		l.Info().
			Str("file", e.Name).
			Str("level", level).
			Msg("log level reloaded from config")
	})
	v.WatchConfig()
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
