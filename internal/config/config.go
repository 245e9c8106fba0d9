package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Token     TokenConfig
	Presence  PresenceConfig
	Chat      ChatConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Log       LogConfig
	Instance  InstanceConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type TokenConfig struct {
	Secret          string
	Issuer          string
	AccessDuration  time.Duration `mapstructure:"access_duration"`
	ConnectDuration time.Duration `mapstructure:"connect_duration"`
}

type PresenceConfig struct {
	OnlineTTL time.Duration `mapstructure:"online_ttl"`
	TypingTTL time.Duration `mapstructure:"typing_ttl"`
}

type ChatConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
	HistoryPageSize  int `mapstructure:"history_page_size"`
}

type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	EventChannel string `mapstructure:"event_channel"`
}

type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	FilePath string `mapstructure:"file_path"` // sqlite only
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type InstanceConfig struct {
	ID string
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, rely on defaults and env vars.
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("token.secret", "")
	v.SetDefault("token.issuer", "chat-sync")
	v.SetDefault("token.access_duration", "24h")
	v.SetDefault("token.connect_duration", "5m")
	v.SetDefault("presence.online_ttl", "30s")
	v.SetDefault("presence.typing_ttl", "3s")
	v.SetDefault("chat.max_content_length", 2000)
	v.SetDefault("chat.history_page_size", 50)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.event_channel", "chatsync:events")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chatsync")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", "chatsync")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.file_path", "chatsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("instance.id", "")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("token.secret", "TOKEN_SECRET")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.db_name", "DB_NAME")
	v.BindEnv("instance.id", "INSTANCE_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Token.AccessDuration = parseDuration(v, "token.access_duration", 24*time.Hour)
	cfg.Token.ConnectDuration = parseDuration(v, "token.connect_duration", 5*time.Minute)
	cfg.Presence.OnlineTTL = parseDuration(v, "presence.online_ttl", 30*time.Second)
	cfg.Presence.TypingTTL = parseDuration(v, "presence.typing_ttl", 3*time.Second)

	if cfg.Token.Secret == "" {
		return nil, fmt.Errorf("token.secret (TOKEN_SECRET) is required")
	}

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
