package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	AES        AESConfig        `mapstructure:"aes"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Session    SessionConfig    `mapstructure:"session"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Device     DeviceConfig     `mapstructure:"device"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

// MatcherConfig tunes face identification and enrollment.
type MatcherConfig struct {
	Dimension        int     `mapstructure:"dimension"`
	Threshold        float64 `mapstructure:"threshold"`
	EnrollMinSamples int     `mapstructure:"enroll_min_samples"`
	EnrollMinQuality float64 `mapstructure:"enroll_min_quality"`
}

// SessionConfig tunes the per-device checkout state machine.
type SessionConfig struct {
	WaitingTimeout   time.Duration `mapstructure:"waiting_timeout"`
	ApproachTimeout  time.Duration `mapstructure:"approach_timeout"`
	PickedTimeout    time.Duration `mapstructure:"picked_timeout"`
	CheckoutTimeout  time.Duration `mapstructure:"checkout_timeout"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	PickupThreshold  float64       `mapstructure:"pickup_threshold"`
	ConfirmThreshold float64       `mapstructure:"confirm_threshold"`
	ConfirmStreak    int           `mapstructure:"confirm_streak"`
	JanitorInterval  time.Duration `mapstructure:"janitor_interval"`
}

// SettlementConfig tunes order settlement.
type SettlementConfig struct {
	AutoApprovalLimitCents int64         `mapstructure:"auto_approval_limit_cents"`
	ResultTTL              time.Duration `mapstructure:"result_ttl"`
}

// GatewayConfig points at the external card-charging gateway.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChainConfig tunes the on-chain transfer confirmation watcher.
type ChainConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	ConfirmationDepth uint64        `mapstructure:"confirmation_depth"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	WatchTimeout      time.Duration `mapstructure:"watch_timeout"`
}

// RealtimeConfig tunes the websocket notification hub.
type RealtimeConfig struct {
	HistorySize  int           `mapstructure:"history_size"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
}

type DeviceConfig struct {
	PresenceTTL     time.Duration `mapstructure:"presence_ttl"`     // liveness window refreshed by heartbeats
	TimestampWindow time.Duration `mapstructure:"timestamp_window"` // max clock drift accepted on signed requests
	NonceTTL        time.Duration `mapstructure:"nonce_ttl"`        // replay guard retention, must exceed the window
}

type RateLimitConfig struct {
	FramesPerMinute int `mapstructure:"frames_per_minute"`
	SettlePerMinute int `mapstructure:"settle_per_minute"`
	EnrollPerMinute int `mapstructure:"enroll_per_minute"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: FCC_ (Face Checkout Core).
// Nested keys use underscore: FCC_DATABASE_HOST, FCC_CHAIN_RPC_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "face_checkout")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "face-checkout-core")
	v.SetDefault("aes.key", "")
	v.SetDefault("matcher.dimension", 128)
	v.SetDefault("matcher.threshold", 0.6)
	v.SetDefault("matcher.enroll_min_samples", 3)
	v.SetDefault("matcher.enroll_min_quality", 0.8)
	v.SetDefault("session.waiting_timeout", "30s")
	v.SetDefault("session.approach_timeout", "5s")
	v.SetDefault("session.picked_timeout", "5s")
	v.SetDefault("session.checkout_timeout", "4s")
	v.SetDefault("session.grace_period", "2s")
	v.SetDefault("session.pickup_threshold", 0.4)
	v.SetDefault("session.confirm_threshold", 0.75)
	v.SetDefault("session.confirm_streak", 3)
	v.SetDefault("session.janitor_interval", "1s")
	v.SetDefault("settlement.auto_approval_limit_cents", 5000)
	v.SetDefault("settlement.result_ttl", "10m")
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.confirmation_depth", 3)
	v.SetDefault("chain.poll_interval", "5s")
	v.SetDefault("chain.watch_timeout", "30m")
	v.SetDefault("realtime.history_size", 64)
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("realtime.pong_wait", "60s")
	v.SetDefault("device.presence_ttl", "90s")
	v.SetDefault("device.timestamp_window", "5m")
	v.SetDefault("device.nonce_ttl", "10m")
	v.SetDefault("rate_limit.frames_per_minute", 600)
	v.SetDefault("rate_limit.settle_per_minute", 60)
	v.SetDefault("rate_limit.enroll_per_minute", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: FCC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("FCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can suffice
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
