package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Admin     AdminConfig     `mapstructure:"admin"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tiers     []TierConfig    `mapstructure:"tiers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Global GlobalDBConfig `mapstructure:"global"`
}

type GlobalDBConfig struct {
	URL            string `mapstructure:"url"`
	AuthToken      string `mapstructure:"auth_token"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AdmissionConfig controls the synchronous admit/reject path.
type AdmissionConfig struct {
	// CounterBackend is one of "memory", "sql" or "redis".
	CounterBackend string        `mapstructure:"counter_backend"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
	Shards         int           `mapstructure:"shards"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

type AuthConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type UsageConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	Workers       int           `mapstructure:"workers"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// RateLimitConfig throttles requests before a key has been resolved.
type RateLimitConfig struct {
	UnauthenticatedPerMinute int `mapstructure:"unauthenticated_per_minute"`
	UnauthenticatedBurst     int `mapstructure:"unauthenticated_burst"`
}

type WorkersConfig struct {
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// TierConfig is the on-disk form of a tier policy. A negative limit means
// unlimited.
type TierConfig struct {
	Name                 string   `mapstructure:"name"`
	Rank                 int      `mapstructure:"rank"`
	MonthlyCallLimit     int64    `mapstructure:"monthly_call_limit"`
	CallsPerMinute       int64    `mapstructure:"calls_per_minute"`
	BurstLimit           int64    `mapstructure:"burst_limit"`
	HistoricalYearsLimit int64    `mapstructure:"historical_years_limit"`
	Features             []string `mapstructure:"features"`
	UpgradeURL           string   `mapstructure:"upgrade_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.global.url", "file:divgate.db")
	v.SetDefault("database.global.max_connections", 10)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("admission.counter_backend", "memory")
	v.SetDefault("admission.store_timeout", 500*time.Millisecond)
	v.SetDefault("admission.shards", 32)
	v.SetDefault("admission.key_prefix", "dvd_live_")

	v.SetDefault("auth.cache_ttl", 30*time.Second)

	v.SetDefault("usage.queue_size", 4096)
	v.SetDefault("usage.workers", 4)
	v.SetDefault("usage.flush_interval", 10*time.Second)
	v.SetDefault("usage.write_timeout", 5*time.Second)

	v.SetDefault("jwt.access_token_ttl", time.Hour)

	v.SetDefault("rate_limit.unauthenticated_per_minute", 60)
	v.SetDefault("rate_limit.unauthenticated_burst", 20)

	v.SetDefault("workers.cleanup_interval", time.Hour)
	v.SetDefault("workers.audit_retention_days", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
