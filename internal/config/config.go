package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Logger     LoggerConfig     `yaml:"logger"`
	Auth       AuthConfig       `yaml:"auth"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Inactivity InactivityConfig `yaml:"inactivity"`
	CORS       CORSConfig       `yaml:"cors"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory store.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values. An empty Addr disables
// token revocation.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes  int    `yaml:"access_token_ttl_minutes"`
	BcryptCost             int    `yaml:"bcrypt_cost"`
	BootstrapAdminEmail    string `yaml:"bootstrap_admin_email"`
	BootstrapAdminPassword string `yaml:"bootstrap_admin_password"`
}

// RealtimeConfig tunes websocket sessions.
type RealtimeConfig struct {
	SendQueueSize       int `yaml:"send_queue_size"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	PongWaitSeconds     int `yaml:"pong_wait_seconds"`
	MaxMessageBytes     int `yaml:"max_message_bytes"`
}

// LifecycleConfig bounds ticket engine store calls.
type LifecycleConfig struct {
	StoreTimeoutSeconds int `yaml:"store_timeout_seconds"`
}

// InactivityConfig drives the idle-ticket sweeper.
type InactivityConfig struct {
	Enabled              bool `yaml:"enabled"`
	ThresholdMinutes     int  `yaml:"threshold_minutes"`
	SweepIntervalMinutes int  `yaml:"sweep_interval_minutes"`
	BatchSize            int  `yaml:"batch_size"`
	ListTimeoutSeconds   int  `yaml:"list_timeout_seconds"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Name:                  "support-chat",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MinConns:       2,
			RunMigrations:  true,
			ConnMaxIdleSec: 30,
			ConnMaxLifeSec: 300,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 60,
			BcryptCost:            12,
		},
		Realtime: RealtimeConfig{
			SendQueueSize:       64,
			WriteTimeoutSeconds: 10,
			PongWaitSeconds:     60,
			MaxMessageBytes:     64 * 1024,
		},
		Lifecycle: LifecycleConfig{
			StoreTimeoutSeconds: 5,
		},
		Inactivity: InactivityConfig{
			Enabled:              true,
			ThresholdMinutes:     24 * 60,
			SweepIntervalMinutes: 60,
			BatchSize:            100,
			ListTimeoutSeconds:   5,
		},
		CORS: CORSConfig{
			AllowedOrigins: "http://localhost:5173",
		},
	}
}

// Load builds configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the
// working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", strconv.Itoa(cfg.Redis.DB)))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.App = AppConfig{
		Name:                  getEnv("APP_NAME", cfg.App.Name),
		Env:                   getEnv("APP_ENV", cfg.App.Env),
		Host:                  getEnv("APP_HOST", cfg.App.Host),
		Port:                  getEnv("APP_PORT", cfg.App.Port),
		Version:               getEnv("APP_VERSION", cfg.App.Version),
		RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.App.RequestTimeoutSeconds),
	}
	cfg.Postgres = PostgresConfig{
		DSN:            getEnv("POSTGRES_DSN", cfg.Postgres.DSN),
		MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(cfg.Postgres.MaxConns))),
		MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(cfg.Postgres.MinConns))),
		RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", cfg.Postgres.RunMigrations),
		ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(cfg.Postgres.ConnMaxIdleSec))),
		ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(cfg.Postgres.ConnMaxLifeSec))),
	}
	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", cfg.Redis.Addr),
		Password: getEnv("REDIS_PASSWORD", cfg.Redis.Password),
		DB:       redisDB,
	}
	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)
	cfg.Auth = AuthConfig{
		JWTSecret:              getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret),
		AccessTokenTTLMinutes:  getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", cfg.Auth.AccessTokenTTLMinutes),
		BcryptCost:             getEnvAsInt("AUTH_BCRYPT_COST", cfg.Auth.BcryptCost),
		BootstrapAdminEmail:    getEnv("AUTH_BOOTSTRAP_ADMIN_EMAIL", cfg.Auth.BootstrapAdminEmail),
		BootstrapAdminPassword: getEnv("AUTH_BOOTSTRAP_ADMIN_PASSWORD", cfg.Auth.BootstrapAdminPassword),
	}
	cfg.Realtime = RealtimeConfig{
		SendQueueSize:       getEnvAsInt("REALTIME_SEND_QUEUE_SIZE", cfg.Realtime.SendQueueSize),
		WriteTimeoutSeconds: getEnvAsInt("REALTIME_WRITE_TIMEOUT_SECONDS", cfg.Realtime.WriteTimeoutSeconds),
		PongWaitSeconds:     getEnvAsInt("REALTIME_PONG_WAIT_SECONDS", cfg.Realtime.PongWaitSeconds),
		MaxMessageBytes:     getEnvAsInt("REALTIME_MAX_MESSAGE_BYTES", cfg.Realtime.MaxMessageBytes),
	}
	cfg.Lifecycle.StoreTimeoutSeconds = getEnvAsInt("LIFECYCLE_STORE_TIMEOUT_SECONDS", cfg.Lifecycle.StoreTimeoutSeconds)
	cfg.Inactivity = InactivityConfig{
		Enabled:              getEnvAsBool("INACTIVITY_ENABLED", cfg.Inactivity.Enabled),
		ThresholdMinutes:     getEnvAsInt("INACTIVITY_THRESHOLD_MINUTES", cfg.Inactivity.ThresholdMinutes),
		SweepIntervalMinutes: getEnvAsInt("INACTIVITY_SWEEP_INTERVAL_MINUTES", cfg.Inactivity.SweepIntervalMinutes),
		BatchSize:            getEnvAsInt("INACTIVITY_BATCH_SIZE", cfg.Inactivity.BatchSize),
		ListTimeoutSeconds:   getEnvAsInt("INACTIVITY_LIST_TIMEOUT_SECONDS", cfg.Inactivity.ListTimeoutSeconds),
	}
	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	return seconds(a.RequestTimeoutSeconds)
}

// AccessTokenTTL returns the token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// WriteTimeout bounds a single websocket write.
func (r RealtimeConfig) WriteTimeout() time.Duration {
	if r.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return seconds(r.WriteTimeoutSeconds)
}

// PongWait is how long a connection may stay silent before it is dropped.
func (r RealtimeConfig) PongWait() time.Duration {
	if r.PongWaitSeconds <= 0 {
		return time.Minute
	}
	return seconds(r.PongWaitSeconds)
}

// PingPeriod is derived from PongWait so a ping always lands in time.
func (r RealtimeConfig) PingPeriod() time.Duration {
	return r.PongWait() * 9 / 10
}

// StoreTimeout bounds each persistence call made by the ticket engine.
func (l LifecycleConfig) StoreTimeout() time.Duration {
	if l.StoreTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return seconds(l.StoreTimeoutSeconds)
}

// Threshold is how long an assigned ticket may stay silent.
func (i InactivityConfig) Threshold() time.Duration {
	if i.ThresholdMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(i.ThresholdMinutes) * time.Minute
}

// SweepInterval is the period between sweeps.
func (i InactivityConfig) SweepInterval() time.Duration {
	if i.SweepIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(i.SweepIntervalMinutes) * time.Minute
}

// ListTimeout bounds each idle-ticket listing query.
func (i InactivityConfig) ListTimeout() time.Duration {
	if i.ListTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(i.ListTimeoutSeconds) * time.Second
}

// Origins splits the configured origin list.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
