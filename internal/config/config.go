package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "weather-know"
	defaultBaseURL = "https://api.openweathermap.org/data/2.5"
)

// Cache backends accepted by cache.backend.
const (
	BackendInMemory  = "in_memory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Config holds configuration loaded from YAML and env. It is built once at
// startup and passed to the components that need it.
type Config struct {
	TestingMode bool

	ServerPort string
	LogFile    string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	Freshness          time.Duration
	NormalizeKeys      bool
	CacheBackend       string
	CacheRetention     time.Duration // 0 = never evict
	CachePruneInterval time.Duration

	SQLitePath  string
	PostgresDSN string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled bool
	CircuitFailures       int
	CircuitSuccesses      int
	CircuitOpenTimeout    time.Duration

	ShutdownTimeout time.Duration

	HealthWindow         time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int

	TrackedCities []string
	WarmEnabled   bool
	WarmInterval  time.Duration

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string

	KafkaBrokers []string
	KafkaTopic   string

	PublishTimeout time.Duration
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		File string `yaml:"file"`
	} `yaml:"log"`

	WeatherAPI struct {
		Key     string `yaml:"key"`
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		Freshness     string `yaml:"freshness"`
		NormalizeKeys *bool  `yaml:"normalize_keys"`
		Retention     string `yaml:"retention"`
		PruneInterval string `yaml:"prune_interval"`
		SQLite        struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Warm struct {
			Enabled  bool   `yaml:"enabled"`
			Interval string `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window               string `yaml:"window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`

	Publish struct {
		Timeout string `yaml:"timeout"`
		MQTT    struct {
			Broker      string `yaml:"broker"`
			ClientID    string `yaml:"client_id"`
			TopicPrefix string `yaml:"topic_prefix"`
			Username    string `yaml:"username"`
			Password    string `yaml:"password"`
		} `yaml:"mqtt"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"publish"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// profile holds the defaults that differ between the service and the
// terminal program.
type profile struct {
	backend    string
	apiTimeout time.Duration
}

var (
	serviceProfile  = profile{backend: BackendInMemory, apiTimeout: 2 * time.Second}
	terminalProfile = profile{backend: BackendSQLite, apiTimeout: 5 * time.Second}
)

// Load reads service configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := build(&fc, serviceProfile)
	if cfg.WeatherAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.WeatherAPIKey = sec.WeatherAPIKey
		}
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath is where the terminal program looks for its config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// DefaultSQLitePath is the terminal program's default on-disk cache.
func DefaultSQLitePath() string {
	return filepath.Join(xdg.CacheHome, appName, "cache.db")
}

// DefaultLogPath is where the terminal program writes its log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, appName, "weatherknow.log")
}

// LoadFile reads terminal program configuration from path, or DefaultPath when
// path is empty. A missing file at the default path yields defaults; a missing
// explicit path is an error. The API key comes from WEATHER_API_KEY or
// weather_api.key.
func LoadFile(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	var fc fileConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	case os.IsNotExist(err):
		return nil, fmt.Errorf("config file not found: %s", path)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := build(&fc, terminalProfile)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = DefaultSQLitePath()
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogPath()
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or weather_api.key in %s)", path)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build applies defaults and environment overrides to a parsed file.
func build(fc *fileConfig, p profile) *Config {
	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.LogFile = strings.TrimSpace(fc.Log.File)

	cfg.WeatherAPIKey = envOr("WEATHER_API_KEY", fc.WeatherAPI.Key)
	cfg.WeatherAPIURL = envOr("WEATHER_API_URL", fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = defaultBaseURL
	}
	cfg.WeatherAPIURL = strings.TrimSuffix(cfg.WeatherAPIURL, "/")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, p.apiTimeout)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.Freshness = parseDuration(fc.Cache.Freshness, 30*time.Minute)
	cfg.NormalizeKeys = true
	if fc.Cache.NormalizeKeys != nil {
		cfg.NormalizeKeys = *fc.Cache.NormalizeKeys
	}
	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = p.backend
	}
	cfg.CacheRetention = parseDurationOrZero(fc.Cache.Retention, 0)
	cfg.CachePruneInterval = parseDuration(fc.Cache.PruneInterval, time.Hour)

	cfg.SQLitePath = envOr("SQLITE_PATH", fc.Cache.SQLite.Path)
	cfg.PostgresDSN = envOr("POSTGRES_DSN", fc.Cache.Postgres.DSN)

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Cache.Redis.Addr)
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = envOr("REDIS_PASSWORD", fc.Cache.Redis.Password)
	cfg.RedisDB = fc.Cache.Redis.DB
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}

	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 10*time.Second)

	cfg.WarmEnabled = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDuration(fc.Cache.Warm.Interval, 25*time.Minute)
	cfg.TrackedCities = fc.Metrics.TrackedCities

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitFailures = cb.FailureThreshold
	if cfg.CircuitFailures <= 0 {
		cfg.CircuitFailures = 5
	}
	cfg.CircuitSuccesses = cb.SuccessThreshold
	if cfg.CircuitSuccesses <= 0 {
		cfg.CircuitSuccesses = 2
	}
	cfg.CircuitOpenTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	mq := fc.Publish.MQTT
	cfg.MQTTBroker = envOr("MQTT_BROKER", mq.Broker)
	cfg.MQTTClientID = mq.ClientID
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = appName
	}
	cfg.MQTTTopicPrefix = mq.TopicPrefix
	if cfg.MQTTTopicPrefix == "" {
		cfg.MQTTTopicPrefix = "weatherknow"
	}
	cfg.MQTTUsername = mq.Username
	cfg.MQTTPassword = envOr("MQTT_PASSWORD", mq.Password)

	cfg.KafkaBrokers = fc.Publish.Kafka.Brokers
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.KafkaTopic = fc.Publish.Kafka.Topic
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "weather-fetches"
	}
	cfg.PublishTimeout = parseDuration(fc.Publish.Timeout, 5*time.Second)
	return cfg
}

// envOr returns the trimmed env var if set, else the trimmed fallback.
func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures WeatherAPITimeout is positive, RequestTimeout > WeatherAPITimeout,
// and the cache backend is known and has what it needs. Auto-adjusts RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.CacheRetention < 0 {
		return fmt.Errorf("cache.retention must not be negative")
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite.path required for sqlite backend")
		}
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres.dsn (or POSTGRES_DSN) required for postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of in_memory, sqlite, postgres, memcached, redis; got %q", cfg.CacheBackend)
	}
	return nil
}
