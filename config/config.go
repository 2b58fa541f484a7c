package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"

	ClockSystem = "system"
	ClockRedis  = "redis"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	MaxRetries int    `yaml:"max_retries"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Clock   string       `yaml:"clock"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type SnapshotConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path"`
	Interval       time.Duration `yaml:"interval"`
	RestoreOnStart bool          `yaml:"restore_on_start"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BucketConfig declares a bucket that is created at startup if its key is
// empty.
type BucketConfig struct {
	Capacity int64 `yaml:"capacity"`
	FillRate int64 `yaml:"fill_rate"`
}

type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Storage  StorageConfig           `yaml:"storage"`
	Snapshot SnapshotConfig          `yaml:"snapshot"`
	Log      LogConfig               `yaml:"log"`
	Buckets  map[string]BucketConfig `yaml:"buckets"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Clock:   ClockSystem,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "bucket:",
			},
			SQLite: SQLiteConfig{Path: "data/buckets.db"},
		},
		Snapshot: SnapshotConfig{
			Enabled:        true,
			Path:           "data/dump.bkt",
			Interval:       time.Minute,
			RestoreOnStart: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides cfg from environment variables looked up with lookup
// (os.LookupEnv in production).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Server.Addr = ":" + port
	}

	strs := map[string]*string{
		"BUCKETSTORE_ADDR":            &cfg.Server.Addr,
		"BUCKETSTORE_STORAGE_BACKEND": &cfg.Storage.Backend,
		"BUCKETSTORE_CLOCK":           &cfg.Storage.Clock,
		"BUCKETSTORE_REDIS_ADDR":      &cfg.Storage.Redis.Addr,
		"BUCKETSTORE_REDIS_PASSWORD":  &cfg.Storage.Redis.Password,
		"BUCKETSTORE_SQLITE_PATH":     &cfg.Storage.SQLite.Path,
		"BUCKETSTORE_SNAPSHOT_PATH":   &cfg.Snapshot.Path,
		"BUCKETSTORE_LOG_LEVEL":       &cfg.Log.Level,
		"BUCKETSTORE_LOG_FORMAT":      &cfg.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("BUCKETSTORE_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUCKETSTORE_REDIS_DB: %w", err)
		}
		cfg.Storage.Redis.DB = db
	}
	if v, ok := lookup("BUCKETSTORE_SNAPSHOT_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BUCKETSTORE_SNAPSHOT_ENABLED: %w", err)
		}
		cfg.Snapshot.Enabled = enabled
	}
	return nil
}

func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server: addr must be set")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: shutdown_timeout must be positive")
	}

	switch cfg.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis: addr must be set")
		}
	default:
		return fmt.Errorf("storage: unknown backend '%s'", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == BackendSQLite && cfg.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite: path must be set")
	}

	switch cfg.Storage.Clock {
	case ClockSystem:
	case ClockRedis:
		if cfg.Storage.Backend != BackendRedis {
			return fmt.Errorf("storage: clock 'redis' requires the redis backend")
		}
	default:
		return fmt.Errorf("storage: unknown clock '%s'", cfg.Storage.Clock)
	}

	if cfg.Snapshot.Enabled {
		if cfg.Snapshot.Path == "" {
			return fmt.Errorf("snapshot: path must be set")
		}
		if cfg.Snapshot.Interval <= 0 {
			return fmt.Errorf("snapshot: interval must be positive")
		}
	}

	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format '%s'", cfg.Log.Format)
	}

	for key, b := range cfg.Buckets {
		if b.Capacity < 0 {
			return fmt.Errorf("bucket '%s': capacity must not be negative", key)
		}
		if b.FillRate <= 0 {
			return fmt.Errorf("bucket '%s': fill_rate must be positive", key)
		}
	}

	return nil
}
