package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port       string `json:"port"`
	SchemaFile string `json:"schemaFile"`

	// Хранилище: memory (default) | postgres | sqlite
	Driver string `json:"driver"`
	DBURL  string `json:"dbUrl"`

	AllowDestructive bool     `json:"allowDestructive"`
	MigrateTimeout   Duration `json:"migrateTimeout"`

	LogLevel  string `json:"logLevel"`  // debug | info | warn | error
	LogFormat string `json:"logFormat"` // console | json
}

// Duration читается из JSON строкой вида "90s" / "2m".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func def() Config {
	return Config{
		Port:           "8080",
		SchemaFile:     "",
		Driver:         DriverMemory,
		DBURL:          "",
		MigrateTimeout: Duration(2 * time.Minute),
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvDuration(k string, fallback Duration) (Duration, error) {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", k, err)
	}
	return Duration(d), nil
}

// Load: значения по умолчанию -> JSON (если файл есть) -> QBASE_* из окружения.
// Флаги командной строки накладываются поверх вызывающим кодом.
func Load(jsonPath string) (Config, error) {
	cfg := def()

	if jsonPath != "" {
		if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
			if err := loadJSON(jsonPath, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	cfg.Port = getenv("QBASE_PORT", cfg.Port)
	cfg.SchemaFile = getenv("QBASE_SCHEMA_FILE", cfg.SchemaFile)
	cfg.Driver = getenv("QBASE_DRIVER", cfg.Driver)
	cfg.DBURL = getenv("QBASE_DB_URL", cfg.DBURL)
	cfg.AllowDestructive = getenvBool("QBASE_ALLOW_DESTRUCTIVE", cfg.AllowDestructive)
	cfg.LogLevel = getenv("QBASE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("QBASE_LOG_FORMAT", cfg.LogFormat)

	var err error
	if cfg.MigrateTimeout, err = getenvDuration("QBASE_MIGRATE_TIMEOUT", cfg.MigrateTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.DBURL) == "" {
			return fmt.Errorf("driver %s requires dbUrl", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q (memory|postgres|sqlite)", c.Driver)
	}
	if c.MigrateTimeout < 0 {
		return fmt.Errorf("migrateTimeout must not be negative")
	}
	return nil
}

func (c Config) Timeout() time.Duration { return time.Duration(c.MigrateTimeout) }
