package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var policyYAML []byte

type Config struct {
	Database   DatabaseConfig
	Crypto     CryptoConfig
	Match      MatchConfig      `yaml:"match"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Cache      CacheConfig      `yaml:"cache"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Storage    StorageConfig    `yaml:"storage"`
	Web        WebConfig
	Worker     WorkerConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Driver       string // sqlite (default) or postgres
	Path         string // SQLite file, defaults to <data dir>/facegate.db
	URL          string // PostgreSQL connection URL
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type CryptoConfig struct {
	Passphrase string
}

type MatchConfig struct {
	Dimension          int     `yaml:"dimension"`
	DefaultThreshold   float64 `yaml:"default_threshold"`
	StrongThreshold    float64 `yaml:"strong_threshold"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
}

type EnrollmentConfig struct {
	MinSamples int     `yaml:"min_samples"`
	MaxSamples int     `yaml:"max_samples"`
	MinQuality float64 `yaml:"min_quality"`
}

type CacheConfig struct {
	MaxOwners int `yaml:"max_owners"`
}

type DedupWindow struct {
	CheckIn  time.Duration `yaml:"check_in"`
	CheckOut time.Duration `yaml:"check_out"`
}

type ScheduleConfig struct {
	WorkStart string        `yaml:"work_start"` // HH:MM, empty disables lateness
	WorkEnd   string        `yaml:"work_end"`
	Grace     time.Duration `yaml:"grace"`
	Timezone  string        `yaml:"timezone"`
}

type LedgerConfig struct {
	DedupWindow   DedupWindow    `yaml:"dedup_window"`
	Horizon       time.Duration  `yaml:"horizon"`
	PairWindow    time.Duration  `yaml:"pair_window"`
	FailureWindow time.Duration  `yaml:"failure_window"`
	Schedule      ScheduleConfig `yaml:"schedule"`
}

type StorageConfig struct {
	DataDir         string
	ExternalPath    string
	HighWatermarkMB int64         `yaml:"high_watermark_mb"`
	LowWatermarkMB  int64         `yaml:"low_watermark_mb"`
	FloorMB         int64         `yaml:"floor_mb"`
	RetentionDays   int           `yaml:"retention_days"`
	PruneInterval   time.Duration `yaml:"prune_interval"`
}

// Retention returns the retention age as a duration.
func (c StorageConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS origins besides localhost
}

type WorkerConfig struct {
	PoolSize int
}

type LogConfig struct {
	Format string
	Level  string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float in [0, 1]; anything else falls back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// policy parses the embedded policy.yaml.
func policy() Config {
	var p Config
	if err := yaml.Unmarshal(policyYAML, &p); err != nil {
		// Embedded at build time; a parse error is a broken build.
		panic("failed to unmarshal embedded policy.yaml: " + err.Error())
	}
	return p
}

func Load() *Config {
	p := policy()

	dataDir := envString("FACEGATE_DATA_DIR", "./data")

	return &Config{
		Database: DatabaseConfig{
			Driver:       envString("FACEGATE_DB_DRIVER", "sqlite"),
			Path:         envString("FACEGATE_DB_PATH", dataDir+"/facegate.db"),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Crypto: CryptoConfig{
			Passphrase: os.Getenv("FACEGATE_PASSPHRASE"),
		},
		Match: MatchConfig{
			Dimension:          envInt("FACEGATE_EMBEDDING_DIM", p.Match.Dimension),
			DefaultThreshold:   envFloat("FACEGATE_MATCH_THRESHOLD", p.Match.DefaultThreshold),
			StrongThreshold:    envFloat("FACEGATE_STRONG_THRESHOLD", p.Match.StrongThreshold),
			DuplicateThreshold: envFloat("FACEGATE_DUPLICATE_THRESHOLD", p.Match.DuplicateThreshold),
		},
		Enrollment: EnrollmentConfig{
			MinSamples: envInt("FACEGATE_ENROLL_MIN_SAMPLES", p.Enrollment.MinSamples),
			MaxSamples: envInt("FACEGATE_ENROLL_MAX_SAMPLES", p.Enrollment.MaxSamples),
			MinQuality: p.Enrollment.MinQuality,
		},
		Cache: CacheConfig{
			MaxOwners: envInt("FACEGATE_CACHE_MAX_OWNERS", p.Cache.MaxOwners),
		},
		Ledger: LedgerConfig{
			DedupWindow: DedupWindow{
				CheckIn:  envDuration("FACEGATE_DEDUP_CHECK_IN", p.Ledger.DedupWindow.CheckIn),
				CheckOut: envDuration("FACEGATE_DEDUP_CHECK_OUT", p.Ledger.DedupWindow.CheckOut),
			},
			Horizon:       envDuration("FACEGATE_ATTEMPT_HORIZON", p.Ledger.Horizon),
			PairWindow:    envDuration("FACEGATE_PAIR_WINDOW", p.Ledger.PairWindow),
			FailureWindow: envDuration("FACEGATE_FAILURE_WINDOW", p.Ledger.FailureWindow),
			Schedule: ScheduleConfig{
				WorkStart: envString("FACEGATE_WORK_START", p.Ledger.Schedule.WorkStart),
				WorkEnd:   envString("FACEGATE_WORK_END", p.Ledger.Schedule.WorkEnd),
				Grace:     envDuration("FACEGATE_WORK_GRACE", p.Ledger.Schedule.Grace),
				Timezone:  envString("FACEGATE_TIMEZONE", p.Ledger.Schedule.Timezone),
			},
		},
		Storage: StorageConfig{
			DataDir:         dataDir,
			ExternalPath:    os.Getenv("FACEGATE_EXTERNAL_PATH"),
			HighWatermarkMB: envInt64("FACEGATE_STORAGE_HIGH_MB", p.Storage.HighWatermarkMB),
			LowWatermarkMB:  envInt64("FACEGATE_STORAGE_LOW_MB", p.Storage.LowWatermarkMB),
			FloorMB:         envInt64("FACEGATE_STORAGE_FLOOR_MB", p.Storage.FloorMB),
			RetentionDays:   envInt("FACEGATE_RETENTION_DAYS", p.Storage.RetentionDays),
			PruneInterval:   envDuration("FACEGATE_PRUNE_INTERVAL", p.Storage.PruneInterval),
		},
		Web: WebConfig{
			Host:           envString("FACEGATE_HOST", "127.0.0.1"),
			Port:           envInt("FACEGATE_PORT", 8085),
			AllowedOrigins: envList("FACEGATE_ALLOWED_ORIGINS"),
		},
		Worker: WorkerConfig{
			PoolSize: envInt("FACEGATE_WORKERS", 4),
		},
		Log: LogConfig{
			Format: envString("FACEGATE_LOG_FORMAT", "json"),
			Level:  envString("FACEGATE_LOG_LEVEL", "info"),
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Match.Dimension <= 0 {
		errs = append(errs, errors.New("embedding dimension must be positive"))
	}
	if c.Match.StrongThreshold < c.Match.DefaultThreshold {
		errs = append(errs, fmt.Errorf("strong threshold %.2f is below default threshold %.2f",
			c.Match.StrongThreshold, c.Match.DefaultThreshold))
	}
	if c.Enrollment.MinSamples < 1 || c.Enrollment.MaxSamples < c.Enrollment.MinSamples {
		errs = append(errs, fmt.Errorf("enrollment samples must satisfy 1 <= min <= max, got %d/%d",
			c.Enrollment.MinSamples, c.Enrollment.MaxSamples))
	}
	if !(c.Storage.HighWatermarkMB > c.Storage.LowWatermarkMB && c.Storage.LowWatermarkMB > c.Storage.FloorMB && c.Storage.FloorMB > 0) {
		errs = append(errs, fmt.Errorf("storage watermarks must satisfy high > low > floor > 0, got %d/%d/%d",
			c.Storage.HighWatermarkMB, c.Storage.LowWatermarkMB, c.Storage.FloorMB))
	}
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if _, _, err := c.Ledger.Schedule.Parse(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Parse converts WorkStart and WorkEnd to offsets from midnight. Both are
// zero when either is empty.
func (s ScheduleConfig) Parse() (start, end time.Duration, err error) {
	if s.WorkStart == "" || s.WorkEnd == "" {
		return 0, 0, nil
	}
	if start, err = parseClock(s.WorkStart); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(s.WorkEnd); err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("work end %s is not after work start %s", s.WorkEnd, s.WorkStart)
	}
	return start, end, nil
}

// Location resolves Timezone, defaulting to the local zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// parseClock parses "HH:MM".
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
