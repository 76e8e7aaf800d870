package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	domainerrors "github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Confluence ConfluenceConfig `koanf:"confluence"`
	Cache      CacheConfig      `koanf:"cache"`
	Detection  DetectionConfig  `koanf:"detection"`
	Scan       ScanConfig       `koanf:"scan"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
	PII        PIIConfig        `koanf:"pii"`
	Extraction ExtractionConfig `koanf:"extraction"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type ConfluenceConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Token             string        `koanf:"token"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

type CacheConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	InitialDelay    time.Duration `koanf:"initial_delay"`
	SpaceTTL        time.Duration `koanf:"space_ttl"`
}

type DetectionConfig struct {
	Addr             string        `koanf:"addr"`
	Timeout          time.Duration `koanf:"timeout"`
	DefaultThreshold float64       `koanf:"default_threshold" validate:"gte=0,lte=1"`
	LabelsPerBatch   int           `koanf:"labels_per_batch" validate:"gte=1"`
	GlinerEnabled    bool          `koanf:"gliner_enabled"`
	PresidioEnabled  bool          `koanf:"presidio_enabled"`
	RegexEnabled     bool          `koanf:"regex_enabled"`
}

type ScanConfig struct {
	Parallelism int `koanf:"parallelism" validate:"gte=1"`
}

type EventBusConfig struct {
	BufferCapacity int `koanf:"buffer_capacity" validate:"gte=1"`
}

type PIIConfig struct {
	KEKHex             string `koanf:"kek_hex"`
	AllowSecretReveal  bool   `koanf:"allow_secret_reveal"`
	AuditRetentionDays int    `koanf:"audit_retention_days" validate:"gte=1"`
}

type ExtractionConfig struct {
	MinTextLength     int     `koanf:"min_text_length" validate:"gte=0"`
	MinAlnumRatio     float64 `koanf:"min_alnum_ratio" validate:"gte=0,lte=1"`
	MinSpaceRatio     float64 `koanf:"min_space_ratio" validate:"gte=0,lte=1"`
	MinPrintableRatio float64 `koanf:"min_printable_ratio" validate:"gte=0,lte=1"`
	MaxSpecialRatio   float64 `koanf:"max_special_ratio" validate:"gte=0,lte=1"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // SSE responses must not be cut off
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Confluence: ConfluenceConfig{
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Cache: CacheConfig{
			RefreshInterval: 5 * time.Minute,
			InitialDelay:    10 * time.Second,
			SpaceTTL:        15 * time.Minute,
		},
		Detection: DetectionConfig{
			Addr:             "localhost:50051",
			Timeout:          30 * time.Second,
			DefaultThreshold: 0.5,
			LabelsPerBatch:   10,
			GlinerEnabled:    true,
			PresidioEnabled:  true,
			RegexEnabled:     true,
		},
		Scan: ScanConfig{
			Parallelism: 1,
		},
		EventBus: EventBusConfig{
			BufferCapacity: 1000,
		},
		PII: PIIConfig{
			AuditRetentionDays: 90,
		},
		Extraction: ExtractionConfig{
			MinTextLength:     30,
			MinAlnumRatio:     0.3,
			MinSpaceRatio:     0.05,
			MinPrintableRatio: 0.85,
			MaxSpecialRatio:   0.3,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		_ = err
	}

	if err := k.Load(env.Provider("WIKIGUARD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "WIKIGUARD_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces startup invariants. Violations are fatal.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return domainerrors.NewConfigError(err.Error())
	}
	if !c.Detection.GlinerEnabled && !c.Detection.PresidioEnabled && !c.Detection.RegexEnabled {
		return domainerrors.NewConfigError("at least one detector must be enabled")
	}
	return nil
}
