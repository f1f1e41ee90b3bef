// Package config loads the pipeline configuration from YAML with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrNoSources          = errors.New("at least one enabled source is required")
	ErrSourceMissingName  = errors.New("source name is required")
	ErrSourceMissingURL   = errors.New("source url is required")
	ErrInvalidSourceKind  = errors.New("source kind must be 'api' or 'html'")
	ErrInvalidStrategy    = errors.New("strategy type must be one of: paginate, keyword, category, state")
	ErrStrategyNoValues   = errors.New("keyword, category and state strategies need at least one value")
	ErrInvalidStoreDriver = errors.New("store.driver must be 'postgres' or 'sqlite'")
	ErrInvalidLogLevel    = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidTransport   = errors.New("broadcast.transports entries must be one of: log, redis, kafka, telegram")
)

// Source kinds
const (
	KindAPI  = "api"
	KindHTML = "html"
)

// Strategy types
const (
	StrategyPaginate = "paginate"
	StrategyKeyword  = "keyword"
	StrategyCategory = "category"
	StrategyState    = "state"
)

// Config is the top-level configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Sources    []SourceConfig   `yaml:"sources"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Sheets     SheetsConfig     `yaml:"sheets"`
}

// ServerConfig holds REST server settings
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the scheme store
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the data source name for the configured driver
func (s StoreConfig) DSN() string {
	if s.Driver == "sqlite" {
		return s.Path
	}
	if s.URL != "" {
		return s.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.Database, s.SSLMode)
}

// RedisConfig holds the Redis connection used for event broadcast
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// KafkaConfig holds the Kafka brokers and topic used for event broadcast
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// TelegramConfig holds the bot used for run notifications
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// BroadcastConfig lists the transports run events are published to
type BroadcastConfig struct {
	Transports []string `yaml:"transports"`
}

// AggregatorConfig controls pacing and termination of strategy loops
type AggregatorConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay"`
	DelayStep         time.Duration `yaml:"delay_step"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
	EmptyPageLimit    int           `yaml:"empty_page_limit"`
	MaxPages          int           `yaml:"max_pages"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	UserAgent         string        `yaml:"user_agent"`
	BrowserDataDir    string        `yaml:"browser_data_dir"`
	Stealth           bool          `yaml:"stealth"`
}

// DelayForPage returns the courtesy delay before fetching the given page index
func (a AggregatorConfig) DelayForPage(page int) time.Duration {
	d := a.BaseDelay + time.Duration(page)*a.DelayStep
	if a.MaxDelay > 0 && d > a.MaxDelay {
		d = a.MaxDelay
	}
	return d
}

// SourceConfig describes one upstream portal and how to read it
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Kind    string            `yaml:"kind"`
	URL     string            `yaml:"url"`
	Referer string            `yaml:"referer"`
	Headers map[string]string `yaml:"headers"`
	Lang    string            `yaml:"lang"`
	Sort    string            `yaml:"sort"`
	Enabled bool              `yaml:"enabled"`

	// API sources
	PageSize   int                 `yaml:"page_size"`
	ResultPath string              `yaml:"result_path"`
	Fields     map[string][]string `yaml:"fields"`

	// HTML sources. URL may contain {page} and {value} placeholders.
	Render         bool                `yaml:"render"`
	StartPage      int                 `yaml:"start_page"`
	Containers     []string            `yaml:"containers"`
	FieldSelectors map[string][]string `yaml:"field_selectors"`
	NoTextFallback bool                `yaml:"no_text_fallback"`
	Level          string              `yaml:"level"`

	// LinkBase resolves relative links and slugs into absolute source URLs
	LinkBase string `yaml:"link_base"`

	Timeout    time.Duration    `yaml:"timeout"`
	MaxPages   int              `yaml:"max_pages"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// StrategyConfig is one fetch approach applied to a source
type StrategyConfig struct {
	Type     string   `yaml:"type"`
	Values   []string `yaml:"values"`
	MaxPages int      `yaml:"max_pages"`
}

// LoggingConfig controls slog level and output format
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// SheetsConfig holds the Google Sheets export target
type SheetsConfig struct {
	SpreadsheetURL  string `yaml:"spreadsheet_url"`
	CredentialsPath string `yaml:"credentials_path"`
}

// LoadConfig reads a YAML config file (if path is not empty), applies
// environment overrides and validates the result
func LoadConfig(path string) (*Config, error) {
	cfg := GetDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Sources in the file replace the built-in ones entirely
		cfg.Sources = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.applySourceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// GetDefaultConfig returns a configuration that scrapes the myScheme search API
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "sarkari_pulse",
			User:            "sarkari_pulse",
			SSLMode:         "disable",
			Path:            "sarkari-pulse.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "scheme-runs",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "scheme-runs",
		},
		Broadcast: BroadcastConfig{
			Transports: []string{"log"},
		},
		Aggregator: AggregatorConfig{
			BaseDelay:         500 * time.Millisecond,
			DelayStep:         25 * time.Millisecond,
			MaxDelay:          2 * time.Second,
			RateLimitCooldown: 30 * time.Second,
			EmptyPageLimit:    3,
			MaxPages:          100,
			FetchTimeout:      20 * time.Second,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			BrowserDataDir:    "/tmp/sarkari-pulse-browser",
			Stealth:           true,
		},
		Sources: []SourceConfig{
			{
				Name:       "myscheme-api",
				Kind:       KindAPI,
				URL:        "https://api.myscheme.gov.in/search/v4/schemes",
				Referer:    "https://www.myscheme.gov.in/search",
				Headers:    map[string]string{"x-api-key": "${MYSCHEME_API_KEY}"},
				Lang:       "en",
				PageSize:   100,
				ResultPath: "data.hits.items",
				LinkBase:   "https://www.myscheme.gov.in/schemes/",
				Enabled:    true,
				Strategies: []StrategyConfig{{Type: StrategyPaginate}},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
	cfg.applySourceDefaults()
	return cfg
}

// DefaultAPIFields is the priority list of alternate JSON field names per
// logical attribute. First non-empty match wins.
var DefaultAPIFields = map[string][]string{
	"id":             {"id", "_id", "schemeId", "slug"},
	"name":           {"schemeName", "schemeShortTitle", "name", "title"},
	"description":    {"briefDescription", "description", "schemeDescription", "summary"},
	"ministry":       {"nodalMinistryName", "ministry", "ministryName"},
	"department":     {"nodalDepartmentName", "department", "departmentName"},
	"targetAudience": {"targetBeneficiaries", "beneficiaryType", "targetAudience"},
	"category":       {"schemeCategory", "category", "categories", "sector"},
	"state":          {"beneficiaryState", "state", "states"},
	"level":          {"level", "schemeLevel"},
	"tags":           {"tags", "schemeTags"},
	"launchDate":     {"schemeLaunchDate", "launchDate", "openDate"},
	"url":            {"slug", "url", "link"},
}

// DefaultContainers is the priority list of HTML scheme containers
var DefaultContainers = []string{
	".scheme-card",
	".scheme-item",
	".card",
	".list-group-item",
	"ul.schemes li",
	"table tbody tr",
}

// DefaultFieldSelectors is the priority list of selectors inside a container
var DefaultFieldSelectors = map[string][]string{
	"name":        {".scheme-title", ".card-title", "h3", "h4", "h2", "a", "td:first-child"},
	"description": {".scheme-description", ".card-text", "p", "td:nth-child(2)"},
	"ministry":    {".ministry", ".department", "td:nth-child(3)"},
	"category":    {".category", ".tag", ".badge"},
	"url":         {"a[href]"},
}

func (c *Config) applySourceDefaults() {
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Kind == "" {
			src.Kind = KindAPI
		}
		if src.Timeout <= 0 {
			src.Timeout = c.Aggregator.FetchTimeout
		}
		if src.MaxPages <= 0 {
			src.MaxPages = c.Aggregator.MaxPages
		}
		if src.Kind == KindAPI {
			if src.PageSize <= 0 {
				src.PageSize = 100
			}
			if src.Lang == "" {
				src.Lang = "en"
			}
			if len(src.Fields) == 0 {
				src.Fields = DefaultAPIFields
			}
		}
		if src.Kind == KindHTML {
			if len(src.Containers) == 0 {
				src.Containers = DefaultContainers
			}
			if len(src.FieldSelectors) == 0 {
				src.FieldSelectors = DefaultFieldSelectors
			}
			if src.StartPage <= 0 {
				src.StartPage = 1
			}
		}
		if len(src.Strategies) == 0 {
			src.Strategies = []StrategyConfig{{Type: StrategyPaginate}}
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.GetEnabledSources()) == 0 {
		return ErrNoSources
	}

	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("%w: sources[%d]", ErrSourceMissingName, i)
		}
		if src.URL == "" {
			return fmt.Errorf("%w: sources[%d] (%s)", ErrSourceMissingURL, i, src.Name)
		}
		if src.Kind != KindAPI && src.Kind != KindHTML {
			return fmt.Errorf("%w: sources[%d] (%s)", ErrInvalidSourceKind, i, src.Name)
		}
		for j, st := range src.Strategies {
			switch st.Type {
			case StrategyPaginate:
			case StrategyKeyword, StrategyCategory, StrategyState:
				if len(st.Values) == 0 {
					return fmt.Errorf("%w: sources[%d].strategies[%d]", ErrStrategyNoValues, i, j)
				}
			default:
				return fmt.Errorf("%w: sources[%d].strategies[%d] %q", ErrInvalidStrategy, i, j, st.Type)
			}
		}
	}

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return ErrInvalidStoreDriver
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	validTransports := map[string]bool{"log": true, "redis": true, "kafka": true, "telegram": true}
	for _, t := range c.Broadcast.Transports {
		if !validTransports[t] {
			return fmt.Errorf("%w: %q", ErrInvalidTransport, t)
		}
	}

	return nil
}

// GetEnabledSources returns only enabled sources
func (c *Config) GetEnabledSources() []SourceConfig {
	var enabled []SourceConfig
	for _, src := range c.Sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled
}

// applyEnvOverrides reads DATABASE_URL and SP_* variables
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("SP_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SP_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("SP_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("SP_BROADCAST_TRANSPORTS"); v != "" {
		cfg.Broadcast.Transports = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_SPREADSHEET_URL"); v != "" {
		cfg.Sheets.SpreadsheetURL = v
	}
}
