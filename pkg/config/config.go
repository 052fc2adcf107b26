// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (database, Kafka, Redis, source APIs, jobs, schedules, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/resilience"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Database  DatabaseConfig           `yaml:"database"`
	Kafka     KafkaConfig              `yaml:"kafka"`
	Redis     RedisConfig              `yaml:"redis"`
	Logging   LoggingConfig            `yaml:"logging"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Extract   ExtractConfig            `yaml:"extract"`
	Discord   DiscordConfig            `yaml:"discord"`
	Notion    NotionConfig             `yaml:"notion"`
	Silver    SilverConfig             `yaml:"silver"`
	Jobs      map[string]JobConfig     `yaml:"jobs"`
	Schedules map[string]string        `yaml:"schedules"`
	Identity  map[string]MappingConfig `yaml:"identity"`
	DDLDir    string                   `yaml:"ddlDir"`
}

// ServerConfig holds the ops HTTP server settings used by `brain serve`.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// DatabaseConfig selects the relational store. Driver "postgres" uses the
// connection parameters; driver "sqlite" uses Path as the main database file
// and attaches bronze/silver databases next to it.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	BatchSize       int           `yaml:"batchSize"`
}

// DSN returns a lib/pq-compatible data source name.
func (p DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RunEvents string `yaml:"runEvents"`
}

// RedisConfig holds Redis connection parameters for the checkpoint store.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"poolSize"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint and the optional
// Pushgateway used by one-shot CLI runs.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	PushJob        string `yaml:"pushJob"`
}

// ExtractConfig is the network policy shared by every source extractor.
type ExtractConfig struct {
	MaxAttempts       int           `yaml:"maxAttempts"`
	InitialDelay      time.Duration `yaml:"initialDelay"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
	Multiplier        float64       `yaml:"multiplier"`
	JitterFraction    float64       `yaml:"jitterFraction"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	BreakerThreshold  int           `yaml:"breakerThreshold"`
	BreakerReset      time.Duration `yaml:"breakerReset"`
}

// RetryConfig returns the bounded retry policy passed to every fetch.
func (e ExtractConfig) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    e.MaxAttempts,
		InitialDelay:   e.InitialDelay,
		MaxDelay:       e.MaxDelay,
		Multiplier:     e.Multiplier,
		JitterFraction: e.JitterFraction,
	}
}

// DiscordConfig holds the chat-platform credentials and fetch knobs.
type DiscordConfig struct {
	Token                   string `yaml:"token"`
	GuildID                 string `yaml:"guildId"`
	BaseURL                 string `yaml:"baseUrl"`
	Concurrency             int    `yaml:"concurrency"`
	PageSize                int    `yaml:"pageSize"`
	ReactionMessagesPerChan int    `yaml:"reactionMessagesPerChannel"`
}

// NotionConfig holds the workspace credentials, database ids and the
// column -> property maps of each workspace table.
type NotionConfig struct {
	Token               string            `yaml:"token"`
	Version             string            `yaml:"version"`
	BaseURL             string            `yaml:"baseUrl"`
	PageSize            int               `yaml:"pageSize"`
	CommitteeDatabaseID string            `yaml:"committeeDatabaseId"`
	ProjectsDatabaseID  string            `yaml:"projectsDatabaseId"`
	CommitteeProperties map[string]string `yaml:"committeeProperties"`
	ProjectProperties   map[string]string `yaml:"projectProperties"`
}

// SilverConfig tunes the bronze -> silver promotion jobs.
type SilverConfig struct {
	ComponentTypes []string `yaml:"componentTypes"`
}

// JobConfig holds the per-job settings. Mode must be "replace" or "append".
type JobConfig struct {
	Mode string `yaml:"mode"`
}

// MappingConfig names a two-column identity mapping table.
type MappingConfig struct {
	Schema      string `yaml:"schema"`
	Table       string `yaml:"table"`
	KeyColumn   string `yaml:"keyColumn"`
	ValueColumn string `yaml:"valueColumn"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or a configuration error if the result is invalid.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, err, "reading config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrConfig, err, "parsing config file %s", path)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return apperrors.Newf(apperrors.ErrConfig, "database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return apperrors.New(apperrors.ErrConfig, "database.path is required for the sqlite driver")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return apperrors.Newf(apperrors.ErrConfig, "logging.format must be json or text, got %q", c.Logging.Format)
	}
	for name, job := range c.Jobs {
		switch job.Mode {
		case "", "replace", "append":
		default:
			return apperrors.Newf(apperrors.ErrConfig, "jobs.%s.mode must be replace or append, got %q", name, job.Mode)
		}
	}
	for name, m := range c.Identity {
		if m.Schema == "" || m.Table == "" || m.KeyColumn == "" || m.ValueColumn == "" {
			return apperrors.Newf(apperrors.ErrConfig, "identity.%s needs schema, table, keyColumn and valueColumn", name)
		}
	}
	if c.Extract.MaxAttempts < 1 {
		return apperrors.New(apperrors.ErrConfig, "extract.maxAttempts must be at least 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return apperrors.New(apperrors.ErrConfig, "kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// JobMode returns the configured load mode for a job, or "" when the job
// keeps its default.
func (c *Config) JobMode(job string) string {
	return c.Jobs[job].Mode
}

// defaultConfig returns a Config with defaults suited to local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "brain",
			User:            "brain",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			BatchSize:       500,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "brain-pipeline",
			Topics: KafkaTopics{
				RunEvents: "brain.pipeline-runs",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  5,
			KeyPrefix: "brain:checkpoint",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			PushJob: "brain_pipeline",
		},
		Extract: ExtractConfig{
			MaxAttempts:       5,
			InitialDelay:      500 * time.Millisecond,
			MaxDelay:          30 * time.Second,
			Multiplier:        2.0,
			JitterFraction:    0.1,
			FetchTimeout:      10 * time.Minute,
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			BreakerThreshold:  10,
			BreakerReset:      30 * time.Second,
		},
		Discord: DiscordConfig{
			BaseURL:                 "https://discord.com/api/v10",
			Concurrency:             4,
			PageSize:                100,
			ReactionMessagesPerChan: 100,
		},
		Notion: NotionConfig{
			Version:  "2022-06-28",
			BaseURL:  "https://api.notion.com/v1",
			PageSize: 100,
			CommitteeProperties: map[string]string{
				"name":           "Name",
				"notion_user_id": "Notion User#first",
				"discord_id":     "Discord ID",
				"role":           "Role",
				"team":           "Team",
			},
			ProjectProperties: map[string]string{
				"name":          "Name",
				"type":          "Type",
				"progress":      "Progress",
				"priority":      "Priority",
				"due_start":     "Due Dates",
				"due_end":       "Due Dates#end",
				"owner_ids":     "Owner",
				"allocated_ids": "Allocated",
			},
		},
		Silver: SilverConfig{
			ComponentTypes: []string{"discord_server", "discord_channel", "discord_forum", "discord_thread"},
		},
		Jobs: map[string]JobConfig{},
		Identity: map[string]MappingConfig{
			"discord": {Schema: "silver", Table: "committee", KeyColumn: "discord_id", ValueColumn: "member_id"},
			"notion":  {Schema: "silver", Table: "committee", KeyColumn: "notion_user_id", ValueColumn: "member_id"},
		},
	}
}

// applyEnvOverrides reads BRAIN_* environment variables and overrides the
// corresponding config fields. Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRAIN_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BRAIN_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("BRAIN_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("BRAIN_DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("BRAIN_DATABASE_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("BRAIN_DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("BRAIN_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("BRAIN_DATABASE_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("BRAIN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BRAIN_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BRAIN_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BRAIN_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BRAIN_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BRAIN_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BRAIN_METRICS_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("BRAIN_DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("BRAIN_DISCORD_GUILD_ID"); v != "" {
		cfg.Discord.GuildID = v
	}
	if v := os.Getenv("BRAIN_NOTION_TOKEN"); v != "" {
		cfg.Notion.Token = v
	}
	if v := os.Getenv("BRAIN_NOTION_COMMITTEE_DATABASE_ID"); v != "" {
		cfg.Notion.CommitteeDatabaseID = v
	}
	if v := os.Getenv("BRAIN_NOTION_PROJECTS_DATABASE_ID"); v != "" {
		cfg.Notion.ProjectsDatabaseID = v
	}
	if v := os.Getenv("BRAIN_DDL_DIR"); v != "" {
		cfg.DDLDir = v
	}
}
