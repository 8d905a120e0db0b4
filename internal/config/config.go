package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the safety engine service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Classifier    ClassifierConfig    `mapstructure:"classifier"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort     int           `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration for alert deduplication
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains Kafka consumer configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig maps Kafka topics consumed by the engine.
// ClientMessages carries raw client message text to run through the safety
// detector; Domain maps platform topics to the bus event type they republish as.
type TopicsConfig struct {
	ClientMessages string            `mapstructure:"client_messages"`
	Domain         map[string]string `mapstructure:"domain"`
}

// ClassifierConfig contains the contextual classifier adapter configuration.
// When Enabled is false the detector runs on patterns alone.
type ClassifierConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// EngineConfig contains workflow engine configuration
type EngineConfig struct {
	ActionTimeout   time.Duration `mapstructure:"action_timeout"`
	TaskDueInDays   int           `mapstructure:"task_due_in_days"`
	ContactCacheTTL time.Duration `mapstructure:"contact_cache_ttl"`
}

// NotificationsConfig contains notification delivery configuration
type NotificationsConfig struct {
	Email        EmailConfig   `mapstructure:"email"`
	SMS          SMSConfig     `mapstructure:"sms"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
}

// EmailConfig contains email delivery configuration
type EmailConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	SendGridAPIKey    string `mapstructure:"sendgrid_api_key"`
	FromAddress       string `mapstructure:"from_address"`
	FromName          string `mapstructure:"from_name"`
	CrisisTeamAddress string `mapstructure:"crisis_team_address"`
	RateLimitPerMin   int    `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS delivery configuration
type SMSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TwilioSID       string `mapstructure:"twilio_sid"`
	TwilioToken     string `mapstructure:"twilio_token"`
	FromNumber      string `mapstructure:"from_number"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// SchedulerConfig contains periodic job configuration
type SchedulerConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	OverdueSweepSchedule   string `mapstructure:"overdue_sweep_schedule"`
	CleanupSchedule        string `mapstructure:"cleanup_schedule"`
	ExecutionRetentionDays int    `mapstructure:"execution_retention_days"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Load loads configuration from environment variables and config files
func Load(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/safety-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SAFETY_ENGINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8086)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "solace_safety")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "safety-engine")
	viper.SetDefault("kafka.topics.client_messages", "client-messages")
	viper.SetDefault("kafka.topics.domain", map[string]string{
		"assessment-completed":         "assessment.completed",
		"assessment-score-changed":     "assessment.score.changed",
		"wellbeing-status-changed":     "wellbeing.status.changed",
		"wellbeing-trajectory-changed": "wellbeing.trajectory.changed",
		"task-completed":               "task.completed",
		"session-completed":            "session.completed",
	})

	// Classifier
	viper.SetDefault("classifier.enabled", false)
	viper.SetDefault("classifier.base_url", "https://api.openai.com")
	viper.SetDefault("classifier.model", "gpt-4o-mini")
	viper.SetDefault("classifier.timeout", "10s")
	viper.SetDefault("classifier.requests_per_minute", 60)

	// Engine
	viper.SetDefault("engine.action_timeout", "30s")
	viper.SetDefault("engine.task_due_in_days", 7)
	viper.SetDefault("engine.contact_cache_ttl", "5m")

	// Notifications
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.from_address", "alerts@solacehealth.io")
	viper.SetDefault("notifications.email.from_name", "Solace Safety")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)
	viper.SetDefault("notifications.dedupe_window", "1h")

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.overdue_sweep_schedule", "@every 15m")
	viper.SetDefault("scheduler.cleanup_schedule", "@daily")
	viper.SetDefault("scheduler.execution_retention_days", 365)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
