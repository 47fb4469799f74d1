// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main engine configuration struct.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Payments    PaymentsConfig    `mapstructure:"payments"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Events      EventsConfig      `mapstructure:"events"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type AppConfig struct {
	Name           string `mapstructure:"name"`
	Version        string `mapstructure:"version"`
	Environment    string `mapstructure:"environment"`
	ListenAddr     string `mapstructure:"listen_addr"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	AnomalyIndex string   `mapstructure:"anomaly_index"`
}

// WorkflowConfig holds the fee schedule and review policy. Defaults match the
// published GACP fee table; override only in test environments.
type WorkflowConfig struct {
	Phase1Fee          int64 `mapstructure:"phase1_fee"`
	Phase2Fee          int64 `mapstructure:"phase2_fee"`
	ResubmissionFee    int64 `mapstructure:"resubmission_fee"`
	RejectionLimit     int   `mapstructure:"rejection_limit"`
	Phase1WindowDays   int   `mapstructure:"phase1_window_days"`
	Phase2WindowDays   int   `mapstructure:"phase2_window_days"`
	SweepIntervalSecs  int   `mapstructure:"sweep_interval_seconds"`
}

func (w WorkflowConfig) Phase1Window() time.Duration {
	return time.Duration(w.Phase1WindowDays) * 24 * time.Hour
}

func (w WorkflowConfig) Phase2Window() time.Duration {
	return time.Duration(w.Phase2WindowDays) * 24 * time.Hour
}

func (w WorkflowConfig) SweepInterval() time.Duration {
	return time.Duration(w.SweepIntervalSecs) * time.Second
}

type IdempotencyConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

func (i IdempotencyConfig) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

type PaymentsConfig struct {
	SignSecret     string `mapstructure:"sign_secret"`
	DedupTTLHours  int    `mapstructure:"dedup_ttl_hours"`
}

func (p PaymentsConfig) DedupTTL() time.Duration {
	return time.Duration(p.DedupTTLHours) * time.Hour
}

type AuditConfig struct {
	TemplateDir            string  `mapstructure:"template_dir"`
	PassThreshold          float64 `mapstructure:"pass_threshold"`
	ZeroToleranceThreshold float64 `mapstructure:"zero_tolerance_threshold"`
}

// EventsConfig configures the workflow event publisher.
type EventsConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
