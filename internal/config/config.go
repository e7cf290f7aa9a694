/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// StorageBackend selects where calendar.txt and todo.txt are read from.
type StorageBackend string

const (
	StorageS3 StorageBackend = "s3"
	StorageFS StorageBackend = "fs"
)

// WatermarkBackend selects where the last run time is persisted.
type WatermarkBackend string

const (
	WatermarkRedis  WatermarkBackend = "redis"
	WatermarkObject WatermarkBackend = "object"
)

// DeliveryBackend selects where reminders are sent.
type DeliveryBackend string

const (
	DeliveryMatrix  DeliveryBackend = "matrix"
	DeliveryNATS    DeliveryBackend = "nats"
	DeliveryRedis   DeliveryBackend = "redis"
	DeliveryWebhook DeliveryBackend = "webhook"
	DeliveryEmail   DeliveryBackend = "email"
	DeliveryLog     DeliveryBackend = "log"
)

// Config covers process level configuration. Values come from an optional
// YAML file and are overridden by environment variables.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogBuffer   int    `yaml:"log_buffer"` // recent lines kept for GET /logs, 0 disables
	HTTPBind    string `yaml:"http_bind"`
	HTTPPort    int    `yaml:"http_port"`
	Zone        string `yaml:"zone"`

	// Calendar and to-do sources
	StorageBackend    StorageBackend `yaml:"storage_backend"`
	StorageDir        string         `yaml:"storage_dir"`
	CalendarKey       string         `yaml:"calendar_key"`
	TodoKey           string         `yaml:"todo_key"`
	S3Bucket          string         `yaml:"s3_bucket"`
	S3Region          string         `yaml:"s3_region"`
	S3Endpoint        string         `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, etc.)
	S3AccessKeyID     string         `yaml:"s3_access_key_id"`
	S3SecretAccessKey string         `yaml:"s3_secret_access_key"`
	S3UsePathStyle    bool           `yaml:"s3_use_path_style"` // Required for MinIO

	// Watermark
	WatermarkBackend WatermarkBackend `yaml:"watermark_backend"`
	WatermarkKey     string           `yaml:"watermark_key"`
	WatermarkPrefix  string           `yaml:"watermark_prefix"`

	// Redis (watermark, response cache, run lock, redis delivery)
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisDB          int           `yaml:"redis_db"`
	ResponseCache    bool          `yaml:"response_cache"`
	ResponseCacheTTL time.Duration `yaml:"response_cache_ttl"`

	// Delivery
	Delivery       DeliveryBackend `yaml:"delivery"`
	Room           string          `yaml:"room"`
	MatrixServer   string          `yaml:"matrix_server"`
	MatrixUser     string          `yaml:"matrix_user"`
	MatrixPassword string          `yaml:"matrix_password"`
	NATSURL        string          `yaml:"nats_url"`
	NATSToken      string          `yaml:"nats_token"`
	WebhookURL     string          `yaml:"webhook_url"`
	WebhookSecret  string          `yaml:"webhook_secret"`
	SMTPHost       string          `yaml:"smtp_host"`
	SMTPPort       int             `yaml:"smtp_port"`
	SMTPUsername   string          `yaml:"smtp_username"`
	SMTPPassword   string          `yaml:"smtp_password"`
	SMTPFrom       string          `yaml:"smtp_from"`
	SMTPFromName   string          `yaml:"smtp_from_name"`
	EmailTo        []string        `yaml:"email_to"`

	// Notifier trigger
	Schedule       string        `yaml:"schedule"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	RunLockEnabled bool          `yaml:"run_lock_enabled"`
	RunLockTTL     time.Duration `yaml:"run_lock_ttl"`
	InstanceID     string        `yaml:"instance_id"`

	// Trigger endpoint credentials
	APIKeys   []string `yaml:"api_keys"`
	JWTSecret string   `yaml:"jwt_secret"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	ConfigFile        string   `yaml:"-"`
	LegacyEnvWarnings []string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Environment:       "development",
		LogBuffer:         2000,
		HTTPBind:          "0.0.0.0",
		HTTPPort:          8080,
		Zone:              "Europe/Oslo",
		StorageBackend:    StorageS3,
		StorageDir:        "./data",
		CalendarKey:       "calendar.txt",
		TodoKey:           "todo.txt",
		S3Region:          "eu-north-1",
		WatermarkBackend:  WatermarkRedis,
		WatermarkKey:      "last-notification-time",
		WatermarkPrefix:   "state/",
		RedisAddr:         "localhost:6379",
		ResponseCache:     true,
		ResponseCacheTTL:  time.Minute,
		Delivery:          DeliveryMatrix,
		NATSURL:           "nats://localhost:4222",
		SMTPPort:          587,
		SMTPFromName:      "calrem",
		Schedule:          "* * * * *",
		RunTimeout:        50 * time.Second,
		RunLockTTL:        2 * time.Minute,
		OTLPEndpoint:      "localhost:4317",
		TracingSampleRate: 1.0,
	}
}

// Load reads the optional YAML file named by CALREM_CONFIG_FILE, applies
// environment overrides, and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnvAny([]string{"CALREM_CONFIG_FILE"}, ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values and defaults. The second key of each pair is
// the variable name the original deployment used.
func (c *Config) applyEnv() {
	c.Environment = getEnvAny([]string{"CALREM_ENV"}, c.Environment)
	c.LogLevel = getEnvAny([]string{"CALREM_LOG_LEVEL"}, c.LogLevel)
	c.LogBuffer = getEnvIntAny([]string{"CALREM_LOG_BUFFER"}, c.LogBuffer)
	c.HTTPBind = getEnvAny([]string{"CALREM_HTTP_BIND"}, c.HTTPBind)
	c.HTTPPort = getEnvIntAny([]string{"CALREM_HTTP_PORT", "PORT"}, c.HTTPPort)
	c.Zone = getEnvAny([]string{"CALREM_ZONE"}, c.Zone)

	c.StorageBackend = StorageBackend(getEnvAny([]string{"CALREM_STORAGE_BACKEND"}, string(c.StorageBackend)))
	c.StorageDir = getEnvAny([]string{"CALREM_STORAGE_DIR"}, c.StorageDir)
	c.CalendarKey = getEnvAny([]string{"CALREM_CALENDAR_KEY"}, c.CalendarKey)
	c.TodoKey = getEnvAny([]string{"CALREM_TODO_KEY"}, c.TodoKey)
	c.S3Bucket = getEnvAny([]string{"CALREM_S3_BUCKET", "S3_MAIN_BUCKET"}, c.S3Bucket)
	c.S3Region = getEnvAny([]string{"CALREM_S3_REGION", "AWS_REGION"}, c.S3Region)
	c.S3Endpoint = getEnvAny([]string{"CALREM_S3_ENDPOINT", "S3_ENDPOINT"}, c.S3Endpoint)
	c.S3AccessKeyID = getEnvAny([]string{"CALREM_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, c.S3AccessKeyID)
	c.S3SecretAccessKey = getEnvAny([]string{"CALREM_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, c.S3SecretAccessKey)
	c.S3UsePathStyle = getEnvBoolAny([]string{"CALREM_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, c.S3UsePathStyle)

	c.WatermarkBackend = WatermarkBackend(getEnvAny([]string{"CALREM_WATERMARK_BACKEND"}, string(c.WatermarkBackend)))
	c.WatermarkKey = getEnvAny([]string{"CALREM_WATERMARK_KEY"}, c.WatermarkKey)
	c.WatermarkPrefix = getEnvAny([]string{"CALREM_WATERMARK_PREFIX"}, c.WatermarkPrefix)

	c.RedisAddr = getEnvAny([]string{"CALREM_REDIS_ADDR", "REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"CALREM_REDIS_PASSWORD", "REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"CALREM_REDIS_DB"}, c.RedisDB)
	c.ResponseCache = getEnvBoolAny([]string{"CALREM_RESPONSE_CACHE"}, c.ResponseCache)
	c.ResponseCacheTTL = getEnvDurationAny([]string{"CALREM_RESPONSE_CACHE_TTL"}, c.ResponseCacheTTL)

	c.Delivery = DeliveryBackend(getEnvAny([]string{"CALREM_DELIVERY"}, string(c.Delivery)))
	c.Room = getEnvAny([]string{"CALREM_ROOM", "MATRIX_REMINDER_ROOM"}, c.Room)
	c.MatrixServer = getEnvAny([]string{"CALREM_MATRIX_SERVER", "MATRIX_SERVER"}, c.MatrixServer)
	c.MatrixUser = getEnvAny([]string{"CALREM_MATRIX_USER", "MATRIX_USER"}, c.MatrixUser)
	c.MatrixPassword = getEnvAny([]string{"CALREM_MATRIX_PASSWORD", "MATRIX_PW"}, c.MatrixPassword)
	c.NATSURL = getEnvAny([]string{"CALREM_NATS_URL", "NATS_URL"}, c.NATSURL)
	c.NATSToken = getEnvAny([]string{"CALREM_NATS_TOKEN"}, c.NATSToken)
	c.WebhookURL = getEnvAny([]string{"CALREM_WEBHOOK_URL"}, c.WebhookURL)
	c.WebhookSecret = getEnvAny([]string{"CALREM_WEBHOOK_SECRET"}, c.WebhookSecret)
	c.SMTPHost = getEnvAny([]string{"CALREM_SMTP_HOST"}, c.SMTPHost)
	c.SMTPPort = getEnvIntAny([]string{"CALREM_SMTP_PORT"}, c.SMTPPort)
	c.SMTPUsername = getEnvAny([]string{"CALREM_SMTP_USERNAME"}, c.SMTPUsername)
	c.SMTPPassword = getEnvAny([]string{"CALREM_SMTP_PASSWORD"}, c.SMTPPassword)
	c.SMTPFrom = getEnvAny([]string{"CALREM_SMTP_FROM"}, c.SMTPFrom)
	c.SMTPFromName = getEnvAny([]string{"CALREM_SMTP_FROM_NAME"}, c.SMTPFromName)
	c.EmailTo = getEnvListAny([]string{"CALREM_EMAIL_TO"}, c.EmailTo)

	c.Schedule = getEnvAny([]string{"CALREM_SCHEDULE"}, c.Schedule)
	c.RunTimeout = getEnvDurationAny([]string{"CALREM_RUN_TIMEOUT"}, c.RunTimeout)
	c.RunLockEnabled = getEnvBoolAny([]string{"CALREM_RUN_LOCK_ENABLED"}, c.RunLockEnabled)
	c.RunLockTTL = getEnvDurationAny([]string{"CALREM_RUN_LOCK_TTL"}, c.RunLockTTL)
	c.InstanceID = getEnvAny([]string{"CALREM_INSTANCE_ID"}, c.InstanceID)

	c.APIKeys = getEnvListAny([]string{"CALREM_API_KEYS"}, c.APIKeys)
	c.JWTSecret = getEnvAny([]string{"CALREM_JWT_SECRET"}, c.JWTSecret)

	c.TracingEnabled = getEnvBoolAny([]string{"CALREM_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"CALREM_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"CALREM_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)
}

// Validate checks backend selections and the keys each backend needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("CALREM_S3_BUCKET or S3_MAIN_BUCKET must be provided for s3 storage"))
		}
	case StorageFS:
		if c.StorageDir == "" {
			errs = append(errs, errors.New("CALREM_STORAGE_DIR must be provided for fs storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q", c.StorageBackend))
	}

	switch c.WatermarkBackend {
	case WatermarkRedis, WatermarkObject:
	default:
		errs = append(errs, fmt.Errorf("unsupported watermark backend %q", c.WatermarkBackend))
	}

	switch c.Delivery {
	case DeliveryMatrix:
		if c.MatrixServer == "" || c.MatrixUser == "" || c.MatrixPassword == "" || c.Room == "" {
			errs = append(errs, errors.New("matrix delivery needs CALREM_MATRIX_SERVER, CALREM_MATRIX_USER, CALREM_MATRIX_PASSWORD and CALREM_ROOM"))
		}
	case DeliveryNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("CALREM_NATS_URL must be provided for nats delivery"))
		}
	case DeliveryWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("CALREM_WEBHOOK_URL must be provided for webhook delivery"))
		}
	case DeliveryEmail:
		if c.SMTPHost == "" || c.SMTPFrom == "" || len(c.EmailTo) == 0 {
			errs = append(errs, errors.New("email delivery needs CALREM_SMTP_HOST, CALREM_SMTP_FROM and CALREM_EMAIL_TO"))
		}
	case DeliveryRedis, DeliveryLog:
	default:
		errs = append(errs, fmt.Errorf("unsupported delivery backend %q", c.Delivery))
	}

	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid CALREM_SCHEDULE %q: %w", c.Schedule, err))
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("CALREM_TRACING_SAMPLE_RATE must be within [0,1], got %v", c.TracingSampleRate))
	}

	if strings.EqualFold(c.Environment, "production") && c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("CALREM_JWT_SECRET must be at least 32 characters in production"))
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any configured component needs Redis.
func (c *Config) UsesRedis() bool {
	return c.WatermarkBackend == WatermarkRedis || c.ResponseCache || c.RunLockEnabled || c.Delivery == DeliveryRedis
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// detectLegacyEnvWarnings flags variables from the original deployment that
// are honoured only as fallbacks.
func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"S3_MAIN_BUCKET":       "CALREM_S3_BUCKET",
		"MATRIX_SERVER":        "CALREM_MATRIX_SERVER",
		"MATRIX_USER":          "CALREM_MATRIX_USER",
		"MATRIX_PW":            "CALREM_MATRIX_PASSWORD",
		"MATRIX_REMINDER_ROOM": "CALREM_ROOM",
	}

	warnings := make([]string, 0, len(legacy))
	for key, replacement := range legacy {
		if os.Getenv(key) != "" && os.Getenv(replacement) == "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; use %s", key, replacement))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or plain seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return def
}

// getEnvListAny splits a comma separated value, dropping blanks.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			var out []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return def
}
