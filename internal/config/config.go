package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the agent configuration. It is read from a YAML file; every
// field can be overridden from the environment.
type Config struct {
	Env         string `yaml:"env" env:"SENTINEL_ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"SENTINEL_STORAGE_PATH" env-default:"./crash-sentinel.db"`

	Log          LogConfig          `yaml:"log"`
	Device       DeviceConfig       `yaml:"device"`
	Backend      BackendConfig      `yaml:"backend"`
	Server       ServerConfig       `yaml:"server"`
	Detection    DetectionConfig    `yaml:"detection"`
	Capture      CaptureConfig      `yaml:"capture"`
	Session      SessionConfig      `yaml:"session"`
	Queue        QueueConfig        `yaml:"queue"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sensors      SensorsConfig      `yaml:"sensors"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"SENTINEL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"SENTINEL_LOG_FORMAT" env-default:"json"`
}

type DeviceConfig struct {
	ID   string `yaml:"id" env:"SENTINEL_DEVICE_ID"`
	Name string `yaml:"name" env:"SENTINEL_DEVICE_NAME" env-default:"crash-sentinel"`
}

type BackendConfig struct {
	BaseURL     string `yaml:"base_url" env:"SENTINEL_BACKEND_URL" env-default:"http://localhost:8080"`
	APIKey      string `yaml:"api_key" env:"SENTINEL_BACKEND_API_KEY"`
	DeviceToken string `yaml:"device_token" env:"SENTINEL_DEVICE_TOKEN"`
	Timeout     int    `yaml:"timeout" env:"SENTINEL_BACKEND_TIMEOUT" env-default:"10"` // seconds
}

type ServerConfig struct {
	Enabled        bool     `yaml:"enabled" env:"SENTINEL_SERVER_ENABLED" env-default:"true"`
	Host           string   `yaml:"host" env:"SENTINEL_SERVER_HOST" env-default:"localhost"`
	Port           int      `yaml:"port" env:"SENTINEL_SERVER_PORT" env-default:"8765"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"SENTINEL_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	NoticeLimit    int      `yaml:"notice_limit" env:"SENTINEL_NOTICE_LIMIT" env-default:"50"`
}

type DetectionConfig struct {
	SustainedWindowMs int     `yaml:"sustained_window_ms" env:"SENTINEL_SUSTAINED_WINDOW_MS" env-default:"100"`
	HighGThreshold    float64 `yaml:"high_g_threshold" env:"SENTINEL_HIGH_G_THRESHOLD" env-default:"4.0"`
	MinHighGSamples   int     `yaml:"min_high_g_samples" env:"SENTINEL_MIN_HIGH_G_SAMPLES" env-default:"3"`
	MinWindowSamples  int     `yaml:"min_window_samples" env:"SENTINEL_MIN_WINDOW_SAMPLES" env-default:"5"`
	RotationThreshold float64 `yaml:"rotation_threshold" env:"SENTINEL_ROTATION_THRESHOLD" env-default:"90"`
	BufferCapacity    int     `yaml:"buffer_capacity" env:"SENTINEL_BUFFER_CAPACITY" env-default:"100"`
}

type CaptureConfig struct {
	GraceDelayMs      int `yaml:"grace_delay_ms" env:"SENTINEL_GRACE_DELAY_MS" env-default:"1000"`
	ImageTimeoutMs    int `yaml:"image_timeout_ms" env:"SENTINEL_IMAGE_TIMEOUT_MS" env-default:"10000"`
	LocationTimeoutMs int `yaml:"location_timeout_ms" env:"SENTINEL_LOCATION_TIMEOUT_MS" env-default:"5000"`
	AudioDurationMs   int `yaml:"audio_duration_ms" env:"SENTINEL_AUDIO_DURATION_MS" env-default:"100"`
	AudioTimeoutMs    int `yaml:"audio_timeout_ms" env:"SENTINEL_AUDIO_TIMEOUT_MS" env-default:"1000"`
}

type SessionConfig struct {
	CountdownMs       int `yaml:"countdown_ms" env:"SENTINEL_COUNTDOWN_MS" env-default:"5000"`
	DispatchTimeoutMs int `yaml:"dispatch_timeout_ms" env:"SENTINEL_DISPATCH_TIMEOUT_MS" env-default:"15000"`
}

type QueueConfig struct {
	MaxAttempts   int `yaml:"max_attempts" env:"SENTINEL_QUEUE_MAX_ATTEMPTS" env-default:"3"`
	DrainInterval int `yaml:"drain_interval" env:"SENTINEL_QUEUE_DRAIN_INTERVAL" env-default:"60"` // seconds
}

type ConnectivityConfig struct {
	PollInterval int `yaml:"poll_interval" env:"SENTINEL_CONNECTIVITY_POLL_INTERVAL" env-default:"15"` // seconds
	ProbeTimeout int `yaml:"probe_timeout" env:"SENTINEL_CONNECTIVITY_PROBE_TIMEOUT" env-default:"5"`  // seconds
}

// SensorsConfig names the external commands that provide each capability.
// An empty command means the capability is absent on this device.
type SensorsConfig struct {
	MotionBufferSize int    `yaml:"motion_buffer_size" env:"SENTINEL_MOTION_BUFFER_SIZE" env-default:"256"`
	LocationTTL      int    `yaml:"location_ttl" env:"SENTINEL_LOCATION_TTL" env-default:"30"` // seconds
	ImageCommand     string `yaml:"image_command" env:"SENTINEL_IMAGE_COMMAND"`
	AudioCommand     string `yaml:"audio_command" env:"SENTINEL_AUDIO_COMMAND"`
	AlertCommand     string `yaml:"alert_command" env:"SENTINEL_ALERT_COMMAND"`
}

// LoadConfig reads the YAML file at path. A missing file falls back to
// environment variables and defaults. A .env file in the working directory
// is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the agent cannot run with
func (c *Config) Validate() error {
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Detection.BufferCapacity <= 0 {
		return fmt.Errorf("detection.buffer_capacity must be positive, got %d", c.Detection.BufferCapacity)
	}
	if c.Detection.MinWindowSamples > c.Detection.BufferCapacity {
		return fmt.Errorf("detection.min_window_samples (%d) exceeds buffer_capacity (%d)",
			c.Detection.MinWindowSamples, c.Detection.BufferCapacity)
	}
	if c.Session.CountdownMs <= 0 {
		return fmt.Errorf("session.countdown_ms must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}
	if c.Queue.DrainInterval <= 0 {
		return fmt.Errorf("queue.drain_interval must be positive")
	}
	if c.Env == "production" && c.Backend.APIKey == "" && c.Backend.DeviceToken == "" {
		return fmt.Errorf("backend.api_key or backend.device_token is required in production")
	}
	return nil
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
