package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Includes upstream Flow API configuration, the account pool, queue tuning,
// refresh scheduling and storage configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Flow API Configuration:
// - FLOW_API_GENERATE_URL: Generation endpoint URL (required)
// - FLOW_API_STATUS_URL: Status-check endpoint URL (required)
// - FLOW_PROJECT_ID: Upstream project id sent in the client context (required)
// - FLOW_SESSION_URL: Session endpoint minting bearer tokens (default: https://labs.google/fx/api/auth/session)
// - FLOW_DEFAULT_VIDEO_MODEL: Model key used when a video does not set one (default: veo_3_1_t2v_fast_portrait)
// - FLOW_DEFAULT_ASPECT_RATIO: Aspect ratio used when a video does not set one (default: VIDEO_ASPECT_RATIO_PORTRAIT)
// - FLOW_USER_PAYGATE_TIER: Paygate tier sent in the client context (default: PAYGATE_TIER_ONE)
// - FLOW_REQUEST_TIMEOUT: Timeout for generation/status calls (default: 30s)
// - FLOW_SESSION_TIMEOUT: Timeout for session endpoint calls (default: 15s)
// - FLOW_LEGACY_BEARER_TOKEN: Static bearer token fallback when no cookie jar exists (optional)
//
// Account Pool Configuration:
// - GOOGLE_EMAILS: Comma-separated account emails (required unless legacy token is set)
// - GOOGLE_PASSWORDS: Comma-separated account passwords, same order as emails
// - FLOW_COOKIE_FILE: Path of the persisted cookie jar document (default: ./data/cookies.json)
// - ACCOUNT_EXPIRY_BUFFER: Jar is treated as expired this long before expires_at (default: 5m)
// - ACCOUNT_FAILURE_THRESHOLD: Consecutive failures before cooldown (default: 3)
// - ACCOUNT_COOLDOWN: Cooldown applied once the threshold is reached (default: 10m)
// - FLOW_BROWSER_COMMAND: External command that logs an account in and prints its cookies as JSON (optional)
// - FLOW_BROWSER_TIMEOUT: Timeout for one browser login run (default: 5m)
//
// Queue Configuration:
// - VIDEO_QUEUE_CAPACITY: Bounded queue size, enqueue blocks when full (default: 32)
// - VIDEO_STATUS_MAX_POLLS: Poll attempts before a job times out (default: 60)
// - VIDEO_STATUS_POLL_INTERVAL: Sleep between poll attempts (default: 10s)
// - VIDEO_LOAD_RETRIES: Attempts to load a freshly committed video row (default: 5)
// - VIDEO_LOAD_RETRY_DELAY: Delay between load attempts (default: 200ms)
//
// Refresh Configuration:
// - TOKEN_REFRESH_MARGIN: Refresh the bearer token this long before it expires (default: 60s)
// - TOKEN_FAILURE_DELAY: Retry delay after a failed token refresh (default: 120s)
// - TOKEN_EXPIRED_RETRY_DELAY: Retry delay after a SessionExpired refresh (default: 10s)
// - COOKIE_REFRESH_INTERVAL: Full cookie refresh period (default: 21h)
// - COOKIE_CHECK_INTERVAL: Early-expiry sweep period (default: 5m)
// - COOKIE_EARLY_MARGIN: Sweep triggers a refresh within this margin of expiry (default: 3h)
// - COOKIE_BACKOFF_MAX: Cap for the refresh failure backoff (default: 1h)
//
// Storage Configuration:
// - MEDIA_STORAGE_BACKEND: "local" or "none" (default: local)
// - MEDIA_DIR: Directory for downloaded assets (default: ./data/media)
// - MEDIA_PUBLIC_BASE_URL: URL prefix recorded for stored assets (default: /media)
//
// Events Configuration:
// - KAFKA_BROKERS: Comma-separated broker list; empty disables publishing
// - KAFKA_TOPIC: Topic for status-change events (default: video.status-changed)
//
// System Configuration:
// - DATABASE_PATH: SQLite database path (default: ./data/flowvid.db)
// - HTTP_ADDR: Listen address for the API server (default: :8080)
// - LOG_LEVEL: zerolog level (default: info)
// - LOG_PRETTY: Human-readable console output (default: false)

type Config struct {
	// Flow API Configuration
	Flow FlowConfig `json:"flow"`

	// Account Pool Configuration
	Accounts AccountsConfig `json:"accounts"`

	// Queue Configuration
	Queue QueueConfig `json:"queue"`

	// Refresh Configuration
	Refresh RefreshConfig `json:"refresh"`

	// Storage Configuration
	Storage StorageConfig `json:"storage"`

	// Events Configuration
	Events EventsConfig `json:"events"`

	// System Configuration
	System SystemConfig `json:"system"`
}

// FlowConfig holds the configuration for the upstream Flow API client.
type FlowConfig struct {
	GenerateURL        string        `json:"generate_url"`
	StatusURL          string        `json:"status_url"`
	SessionURL         string        `json:"session_url"`
	ProjectID          string        `json:"project_id"`
	DefaultVideoModel  string        `json:"default_video_model"`
	DefaultAspectRatio string        `json:"default_aspect_ratio"`
	UserPaygateTier    string        `json:"user_paygate_tier"`
	RequestTimeout     time.Duration `json:"request_timeout"`
	SessionTimeout     time.Duration `json:"session_timeout"`
	LegacyBearerToken  string        `json:"legacy_bearer_token"`
}

// AccountsConfig holds the account pool configuration.
type AccountsConfig struct {
	Emails           []string      `json:"emails"`
	Passwords        []string      `json:"-"`
	CookieFile       string        `json:"cookie_file"`
	ExpiryBuffer     time.Duration `json:"expiry_buffer"`
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
	BrowserCommand   string        `json:"browser_command"`
	BrowserTimeout   time.Duration `json:"browser_timeout"`
}

// QueueConfig holds the generation queue and polling configuration.
type QueueConfig struct {
	Capacity       int           `json:"capacity"`
	MaxPolls       int           `json:"max_polls"`
	PollInterval   time.Duration `json:"poll_interval"`
	LoadRetries    int           `json:"load_retries"`
	LoadRetryDelay time.Duration `json:"load_retry_delay"`
}

// RefreshConfig holds the token and cookie refresh scheduling configuration.
type RefreshConfig struct {
	TokenMargin       time.Duration `json:"token_margin"`
	TokenFailureDelay time.Duration `json:"token_failure_delay"`
	TokenExpiredDelay time.Duration `json:"token_expired_delay"`
	CookieInterval    time.Duration `json:"cookie_interval"`
	CookieCheckEvery  time.Duration `json:"cookie_check_every"`
	CookieEarlyMargin time.Duration `json:"cookie_early_margin"`
	CookieBackoffMax  time.Duration `json:"cookie_backoff_max"`
}

// StorageConfig holds the asset storage configuration.
type StorageConfig struct {
	Backend       string `json:"backend"`
	MediaDir      string `json:"media_dir"`
	PublicBaseURL string `json:"public_base_url"`
}

// EventsConfig holds the status-change event publishing configuration.
type EventsConfig struct {
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
}

// SystemConfig holds the system configuration.
type SystemConfig struct {
	DatabasePath string `json:"database_path"`
	HTTPAddr     string `json:"http_addr"`
	LogLevel     string `json:"log_level"`
	LogPretty    bool   `json:"log_pretty"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Flow: FlowConfig{
			GenerateURL:        getEnvString("FLOW_API_GENERATE_URL", ""),
			StatusURL:          getEnvString("FLOW_API_STATUS_URL", ""),
			SessionURL:         getEnvString("FLOW_SESSION_URL", "https://labs.google/fx/api/auth/session"),
			ProjectID:          getEnvString("FLOW_PROJECT_ID", ""),
			DefaultVideoModel:  getEnvString("FLOW_DEFAULT_VIDEO_MODEL", "veo_3_1_t2v_fast_portrait"),
			DefaultAspectRatio: getEnvString("FLOW_DEFAULT_ASPECT_RATIO", "VIDEO_ASPECT_RATIO_PORTRAIT"),
			UserPaygateTier:    getEnvString("FLOW_USER_PAYGATE_TIER", "PAYGATE_TIER_ONE"),
			RequestTimeout:     getEnvDuration("FLOW_REQUEST_TIMEOUT", 30*time.Second),
			SessionTimeout:     getEnvDuration("FLOW_SESSION_TIMEOUT", 15*time.Second),
			LegacyBearerToken:  getEnvString("FLOW_LEGACY_BEARER_TOKEN", ""),
		},
		Accounts: AccountsConfig{
			Emails:           getEnvStrings("GOOGLE_EMAILS"),
			Passwords:        getEnvStrings("GOOGLE_PASSWORDS"),
			CookieFile:       getEnvString("FLOW_COOKIE_FILE", "./data/cookies.json"),
			ExpiryBuffer:     getEnvDuration("ACCOUNT_EXPIRY_BUFFER", 5*time.Minute),
			FailureThreshold: getEnvInt("ACCOUNT_FAILURE_THRESHOLD", 3),
			Cooldown:         getEnvDuration("ACCOUNT_COOLDOWN", 10*time.Minute),
			BrowserCommand:   getEnvString("FLOW_BROWSER_COMMAND", ""),
			BrowserTimeout:   getEnvDuration("FLOW_BROWSER_TIMEOUT", 5*time.Minute),
		},
		Queue: QueueConfig{
			Capacity:       getEnvInt("VIDEO_QUEUE_CAPACITY", 32),
			MaxPolls:       getEnvInt("VIDEO_STATUS_MAX_POLLS", 60),
			PollInterval:   getEnvDuration("VIDEO_STATUS_POLL_INTERVAL", 10*time.Second),
			LoadRetries:    getEnvInt("VIDEO_LOAD_RETRIES", 5),
			LoadRetryDelay: getEnvDuration("VIDEO_LOAD_RETRY_DELAY", 200*time.Millisecond),
		},
		Refresh: RefreshConfig{
			TokenMargin:       getEnvDuration("TOKEN_REFRESH_MARGIN", 60*time.Second),
			TokenFailureDelay: getEnvDuration("TOKEN_FAILURE_DELAY", 120*time.Second),
			TokenExpiredDelay: getEnvDuration("TOKEN_EXPIRED_RETRY_DELAY", 10*time.Second),
			CookieInterval:    getEnvDuration("COOKIE_REFRESH_INTERVAL", 21*time.Hour),
			CookieCheckEvery:  getEnvDuration("COOKIE_CHECK_INTERVAL", 5*time.Minute),
			CookieEarlyMargin: getEnvDuration("COOKIE_EARLY_MARGIN", 3*time.Hour),
			CookieBackoffMax:  getEnvDuration("COOKIE_BACKOFF_MAX", time.Hour),
		},
		Storage: StorageConfig{
			Backend:       getEnvString("MEDIA_STORAGE_BACKEND", "local"),
			MediaDir:      getEnvString("MEDIA_DIR", "./data/media"),
			PublicBaseURL: getEnvString("MEDIA_PUBLIC_BASE_URL", "/media"),
		},
		Events: EventsConfig{
			KafkaBrokers: getEnvStrings("KAFKA_BROKERS"),
			KafkaTopic:   getEnvString("KAFKA_TOPIC", "video.status-changed"),
		},
		System: SystemConfig{
			DatabasePath: getEnvString("DATABASE_PATH", "./data/flowvid.db"),
			HTTPAddr:     getEnvString("HTTP_ADDR", ":8080"),
			LogLevel:     getEnvString("LOG_LEVEL", "info"),
			LogPretty:    getEnvBool("LOG_PRETTY", false),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Flow.GenerateURL == "" {
		return fmt.Errorf("FLOW_API_GENERATE_URL is required")
	}
	if c.Flow.StatusURL == "" {
		return fmt.Errorf("FLOW_API_STATUS_URL is required")
	}
	if c.Flow.ProjectID == "" {
		return fmt.Errorf("FLOW_PROJECT_ID is required")
	}
	if len(c.Accounts.Emails) == 0 && c.Flow.LegacyBearerToken == "" {
		return fmt.Errorf("GOOGLE_EMAILS or FLOW_LEGACY_BEARER_TOKEN is required")
	}
	if len(c.Accounts.Emails) > 0 && len(c.Accounts.Emails) != len(c.Accounts.Passwords) {
		return fmt.Errorf("GOOGLE_EMAILS and GOOGLE_PASSWORDS must have the same number of entries, got %d and %d",
			len(c.Accounts.Emails), len(c.Accounts.Passwords))
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("VIDEO_QUEUE_CAPACITY must be positive")
	}
	if c.Queue.MaxPolls <= 0 {
		return fmt.Errorf("VIDEO_STATUS_MAX_POLLS must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default.
// Accepts Go duration strings ("90s", "21h") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvStrings gets a comma-separated list from environment variables,
// trimming whitespace and dropping empty entries.
func getEnvStrings(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	ret := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}
