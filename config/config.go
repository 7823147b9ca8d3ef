package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is the only place the process environment is read; components receive
// the sub-structs they need.
type Config struct {
	Vision VisionConfig
	Submit SubmitConfig

	ReportCSVPath     string
	ReportDatabaseDSN string
	ValidateWorkers   int
	LogLevel          string
}

// VisionConfig configures the metadata completion stage and its model client.
type VisionConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	MaxImageBytes int64
	MaxImages     int

	// ReviewThreshold is the minimum per-field confidence for a proposed
	// required field to be accepted without review. Zero disables review.
	ReviewThreshold float64
	Concurrency     int
	RateLimitMs     int
	Timeout         time.Duration
}

// SubmitConfig configures the submission orchestrator and the browser session.
type SubmitConfig struct {
	SiteURL        string
	ListingURL     string
	ChromeBin      string
	RemoteURL      string
	Headless       bool
	UserDataDir    string
	MaxRetries     int
	StepTimeout    time.Duration
	SettleDelay    time.Duration
	ConfirmTimeout time.Duration
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	provider := getEnv("AI_MODEL_PROVIDER", "openai")
	return &Config{
		Vision: VisionConfig{
			Provider:        provider,
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			BaseURL:         getEnv("OPENAI_BASE_URL", ""),
			Model:           getEnv("VISION_MODEL", "gpt-4o"),
			MaxTokens:       getEnvInt("VISION_MAX_TOKENS", 1500),
			MaxImageBytes:   int64(getEnvInt("VISION_MAX_IMAGE_BYTES", 8<<20)),
			MaxImages:       getEnvInt("VISION_MAX_IMAGES", 4),
			ReviewThreshold: getEnvFloat("REVIEW_CONFIDENCE_THRESHOLD", 0.6),
			Concurrency:     getEnvInt("METADATA_CONCURRENCY", 1),
			RateLimitMs:     getEnvInt("METADATA_RATE_LIMIT_MS", 1500),
			Timeout:         getEnvDuration("VISION_TIMEOUT", 90*time.Second),
		},
		Submit: SubmitConfig{
			SiteURL:        getEnv("GRAILED_SITE_URL", "https://www.grailed.com"),
			ListingURL:     getEnv("GRAILED_LISTING_URL", "https://www.grailed.com/sell/new"),
			ChromeBin:      getEnv("CHROME_BIN", ""),
			RemoteURL:      getEnv("BROWSER_REMOTE_URL", ""),
			Headless:       getEnvBool("BROWSER_HEADLESS", false),
			UserDataDir:    getEnv("BROWSER_USER_DATA_DIR", ""),
			MaxRetries:     getEnvInt("MAX_RETRIES", 3),
			StepTimeout:    getEnvDuration("STEP_TIMEOUT", 45*time.Second),
			SettleDelay:    getEnvDuration("SETTLE_DELAY", 2*time.Second),
			ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 30*time.Second),
		},

		ReportCSVPath:     getEnv("REPORT_CSV_PATH", ""),
		ReportDatabaseDSN: getEnv("REPORT_DATABASE_DSN", ""),
		ValidateWorkers:   getEnvInt("VALIDATE_WORKERS", 4),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
