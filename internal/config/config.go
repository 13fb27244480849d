package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL    string
	UseMemoryStore bool
	AutoMigrate    bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	TenantJWTSecret  string
	TenantRatePerSec float64
	TenantRateBurst  int
	DefaultTimezone  string

	AdminToken         string
	CORSAllowedOrigins []string

	// Interpretation collaborator
	LLMProvider       string
	BedrockModelID    string
	GeminiAPIKey      string
	GeminiModelID     string
	InterpretTimeout  time.Duration
	InterpretCacheTTL time.Duration

	// Entity resolution / availability
	AttendantHonorifics  []string
	StrictAttendantMatch bool
	SuggestDefaultLimit  int
	SuggestMaxDays       int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AppointmentEventsQueueURL string
	ArchiveBucket             string
	EventWorkerCount          int
	EventDedupeTTL            time.Duration
	WorkerMetricsPort         string

	EmailProvider    string
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
}

// Load reads configuration from environment variables, after merging an
// optional .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),
		AutoMigrate:    getEnvAsBool("AUTO_MIGRATE", false),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TenantJWTSecret:  getEnv("TENANT_JWT_SECRET", ""),
		TenantRatePerSec: getEnvAsFloat("TENANT_RATE_PER_SEC", 5),
		TenantRateBurst:  getEnvAsInt("TENANT_RATE_BURST", 10),
		DefaultTimezone:  getEnv("DEFAULT_TIMEZONE", "UTC"),

		AdminToken:         getEnv("ADMIN_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		LLMProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		InterpretTimeout:  getEnvAsDuration("INTERPRET_TIMEOUT", 15*time.Second),
		InterpretCacheTTL: getEnvAsDuration("INTERPRET_CACHE_TTL", 10*time.Minute),

		AttendantHonorifics:  getEnvAsList("ATTENDANT_HONORIFICS", nil),
		StrictAttendantMatch: getEnvAsBool("STRICT_ATTENDANT_MATCH", false),
		SuggestDefaultLimit:  getEnvAsInt("SUGGEST_DEFAULT_LIMIT", 10),
		SuggestMaxDays:       getEnvAsInt("SUGGEST_MAX_DAYS", 31),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AppointmentEventsQueueURL: getEnv("APPOINTMENT_EVENTS_QUEUE_URL", ""),
		ArchiveBucket:             getEnv("APPOINTMENT_ARCHIVE_BUCKET", ""),
		EventWorkerCount:          getEnvAsInt("EVENT_WORKER_COUNT", 2),
		EventDedupeTTL:            getEnvAsDuration("EVENT_DEDUPE_TTL", 24*time.Hour),
		WorkerMetricsPort:         getEnv("WORKER_METRICS_PORT", "9091"),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Appointments"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
