package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string

	JWTSecret     string
	EncryptionKey string // secret used to derive the token encryption key

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleProjectID     string
	GooglePubSubTopic   string
	GoogleCredentials   string
	FirebaseCredentials string

	// AI provider settings
	AIProvider    string // "auto", "gemini", "ollama" or "openai"
	GeminiApiKey  string
	GeminiModel   string
	OllamaBaseURL string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	Sync           SyncConfig
	Classification ClassificationConfig

	IMAPTrashMailbox string
	WorkerCount      int
}

// SyncConfig holds the sync engine tunables
type SyncConfig struct {
	LookbackDays   int
	PageSize       int
	ChunkSize      int
	Budget         time.Duration
	SafetyMargin   time.Duration
	// ResumeInterval is how often parked runs are re-queued; zero disables it
	ResumeInterval time.Duration
}

// ClassificationConfig holds the classification engine tunables
type ClassificationConfig struct {
	MinAgeDays   int
	BatchCeiling int
	ChunkSize    int
	Threshold    float64
	SnippetLimit int
	ChunkTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=inboxjanitor port=5432 sslmode=disable"),

		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", "change-me-token-encryption-secret"),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:     getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:   getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GoogleCredentials:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		AIProvider:    getEnv("AI_PROVIDER", "auto"),
		GeminiApiKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		Sync: SyncConfig{
			LookbackDays:   getEnvInt("SYNC_LOOKBACK_DAYS", 90),
			PageSize:       getEnvInt("SYNC_PAGE_SIZE", 500),
			ChunkSize:      getEnvInt("SYNC_CHUNK_SIZE", 50),
			Budget:         getEnvDuration("SYNC_BUDGET", 300*time.Second),
			SafetyMargin:   getEnvDuration("SYNC_SAFETY_MARGIN", 50*time.Second),
			ResumeInterval: getEnvDuration("SYNC_RESUME_INTERVAL", 5*time.Minute),
		},
		Classification: ClassificationConfig{
			MinAgeDays:   getEnvInt("CLASSIFY_MIN_AGE_DAYS", 7),
			BatchCeiling: getEnvInt("CLASSIFY_BATCH_CEILING", 150),
			ChunkSize:    getEnvInt("CLASSIFY_CHUNK_SIZE", 50),
			Threshold:    getEnvFloat("CLASSIFY_THRESHOLD", 0.7),
			SnippetLimit: getEnvInt("CLASSIFY_SNIPPET_LIMIT", 200),
			ChunkTimeout: getEnvDuration("CLASSIFY_CHUNK_TIMEOUT", 90*time.Second),
		},

		IMAPTrashMailbox: getEnv("IMAP_TRASH_MAILBOX", "Trash"),
		WorkerCount:      getEnvInt("JANITOR_WORKERS", 2),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
