package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	GeminiModel  string
	DatabaseURL  string
	HTTPPort     string
	LogMode      string
	LogLevel     string
	JWTSecret    string
	AdminEmails  []string

	BlobBackend       string
	BlobDir           string
	BlobPublicBaseURL string
	GCSBucket         string

	RedisAddr    string
	RedisChannel string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	OfferMatchMode string
	HistoryLimit   int
}

var AppConfig Config

// LoadConfig reads the environment (and an optional .env file) into AppConfig.
func LoadConfig() error {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func FromEnv() (Config, error) {
	cfg := Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		DatabaseURL:  getEnv("DATABASE_URL", "brofessor.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogMode:      getEnv("LOG_MODE", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		AdminEmails:  getEnvAsList("ADMIN_EMAILS"),

		BlobBackend:       strings.ToLower(getEnv("BLOB_BACKEND", "local")),
		BlobDir:           getEnv("BLOB_DIR", "data/files"),
		BlobPublicBaseURL: getEnv("BLOB_PUBLIC_BASE_URL", "http://localhost:8080/files"),
		GCSBucket:         getEnv("GCS_BUCKET", ""),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "notifications"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Brofessor"),

		OfferMatchMode: strings.ToLower(getEnv("OFFER_MATCH_MODE", "substring")),
		HistoryLimit:   getEnvAsInt("HISTORY_LIMIT", 0),
	}

	if cfg.GeminiAPIKey == "" {
		return cfg, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	switch cfg.BlobBackend {
	case "local":
	case "gcs":
		if cfg.GCSBucket == "" {
			return cfg, fmt.Errorf("GCS_BUCKET is required when BLOB_BACKEND=gcs")
		}
	default:
		return cfg, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
	if cfg.OfferMatchMode != "substring" && cfg.OfferMatchMode != "word" {
		return cfg, fmt.Errorf("unknown OFFER_MATCH_MODE %q", cfg.OfferMatchMode)
	}
	return cfg, nil
}

// IsAdminEmail reports whether email is listed in ADMIN_EMAILS (case-insensitive).
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
